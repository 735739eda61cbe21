package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/codec"
	"github.com/dbehnke/atcvoice-go/pkg/cryptodto"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
	"github.com/dbehnke/atcvoice-go/pkg/notify"
	"github.com/dbehnke/atcvoice-go/pkg/radio"
)

// Config holds the client configuration
type Config struct {
	VoiceServer VoiceServerConfig `yaml:"voice_server"`
	Client      ClientConfig      `yaml:"client"`
	Radios      []RadioConfig     `yaml:"radios"`
	Audio       AudioConfig       `yaml:"audio"`

	// Stations is the static transceiver table used by the station lookup
	Stations map[string][]dto.StationTransceiver `yaml:"stations"`

	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Notify  NotifyConfig  `yaml:"notify"`
}

// VoiceServerConfig defines the voice channel endpoint and keys
type VoiceServerConfig struct {
	Address    string `yaml:"address"`
	ChannelTag string `yaml:"channel_tag"` // generated when empty
	// Keys are 32 bytes, hex encoded
	TransmitKey string `yaml:"transmit_key"`
	ReceiveKey  string `yaml:"receive_key"`
	// AllowCleartext also accepts unsealed datagrams
	AllowCleartext    bool          `yaml:"allow_cleartext"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
}

// ClientConfig identifies the client and its position
type ClientConfig struct {
	Callsign     string  `yaml:"callsign"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	AltitudeMslM float64 `yaml:"altitude_msl_m"`
	AltitudeAglM float64 `yaml:"altitude_agl_m"`
}

// RadioConfig is one frequency tuned at startup
type RadioConfig struct {
	Frequency         uint32  `yaml:"frequency"` // Hz
	Station           string  `yaml:"station"`
	Hardware          string  `yaml:"hardware"`
	Channel           string  `yaml:"channel"` // "left", "right", "both"
	Speaker           bool    `yaml:"speaker"`
	Muted             bool    `yaml:"muted"` // receive disabled
	Tx                bool    `yaml:"tx"`
	Xc                bool    `yaml:"xc"`
	CrossCoupleAcross bool    `yaml:"cross_couple_across"`
	Gain              float32 `yaml:"gain"`
}

// AudioConfig defines audio processing and device settings
type AudioConfig struct {
	MicVolume     float32 `yaml:"mic_volume"`
	InputFilters  bool    `yaml:"input_filters"`
	OutputEffects bool    `yaml:"output_effects"`
	HfSquelch     bool    `yaml:"hf_squelch"`
	Bitrate       int     `yaml:"bitrate"`
	// Resources is a zstd effect bundle; synthesized effects when empty
	Resources string `yaml:"resources"`
	// MicInput is any file ffmpeg can decode; silence when empty
	MicInput string `yaml:"mic_input"`
	// Outputs are .f32/.raw sample dumps or any file ffmpeg can encode;
	// discarded when empty
	HeadsetOutput string `yaml:"headset_output"`
	SpeakerOutput string `yaml:"speaker_output"`
}

// LoggingConfig controls the log file
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables
}

// NotifyConfig selects the event notifiers
type NotifyConfig struct {
	QueueSize int              `yaml:"queue_size"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	MQTT      MQTTNotifyConfig `yaml:"mqtt"`
	Discord   DiscordNotify    `yaml:"discord"`
}

// WebSocketConfig serves events to WebSocket clients
type WebSocketConfig struct {
	Listen string `yaml:"listen"` // empty disables
	Path   string `yaml:"path"`
}

// MQTTNotifyConfig publishes events to a broker
type MQTTNotifyConfig struct {
	Enabled bool `yaml:"enabled"`

	notify.MQTTConfig `yaml:",inline"`
}

// DiscordNotify posts events to a Discord channel
type DiscordNotify struct {
	Enabled bool `yaml:"enabled"`

	notify.DiscordConfig `yaml:",inline"`
}

// Default configuration
func defaultConfig() *Config {
	rc := radio.DefaultConfig()
	return &Config{
		VoiceServer: VoiceServerConfig{
			Address:           "127.0.0.1:50000",
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  45 * time.Second,
		},
		Client: ClientConfig{
			Callsign: "EGLL_TWR",
		},
		Radios: []RadioConfig{
			{
				Frequency: 118500000,
				Station:   "EGLL_TWR",
				Hardware:  audio.SchmidED137B.String(),
				Channel:   "both",
				Tx:        true,
			},
		},
		Audio: AudioConfig{
			MicVolume:     rc.MicVolume,
			InputFilters:  rc.InputFilters,
			OutputEffects: true,
			Bitrate:       codec.DefaultBitrate,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
		Notify: NotifyConfig{
			QueueSize: notify.DefaultQueueSize,
			WebSocket: WebSocketConfig{Path: "/events"},
			MQTT:      MQTTNotifyConfig{MQTTConfig: *notify.DefaultMQTTConfig()},
		},
	}
}

// loadConfig reads a YAML file over the defaults and validates it
func loadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	config := defaultConfig()
	// A radios list in the file replaces the default one
	config.Radios = nil
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// validateConfig checks the configuration and fills generated values
func validateConfig(c *Config) error {
	if c.VoiceServer.Address == "" {
		return fmt.Errorf("voice_server.address is required")
	}
	if c.VoiceServer.ChannelTag == "" {
		c.VoiceServer.ChannelTag = uuid.NewString()
	}
	if _, err := channelConfig(&c.VoiceServer); err != nil {
		return err
	}
	if c.VoiceServer.HeartbeatInterval <= 0 || c.VoiceServer.HeartbeatTimeout <= c.VoiceServer.HeartbeatInterval {
		return fmt.Errorf("heartbeat timeout must exceed a positive interval")
	}
	if strings.TrimSpace(c.Client.Callsign) == "" {
		return fmt.Errorf("client.callsign is required")
	}
	if c.Audio.MicVolume < 0 {
		return fmt.Errorf("audio.mic_volume must not be negative")
	}

	seen := make(map[uint32]bool, len(c.Radios))
	for i, r := range c.Radios {
		if r.Frequency == 0 {
			return fmt.Errorf("radios[%d]: frequency is required", i)
		}
		if seen[r.Frequency] {
			return fmt.Errorf("radios[%d]: frequency %d listed twice", i, r.Frequency)
		}
		seen[r.Frequency] = true
		if _, err := audio.ParseHardware(r.Hardware); err != nil {
			return fmt.Errorf("radios[%d]: %w", i, err)
		}
		if _, err := radio.ParsePlaybackChannel(r.Channel); err != nil {
			return fmt.Errorf("radios[%d]: %w", i, err)
		}
		if r.Gain < 0 {
			return fmt.Errorf("radios[%d]: gain must not be negative", i)
		}
	}

	if c.Notify.MQTT.Enabled && c.Notify.MQTT.Broker == "" {
		return fmt.Errorf("notify.mqtt.broker is required when mqtt is enabled")
	}
	if c.Notify.Discord.Enabled && (c.Notify.Discord.Token == "" || c.Notify.Discord.ChannelID == "") {
		return fmt.Errorf("notify.discord needs a token and channel_id when enabled")
	}
	return nil
}

// channelConfig decodes the voice server keys
func channelConfig(v *VoiceServerConfig) (cryptodto.ChannelConfig, error) {
	tx, err := hex.DecodeString(v.TransmitKey)
	if err != nil {
		return cryptodto.ChannelConfig{}, fmt.Errorf("voice_server.transmit_key: %w", err)
	}
	rx, err := hex.DecodeString(v.ReceiveKey)
	if err != nil {
		return cryptodto.ChannelConfig{}, fmt.Errorf("voice_server.receive_key: %w", err)
	}
	cc := cryptodto.ChannelConfig{
		ChannelTag:      v.ChannelTag,
		AeadTransmitKey: tx,
		AeadReceiveKey:  rx,
	}
	if err := cc.Validate(); err != nil {
		return cryptodto.ChannelConfig{}, fmt.Errorf("voice_server: %w", err)
	}
	return cc, nil
}

// generateSampleConfig writes a sample configuration with fresh keys
func generateSampleConfig(filename string) error {
	config := defaultConfig()
	config.VoiceServer.ChannelTag = uuid.NewString()
	config.VoiceServer.TransmitKey = hex.EncodeToString(randomKey())
	config.VoiceServer.ReceiveKey = hex.EncodeToString(randomKey())
	config.Stations = map[string][]dto.StationTransceiver{
		"EGLL_TWR": {
			{ID: "EGLL_TWR_1", Name: "Heathrow Tower", LatDeg: 51.4775, LonDeg: -0.4614, HeightMslM: 25, HeightAglM: 15},
		},
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func randomKey() []byte {
	key := make([]byte, cryptodto.KeySize)
	rand.Read(key)
	return key
}
