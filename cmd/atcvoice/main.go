// atcvoice - Headless ATC voice client
//
// Architecture: Voice Server <--UDP (sealed DTOs)--> atcvoice <--frames--> audio files
//
// The client tunes the configured frequencies, mixes received voice with
// radio effects into headset and speaker outputs every 20ms, and transmits
// microphone audio while push-to-talk is held. SIGUSR1 toggles PTT and
// SIGUSR2 logs the radio state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dbehnke/atcvoice-go/internal/transport"
	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/cryptodto"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
	"github.com/dbehnke/atcvoice-go/pkg/log"
	"github.com/dbehnke/atcvoice-go/pkg/notify"
	"github.com/dbehnke/atcvoice-go/pkg/radio"
)

func main() {
	var (
		configFile = flag.String("config", "atcvoice.yaml", "Configuration file path (YAML)")
		genConfig  = flag.String("generate-config", "", "Write a sample configuration to this path and exit")
		logLevel   = flag.String("log-level", "", "Override the configured log level")
		callsign   = flag.String("callsign", "", "Override the configured callsign")
	)
	flag.Parse()

	if *genConfig != "" {
		if err := generateSampleConfig(*genConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample configuration written to %s\n", *genConfig)
		return
	}

	config, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		config.Logging.Level = *logLevel
	}
	if *callsign != "" {
		config.Client.Callsign = *callsign
	}

	lg := log.New(config.Logging.Level, config.Logging.Dir)

	fmt.Println("📻 atcvoice")
	fmt.Println("===========")
	fmt.Printf("🛫 Callsign: %s\n", config.Client.Callsign)
	fmt.Printf("📡 Voice server: %s\n", config.VoiceServer.Address)
	for _, r := range config.Radios {
		fmt.Printf("🎧 %s MHz %s\n", notify.FormatFrequency(r.Frequency), r.Station)
	}
	fmt.Printf("📝 Log file: %s\n", lg.LogFile)

	client, err := NewClient(config, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("🚀 Client started! SIGUSR1 toggles PTT, SIGUSR2 logs radio state")
	err = client.Run(ctx)
	if cerr := client.Close(); cerr != nil {
		lg.Errorf("error closing client: %v", cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Client stopped: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\n🛑 Client stopped")
}

// discardSink drops every frame
type discardSink struct{}

func (discardSink) PutAudioFrame(*audio.Frame) {}

// Client wires the radio stack to the voice channel and the local audio
type Client struct {
	config    *Config
	log       *log.Logger
	stack     *radio.Stack
	channel   *transport.UDPChannel
	heartbeat *transport.HeartbeatKeeper
	stations  *radio.StationCache
	hub       *notify.Hub
	notifiers []notify.Notifier

	headset audio.SampleSink
	speaker audio.SampleSink
	mic     *audio.FrameQueue
	closers []io.Closer
}

// NewClient builds the radio stack, the channel and the notifiers
func NewClient(config *Config, lg *log.Logger) (*Client, error) {
	c := &Client{
		config: config,
		log:    lg.With("component", "client"),
		mic:    audio.NewFrameQueue(50),
	}

	var resources *audio.EffectResources
	if config.Audio.Resources != "" {
		var err error
		if resources, err = audio.LoadEffectResourcesFile(config.Audio.Resources); err != nil {
			return nil, fmt.Errorf("failed to load effect resources: %w", err)
		}
	}

	stack, err := radio.New(&radio.Config{
		Callsign: config.Client.Callsign,
		Defaults: radio.Defaults{
			BypassEffects: !config.Audio.OutputEffects,
			HfSquelch:     config.Audio.HfSquelch,
		},
		MicVolume:    config.Audio.MicVolume,
		InputFilters: config.Audio.InputFilters,
		Bitrate:      config.Audio.Bitrate,
		Resources:    resources,
	}, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to create radio stack: %w", err)
	}
	c.stack = stack
	c.stations = radio.NewStationCache(radio.StaticStations(config.Stations), 0, 0)

	if err := c.setupChannel(); err != nil {
		return nil, err
	}
	if err := c.setupNotifiers(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.setupOutputs(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// setupChannel opens the voice channel and attaches it to the stack
func (c *Client) setupChannel() error {
	vs := &c.config.VoiceServer
	cc, err := channelConfig(vs)
	if err != nil {
		return err
	}

	cfg := transport.DefaultConfig()
	cfg.RemoteAddr = vs.Address
	c.channel = transport.NewUDPChannel(cfg, c.log)
	if err := c.channel.SetChannelConfig(cc); err != nil {
		return err
	}
	if vs.AllowCleartext {
		c.channel.EnableRxMode(cryptodto.ModeNone)
	}
	if err := c.channel.Open(); err != nil {
		return fmt.Errorf("failed to open voice channel: %w", err)
	}
	c.closers = append(c.closers, c.channel)

	c.stack.SetChannel(c.channel)
	c.heartbeat = transport.NewHeartbeatKeeper(c.channel, transport.HeartbeatConfig{
		Callsign: c.config.Client.Callsign,
		Interval: vs.HeartbeatInterval,
		Timeout:  vs.HeartbeatTimeout,
	}, c.log)
	return nil
}

// setupNotifiers creates the configured event notifiers and registers
// them with the stack
func (c *Client) setupNotifiers() error {
	n := &c.config.Notify
	if n.WebSocket.Listen != "" {
		c.hub = notify.NewHub(c.log, n.QueueSize, c.stack.Snapshot)
		c.hub.SetRegistration(c.registration)
		c.notifiers = append(c.notifiers, c.hub)
	}
	if n.MQTT.Enabled {
		p, err := notify.NewMQTTPublisher(&n.MQTT.MQTTConfig, c.log, n.QueueSize)
		if err != nil {
			return err
		}
		c.notifiers = append(c.notifiers, p)
	}
	if n.Discord.Enabled {
		d, err := notify.NewDiscordNotifier(&n.Discord.DiscordConfig, c.log, n.QueueSize, c.stack.Snapshot)
		if err != nil {
			return err
		}
		c.notifiers = append(c.notifiers, d)
	}
	for _, o := range c.notifiers {
		c.stack.AddObserver(o)
	}
	return nil
}

// openSink opens an output file. Raw sample dumps are written directly;
// anything else is encoded by ffmpeg.
func openSink(path string) (audio.SampleSink, io.Closer, error) {
	if path == "" {
		return discardSink{}, nil, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".f32", ".raw":
		f, err := os.Create(path)
		if err != nil {
			return nil, nil, err
		}
		return audio.NewRawFileSink(f), f, nil
	default:
		s, err := audio.NewFFmpegSink(path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

func (c *Client) setupOutputs() error {
	var closer io.Closer
	var err error
	if c.headset, closer, err = openSink(c.config.Audio.HeadsetOutput); err != nil {
		return fmt.Errorf("failed to open headset output: %w", err)
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	if c.speaker, closer, err = openSink(c.config.Audio.SpeakerOutput); err != nil {
		return fmt.Errorf("failed to open speaker output: %w", err)
	}
	if closer != nil {
		c.closers = append(c.closers, closer)
	}
	return nil
}

// tuneRadios adds the configured frequencies and fetches their
// transceivers
func (c *Client) tuneRadios(ctx context.Context) {
	cl := c.config.Client
	c.stack.SetClientPosition(cl.Latitude, cl.Longitude, cl.AltitudeMslM, cl.AltitudeAglM)

	for _, r := range c.config.Radios {
		hw, _ := audio.ParseHardware(r.Hardware)
		ch, _ := radio.ParsePlaybackChannel(r.Channel)
		if !c.stack.AddFrequency(r.Frequency, !r.Speaker, r.Station, hw, ch) {
			continue
		}
		c.stack.SetRx(r.Frequency, !r.Muted)
		c.stack.SetTx(r.Frequency, r.Tx)
		c.stack.SetXc(r.Frequency, r.Xc)
		if r.CrossCoupleAcross {
			c.stack.SetCrossCoupleAcross(r.Frequency, true)
		}
		if r.Gain > 0 {
			c.stack.SetGain(r.Frequency, r.Gain)
		}

		if r.Station == "" {
			continue
		}
		if err := c.stations.Apply(ctx, c.stack, r.Station); err != nil {
			if errors.Is(err, radio.ErrUnknownStation) {
				c.log.Debug("no transceivers for station, using client position", "station", r.Station)
			} else {
				c.log.Warn("station lookup failed", "station", r.Station, "error", err)
			}
		}
	}

	transceivers, groups := c.registration()
	c.log.Info("transceivers registered", "transceivers", len(transceivers), "crossCoupleGroups", len(groups))
	for _, t := range transceivers {
		c.log.Debug("transceiver", "id", t.ID, "frequency", t.Frequency, "lat", t.LatDeg, "lon", t.LonDeg, "msl", t.HeightMslM, "agl", t.HeightAglM)
	}
	for _, g := range groups {
		c.log.Debug("cross-couple group", "id", g.ID, "transceivers", g.TransceiverIDs)
	}
}

// registration returns the transceivers and cross-couple groups of the
// tuned frequencies
func (c *Client) registration() ([]dto.Transceiver, []dto.CrossCoupleGroup) {
	return c.stack.MakeTransceiverDto(), c.stack.MakeCrossCoupleGroupDto()
}

// Run runs every component until ctx is done or one of them fails
func (c *Client) Run(ctx context.Context) error {
	var mic audio.SampleSource
	if c.config.Audio.MicInput != "" {
		src, err := audio.NewFFmpegSource(ctx, c.config.Audio.MicInput)
		if err != nil {
			return fmt.Errorf("failed to open mic input: %w", err)
		}
		c.closers = append(c.closers, src)
		mic = src
	}

	c.tuneRadios(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.channel.Start(ctx) })
	g.Go(func() error { return c.heartbeat.Run(ctx) })
	g.Go(func() error { return c.stack.Run(ctx) })
	g.Go(func() error { return c.deviceClock(ctx) })
	g.Go(func() error { return c.handleSignals(ctx) })
	if mic != nil {
		g.Go(func() error { return feedMic(ctx, mic, c.mic) })
	}

	for _, n := range c.notifiers {
		g.Go(func() error { return n.Run(ctx) })
	}

	if addr := c.config.Metrics.Listen; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		g.Go(func() error { return serveHTTP(ctx, addr, mux) })
	}
	if c.hub != nil {
		mux := http.NewServeMux()
		mux.Handle(c.config.Notify.WebSocket.Path, c.hub)
		addr := c.config.Notify.WebSocket.Listen
		g.Go(func() error { return serveHTTP(ctx, addr, mux) })
	}

	return g.Wait()
}

// deviceClock stands in for the sound card: it pulls the headset and
// speaker mixes and pushes one microphone frame every frame period
func (c *Client) deviceClock(ctx context.Context) error {
	ticker := time.NewTicker(audio.FrameLengthMs * time.Millisecond)
	defer ticker.Stop()

	var stereo audio.StereoFrame
	var headset, speaker, mic audio.Frame
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		c.stack.HeadsetFrame(&stereo)
		downmix(&stereo, &headset)
		c.headset.PutAudioFrame(&headset)

		c.stack.SpeakerFrame(&speaker)
		c.speaker.PutAudioFrame(&speaker)

		if c.mic.AudioFrame(&mic) != audio.SourceOK {
			mic = audio.Frame{}
		}
		c.stack.PutAudioFrame(&mic)
	}
}

// downmix averages the two ears of an interleaved frame
func downmix(in *audio.StereoFrame, out *audio.Frame) {
	for i := range out {
		out[i] = (in[2*i] + in[2*i+1]) * 0.5
	}
}

// feedMic copies frames from src into q until src ends
func feedMic(ctx context.Context, src audio.SampleSource, q *audio.FrameQueue) error {
	var f audio.Frame
	for ctx.Err() == nil {
		if src.AudioFrame(&f) != audio.SourceOK {
			return nil
		}
		q.PutAudioFrame(&f)
	}
	return ctx.Err()
}

// handleSignals toggles PTT on SIGUSR1 and logs the radio state on SIGUSR2
func (c *Client) handleSignals(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-sigChan:
			switch sig {
			case syscall.SIGUSR1:
				ptt := !c.stack.Ptt()
				c.stack.SetPtt(ptt)
				c.log.Info("push to talk", "pressed", ptt)
			case syscall.SIGUSR2:
				c.logState()
			}
		}
	}
}

func (c *Client) logState() {
	for _, f := range c.stack.Snapshot() {
		c.log.Info("radio",
			"frequency", notify.FormatFrequency(f.Frequency),
			"station", f.StationName,
			"rx", f.Rx, "tx", f.Tx, "xc", f.Xc || f.CrossCoupleAcross,
			"receiving", f.Receiving,
			"live", f.LiveCallsigns,
			"last", f.LastTransmitCallsign)
	}
	c.log.Info("audio", "vu", c.stack.Vu(), "peak", c.stack.Peak(),
		"streams", c.stack.IncomingStreams(), "txSequence", c.stack.TxSequence())
}

// serveHTTP runs an HTTP server until ctx is done
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server on %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

// Close releases the channel and the audio files
func (c *Client) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
