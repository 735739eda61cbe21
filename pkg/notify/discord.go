package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dbehnke/atcvoice-go/pkg/log"
	"github.com/dbehnke/atcvoice-go/pkg/radio"
)

// DiscordConfig holds Discord bot configuration
type DiscordConfig struct {
	Token     string `yaml:"token"`      // Discord bot token
	ChannelID string `yaml:"channel_id"` // Text channel for notices

	// StationEvents also posts StationRxBegin/End, not just frequency
	// level transitions
	StationEvents bool `yaml:"station_events"`
}

// DiscordNotifier posts radio activity to a Discord text channel and
// answers a few status commands there
type DiscordNotifier struct {
	session  *discordgo.Session
	config   *DiscordConfig
	log      *log.Logger
	queue    *queue
	snapshot func() []radio.FrequencySnapshot

	mutex   sync.Mutex
	running bool
}

// NewDiscordNotifier creates a notifier. snapshot feeds the !status
// command and may be nil.
func NewDiscordNotifier(config *DiscordConfig, lg *log.Logger, queueSize int, snapshot func() []radio.FrequencySnapshot) (*DiscordNotifier, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("Discord bot token is required")
	}
	if config.ChannelID == "" {
		return nil, fmt.Errorf("Discord channel ID is required")
	}

	session, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	d := &DiscordNotifier{
		session:  session,
		config:   config,
		log:      lg.With("component", "discord"),
		queue:    newQueue(queueSize),
		snapshot: snapshot,
	}
	session.AddHandler(d.onReady)
	session.AddHandler(d.onMessageCreate)
	return d, nil
}

// onReady handles the ready event when the bot connects
func (d *DiscordNotifier) onReady(s *discordgo.Session, event *discordgo.Ready) {
	d.log.Info("discord bot ready", "user", event.User.Username)
	if err := s.UpdateGameStatus(0, "ATC radio 📻"); err != nil {
		d.log.Warn("failed to set status", "error", err)
	}
}

// onMessageCreate handles commands posted in the notice channel
func (d *DiscordNotifier) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if m.ChannelID != d.config.ChannelID {
		return
	}

	var reply string
	switch strings.TrimSpace(m.Content) {
	case "!status":
		var snap []radio.FrequencySnapshot
		if d.snapshot != nil {
			snap = d.snapshot()
		}
		reply = formatStatus(snap)
	case "!help":
		reply = "Commands: !status, !help"
	default:
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		d.log.Warn("failed to send reply", "error", err)
	}
}

// OnRadioEvent queues ev for posting
func (d *DiscordNotifier) OnRadioEvent(ev radio.Event) {
	if !d.config.StationEvents && (ev.Type == radio.StationRxBegin || ev.Type == radio.StationRxEnd) {
		return
	}
	d.queue.push(NewMessage(ev, time.Now()))
}

// Dropped returns how many events overflowed the queue
func (d *DiscordNotifier) Dropped() uint64 {
	return d.queue.Dropped()
}

// Run opens the session and posts queued events until ctx is done
func (d *DiscordNotifier) Run(ctx context.Context) error {
	d.mutex.Lock()
	if d.running {
		d.mutex.Unlock()
		return fmt.Errorf("discord notifier is already running")
	}
	if err := d.session.Open(); err != nil {
		d.mutex.Unlock()
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	d.running = true
	d.mutex.Unlock()
	d.log.Info("discord notifier started", "channel", d.config.ChannelID)

	defer func() {
		d.mutex.Lock()
		d.running = false
		d.mutex.Unlock()
		if err := d.session.Close(); err != nil {
			d.log.Warn("error closing Discord session", "error", err)
		}
		d.log.Info("discord notifier stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-d.queue.ch:
			if _, err := d.session.ChannelMessageSend(d.config.ChannelID, formatNotice(msg)); err != nil {
				d.log.Warn("failed to post notice", "error", err)
			}
		}
	}
}

// formatNotice renders one event as a chat line
func formatNotice(msg Message) string {
	switch msg.Type {
	case radio.FrequencyRxBegin.String():
		return fmt.Sprintf("📻 %s MHz: receiving", msg.FrequencyMHz)
	case radio.FrequencyRxEnd.String():
		return fmt.Sprintf("🔇 %s MHz: quiet", msg.FrequencyMHz)
	case radio.StationRxBegin.String():
		return fmt.Sprintf("🎙️ %s MHz: %s transmitting", msg.FrequencyMHz, msg.Callsign)
	case radio.StationRxEnd.String():
		return fmt.Sprintf("✅ %s MHz: %s finished", msg.FrequencyMHz, msg.Callsign)
	default:
		return fmt.Sprintf("%s MHz: %s %s", msg.FrequencyMHz, msg.Type, msg.Callsign)
	}
}

// formatStatus summarises the tuned frequencies for !status
func formatStatus(snap []radio.FrequencySnapshot) string {
	if len(snap) == 0 {
		return "No frequencies tuned"
	}
	var b strings.Builder
	for i, f := range snap {
		if i > 0 {
			b.WriteByte('\n')
		}
		flags := make([]string, 0, 3)
		if f.Rx {
			flags = append(flags, "RX")
		}
		if f.Tx {
			flags = append(flags, "TX")
		}
		if f.Xc || f.CrossCoupleAcross {
			flags = append(flags, "XC")
		}
		fmt.Fprintf(&b, "%s MHz %s [%s]", FormatFrequency(f.Frequency), f.StationName, strings.Join(flags, " "))
		if len(f.LiveCallsigns) > 0 {
			fmt.Fprintf(&b, " live: %s", strings.Join(f.LiveCallsigns, ", "))
		}
	}
	return b.String()
}
