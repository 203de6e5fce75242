// Package notify delivers alert messages to chat and desktop backends.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/ratewatch/ratewatch/internal/core"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 10 * time.Second

// Notifier delivers a formatted message.
type Notifier interface {
	Send(ctx context.Context, message string) error
	Name() string
}

// Formatter is implemented by backends that render alerts in their own markup.
type Formatter interface {
	FormatAlert(alert Alert) string
}

// Alert carries the values rendered into an alert message.
type Alert struct {
	API              string
	Remaining        int
	Limit            int
	UsagePercent     float64
	ThresholdPercent float64
	At               time.Time
}

// NewAlert builds an Alert from a sample that crossed its threshold.
func NewAlert(api core.MonitoredAPI, sample core.UsageSample, thresholdPercent float64, at time.Time) Alert {
	return Alert{
		API:              api.Name,
		Remaining:        sample.Remaining,
		Limit:            sample.Limit,
		UsagePercent:     sample.UsagePercent(),
		ThresholdPercent: thresholdPercent,
		At:               at,
	}
}

// Style selects how labels are emphasised.
type Style int

const (
	StylePlain Style = iota
	StyleSlack
	StyleDiscord
)

const criticalPercent = 95.0

// FormatAlert renders the alert text for the given style.
func FormatAlert(alert Alert, style Style) string {
	label := func(s string) string {
		switch style {
		case StyleSlack:
			return "*" + s + "*"
		case StyleDiscord:
			return "**" + s + "**"
		default:
			return s
		}
	}

	emoji := "🚨"
	if alert.UsagePercent < criticalPercent {
		emoji = "⚠️"
	}

	lines := []string{
		fmt.Sprintf("%s %s", emoji, label("Rate Limit Alert")),
		fmt.Sprintf("%s %s", label("API:"), alert.API),
		fmt.Sprintf("%s %s / %s", label("Remaining:"), humanize.Comma(int64(alert.Remaining)), humanize.Comma(int64(alert.Limit))),
		fmt.Sprintf("%s %.1f%%", label("Usage:"), alert.UsagePercent),
		fmt.Sprintf("%s %.1f%%", label("Threshold:"), alert.ThresholdPercent),
		fmt.Sprintf("%s %s", label("Time:"), alert.At.UTC().Format("2006-01-02 15:04:05 UTC")),
	}
	return strings.Join(lines, "\n")
}

// Render formats alert for n, using its own markup when it has one.
func Render(n Notifier, alert Alert) string {
	if f, ok := n.(Formatter); ok {
		return f.FormatAlert(alert)
	}
	return FormatAlert(alert, StylePlain)
}

// Settings selects and configures the notification backend.
type Settings struct {
	Slack   SlackSettings
	Discord DiscordSettings
	Desktop bool
	Timeout time.Duration
}

type SlackSettings struct {
	BotToken  string
	ChannelID string
}

type DiscordSettings struct {
	BotToken  string
	ChannelID string
}

// ErrBackendSelection is returned when zero or several backends are configured.
var ErrBackendSelection = errors.New("exactly one notification backend must be configured")

// Backends lists the backends with any setting present.
func (s Settings) Backends() []string {
	var names []string
	if s.Slack.BotToken != "" || s.Slack.ChannelID != "" {
		names = append(names, slackName)
	}
	if s.Discord.BotToken != "" || s.Discord.ChannelID != "" {
		names = append(names, discordName)
	}
	if s.Desktop {
		names = append(names, desktopName)
	}
	return names
}

// Validate checks that exactly one backend is configured with complete credentials.
func (s Settings) Validate() error {
	backends := s.Backends()
	switch len(backends) {
	case 0:
		return fmt.Errorf("%w: none configured (set SLACK_BOT_TOKEN/SLACK_CHANNEL_ID, DISCORD_BOT_TOKEN/DISCORD_CHANNEL_ID, or enable desktop notifications)", ErrBackendSelection)
	case 1:
	default:
		return fmt.Errorf("%w: found %s", ErrBackendSelection, strings.Join(backends, ", "))
	}

	switch backends[0] {
	case slackName:
		if strings.TrimSpace(s.Slack.BotToken) == "" || strings.TrimSpace(s.Slack.ChannelID) == "" {
			return errors.New("slack requires both bot token and channel id")
		}
	case discordName:
		if strings.TrimSpace(s.Discord.BotToken) == "" || strings.TrimSpace(s.Discord.ChannelID) == "" {
			return errors.New("discord requires both bot token and channel id")
		}
	}
	return nil
}

// New builds the single configured backend.
func New(s Settings) (Notifier, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch s.Backends()[0] {
	case slackName:
		return NewSlack(s.Slack.BotToken, s.Slack.ChannelID, timeout), nil
	case discordName:
		return NewDiscord(s.Discord.BotToken, s.Discord.ChannelID, timeout), nil
	default:
		return NewDesktop(), nil
	}
}
