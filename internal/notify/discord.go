package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"

	"github.com/ratewatch/ratewatch/internal/core"
)

const (
	discordName = "discord"

	// Discord rejects message content longer than this many characters.
	discordMaxContent = 2000
)

// DiscordNotifier posts to a channel through the REST API with a bot token.
// No gateway connection is opened.
type DiscordNotifier struct {
	Token     string
	ChannelID string
	Client    *http.Client
}

func NewDiscord(token, channelID string, timeout time.Duration) *DiscordNotifier {
	return &DiscordNotifier{
		Token:     token,
		ChannelID: channelID,
		Client:    &http.Client{Timeout: timeout},
	}
}

func (d *DiscordNotifier) Name() string { return discordName }

func (d *DiscordNotifier) FormatAlert(alert Alert) string {
	return FormatAlert(alert, StyleDiscord)
}

func (d *DiscordNotifier) Send(ctx context.Context, message string) error {
	if d == nil || d.Token == "" || d.ChannelID == "" {
		return fmt.Errorf("%w: discord notifier is not configured", core.ErrNotify)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session, err := discordgo.New("Bot " + d.Token)
	if err != nil {
		return fmt.Errorf("%w: discord session: %v", core.ErrNotify, err)
	}
	session.Client = d.client()
	// One delivery attempt per alert.
	session.ShouldRetryOnRateLimit = false
	session.MaxRestRetries = 0

	content := truncateRunes(message, discordMaxContent)
	if _, err := session.ChannelMessageSend(d.ChannelID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("%w: discord error: %v", core.ErrNotify, err)
	}
	return nil
}

func (d *DiscordNotifier) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}

// truncateRunes cuts s to at most limit characters without splitting one.
func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
