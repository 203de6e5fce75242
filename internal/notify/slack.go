package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/ratewatch/ratewatch/internal/core"
)

const slackName = "slack"

// SlackNotifier posts messages with chat.postMessage using a bot token.
type SlackNotifier struct {
	Token     string
	ChannelID string
	// BaseURL overrides the Web API root (tests, Slack-compatible gateways).
	BaseURL string
	Client  *http.Client
}

func NewSlack(token, channelID string, timeout time.Duration) *SlackNotifier {
	return &SlackNotifier{
		Token:     token,
		ChannelID: channelID,
		Client:    &http.Client{Timeout: timeout},
	}
}

func (s *SlackNotifier) Name() string { return slackName }

func (s *SlackNotifier) FormatAlert(alert Alert) string {
	return FormatAlert(alert, StyleSlack)
}

// Send posts message to the configured channel. Slack answers most failures
// with HTTP 200 and ok=false; the client surfaces those as errors.
func (s *SlackNotifier) Send(ctx context.Context, message string) error {
	if s == nil || s.Token == "" || s.ChannelID == "" {
		return fmt.Errorf("%w: slack notifier is not configured", core.ErrNotify)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, _, err := s.api().PostMessageContext(ctx, s.ChannelID, slack.MsgOptionText(message, false)); err != nil {
		return fmt.Errorf("%w: slack error: %v", core.ErrNotify, err)
	}
	return nil
}

func (s *SlackNotifier) api() *slack.Client {
	opts := []slack.Option{slack.OptionHTTPClient(s.client())}
	if base := strings.TrimSpace(s.BaseURL); base != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(base, "/")+"/"))
	}
	return slack.New(s.Token, opts...)
}

func (s *SlackNotifier) client() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: DefaultTimeout}
}
