package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/ratewatch/ratewatch/internal/core"
)

func sampleAlert() Alert {
	api := core.MonitoredAPI{Name: "GitHub", Endpoint: "https://api.github.com/rate_limit"}
	sample := core.UsageSample{APIName: "GitHub", Remaining: 45, Limit: 5000}
	return NewAlert(api, sample, 95, time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
}

func TestFormatAlertPlain(t *testing.T) {
	expected := "🚨 Rate Limit Alert\n" +
		"API: GitHub\n" +
		"Remaining: 45 / 5,000\n" +
		"Usage: 99.1%\n" +
		"Threshold: 95.0%\n" +
		"Time: 2025-01-01 12:00:00 UTC"
	require.Equal(t, expected, FormatAlert(sampleAlert(), StylePlain))
}

func TestFormatAlertStyles(t *testing.T) {
	slack := FormatAlert(sampleAlert(), StyleSlack)
	require.Contains(t, slack, "*Rate Limit Alert*")
	require.Contains(t, slack, "*API:* GitHub")

	discord := FormatAlert(sampleAlert(), StyleDiscord)
	require.Contains(t, discord, "**Remaining:** 45 / 5,000")

	warning := sampleAlert()
	warning.UsagePercent = 90
	require.Contains(t, FormatAlert(warning, StylePlain), "⚠️ Rate Limit Alert")
}

// slackToken accepts the bot token from either the Authorization header or
// the form body, since both are valid for the Web API.
func slackToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.FormValue("token")
}

func TestSlackSend(t *testing.T) {
	var channel, text, token string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat.postMessage", r.URL.Path)
		require.NoError(t, r.ParseForm())
		channel, text, token = r.FormValue("channel"), r.FormValue("text"), slackToken(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"channel":"C123","ts":"1700000000.000100"}`))
	}))
	defer server.Close()

	n := NewSlack("xoxb-test", "C123", time.Second)
	n.BaseURL = server.URL
	require.NoError(t, n.Send(context.Background(), "hello"))
	require.Equal(t, "C123", channel)
	require.Equal(t, "hello", text)
	require.Equal(t, "xoxb-test", token)
}

func TestSlackSendReportsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	}))
	defer server.Close()

	n := NewSlack("xoxb-test", "C123", time.Second)
	n.BaseURL = server.URL
	err := n.Send(context.Background(), "hello")
	require.Error(t, err)
	require.True(t, errors.Is(err, core.ErrNotify))
	require.Contains(t, err.Error(), "channel_not_found")
}

// redirectTransport sends every request to target, keeping the path.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = rt.target.Scheme
	r.URL.Host = rt.target.Host
	r.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(r)
}

func discordAt(t *testing.T, server *httptest.Server) *DiscordNotifier {
	t.Helper()
	target, err := url.Parse(server.URL)
	require.NoError(t, err)
	n := NewDiscord("discord-token", "987", time.Second)
	n.Client = &http.Client{Timeout: time.Second, Transport: redirectTransport{target: target}}
	return n
}

func TestDiscordSend(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.True(t, strings.HasSuffix(r.URL.Path, "/channels/987/messages"), r.URL.Path)
		require.Equal(t, "Bot discord-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","channel_id":"987","content":"hello"}`))
	}))
	defer server.Close()

	require.NoError(t, discordAt(t, server).Send(context.Background(), "hello"))
	require.Equal(t, "hello", got["content"])
}

func TestDiscordSendStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Missing Access","code":50001}`))
	}))
	defer server.Close()

	err := discordAt(t, server).Send(context.Background(), "hello")
	require.ErrorIs(t, err, core.ErrNotify)
	require.Contains(t, err.Error(), "403")
}

func TestDiscordSendTruncatesOnCharacterBoundary(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","channel_id":"987"}`))
	}))
	defer server.Close()

	message := "🚨" + strings.Repeat("é", discordMaxContent)
	require.NoError(t, discordAt(t, server).Send(context.Background(), message))

	content, ok := got["content"].(string)
	require.True(t, ok)
	require.True(t, utf8.ValidString(content))
	require.Equal(t, discordMaxContent, utf8.RuneCountInString(content))
	require.True(t, strings.HasPrefix(content, "🚨é"))
}

func TestTruncateRunes(t *testing.T) {
	require.Equal(t, "short", truncateRunes("short", 10))
	require.Equal(t, "🚨é", truncateRunes("🚨éé", 2))
	require.Equal(t, strings.Repeat("é", 3), truncateRunes(strings.Repeat("é", 5), 3))
}

func TestDesktopSendSplitsTitle(t *testing.T) {
	var title, body string
	n := &DesktopNotifier{Notify: func(t, m string, _ any) error {
		title, body = t, m
		return nil
	}}
	require.NoError(t, n.Send(context.Background(), "first\nsecond\nthird"))
	require.Equal(t, "first", title)
	require.Equal(t, "second\nthird", body)
}

func TestNewSelectsExactlyOneBackend(t *testing.T) {
	_, err := New(Settings{})
	require.ErrorIs(t, err, ErrBackendSelection)

	_, err = New(Settings{
		Slack:   SlackSettings{BotToken: "a", ChannelID: "b"},
		Discord: DiscordSettings{BotToken: "c", ChannelID: "d"},
	})
	require.ErrorIs(t, err, ErrBackendSelection)

	_, err = New(Settings{Slack: SlackSettings{BotToken: "a"}})
	require.Error(t, err)

	n, err := New(Settings{Discord: DiscordSettings{BotToken: "c", ChannelID: "d"}})
	require.NoError(t, err)
	require.Equal(t, "discord", n.Name())

	n, err = New(Settings{Desktop: true})
	require.NoError(t, err)
	require.Equal(t, "desktop", n.Name())
}

func TestRenderUsesBackendMarkup(t *testing.T) {
	require.Contains(t, Render(NewSlack("a", "b", time.Second), sampleAlert()), "*API:*")
	require.Contains(t, Render(NewDesktop(), sampleAlert()), "API: GitHub")
}
