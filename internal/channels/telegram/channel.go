// Package telegram implements the omega channels.Channel contract over the
// Telegram Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
)

// maxMessageLen is Telegram's hard cap on a single sendMessage text.
const maxMessageLen = 4096

// Config configures a Telegram channel.
type Config struct {
	Token          string
	Proxy          string   // optional HTTP proxy URL
	AllowFrom      []string // allowlist entries ("id", "id|username", "@username")
	AuthEnabled    bool
	MediaMaxBytes  int64 // default 20MB
	RateLimitPerS  float64
	RateLimitBurst int
}

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	config     Config
	limiter    *rate.Limiter
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram channel from cfg.
func New(cfg Config) (*Channel, error) {
	var opts []telego.BotOption
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		opts = append(opts, telego.WithHTTPClient(&http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}))
	}

	bot, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	rps := cfg.RateLimitPerS
	if rps <= 0 {
		rps = 1 // Telegram's global soft limit is ~30/s; 1/s shared by all chats is conservative
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 3
	}

	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", cfg.AuthEnabled, cfg.AllowFrom),
		bot:         bot,
		config:      cfg,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Start begins long polling for Telegram updates and returns a channel of
// parsed inbound messages.
func (c *Channel) Start(ctx context.Context) (<-chan bus.IncomingMessage, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram: connected", "username", c.bot.Username())

	out := make(chan bus.IncomingMessage)
	go func() {
		defer close(c.pollDone)
		defer close(out)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram: updates channel closed")
					return
				}
				if update.Message == nil {
					continue
				}
				msg, ok := c.toIncoming(pollCtx, update.Message)
				if !ok {
					continue
				}
				select {
				case out <- msg:
				case <-pollCtx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (c *Channel) toIncoming(ctx context.Context, m *telego.Message) (bus.IncomingMessage, bool) {
	if m.From == nil {
		return bus.IncomingMessage{}, false
	}
	senderID := fmt.Sprintf("%d", m.From.ID)
	if m.From.Username != "" {
		senderID = fmt.Sprintf("%d|%s", m.From.ID, m.From.Username)
	}
	if !c.IsAllowed(senderID) {
		slog.Debug("telegram: sender not allowed", "sender_id", senderID)
		return bus.IncomingMessage{}, false
	}

	content := m.Text
	if content == "" {
		content = m.Caption
	}

	media := c.resolveMedia(ctx, m)
	if content == "" && len(media) == 0 {
		return bus.IncomingMessage{}, false
	}

	return bus.IncomingMessage{
		Channel:    "telegram",
		SenderID:   senderID,
		ChatID:     fmt.Sprintf("%d", m.Chat.ID),
		Content:    content,
		Media:      media,
		ReceivedAt: int64(m.Date),
	}, true
}

// Send delivers an outbound message, splitting content over Telegram's
// 4096-character limit and honoring the per-channel rate limiter.
func (c *Channel) Send(ctx context.Context, msg bus.OutgoingMessage) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate limit wait: %w", err)
	}

	chatID, err := parseChatID(msg.ChatID)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", msg.ChatID, err)
	}

	for _, chunk := range splitMessage(msg.Content, maxMessageLen) {
		params := tu.Message(tu.ID(chatID), chunk)
		params.ParseMode = telego.ModeMarkdown
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			// Markdown/entity parsing can fail on malformed text; retry once
			// as plain text rather than dropping the reply.
			slog.Warn("telegram: send failed, retrying as plain text", "error", err)
			plain := tu.Message(tu.ID(chatID), chunk)
			if _, retryErr := c.bot.SendMessage(ctx, plain); retryErr != nil {
				return fmt.Errorf("telegram: send message: %w", retryErr)
			}
		}
	}

	for _, m := range msg.Media {
		if err := c.sendMedia(ctx, chatID, m); err != nil {
			slog.Warn("telegram: failed to send media attachment", "path", m.Path, "error", err)
		}
	}
	return nil
}

// SendTyping sends a one-shot typing indicator. Callers that want a
// continuous indicator repeat this on a ticker (see the pipeline's
// typing-repeater), since Telegram's "typing" action expires after ~5s.
func (c *Channel) SendTyping(ctx context.Context, target string) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", target, err)
	}
	return c.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: tu.ID(chatID),
		Action: telego.ChatActionTyping,
	})
}

// Stop cancels long polling and waits for the polling goroutine to exit, so
// Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func parseChatID(chatIDStr string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(chatIDStr, "%d", &id)
	return id, err
}

// splitMessage breaks text into chunks no longer than limit, preferring to
// break on a newline near the limit so code blocks and paragraphs aren't
// split mid-line when avoidable.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := lastNewlineBefore(text, limit); idx > limit/2 {
			cut = idx
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

func lastNewlineBefore(s string, limit int) int {
	for i := limit; i > 0; i-- {
		if s[i-1] == '\n' {
			return i
		}
	}
	return -1
}
