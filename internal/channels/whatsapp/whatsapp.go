// Package whatsapp implements the omega channels.Channel contract over a
// WhatsApp bridge WebSocket (e.g. a whatsapp-web.js based bridge process).
// The bridge speaks the actual WhatsApp protocol; this channel exchanges a
// small JSON envelope with it over the socket.
package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
)

// Config configures a WhatsApp bridge channel.
type Config struct {
	BridgeURL      string
	AllowFrom      []string
	AuthEnabled    bool
	RateLimitPerS  float64
	RateLimitBurst int
}

// Channel connects to a WhatsApp bridge via WebSocket.
type Channel struct {
	*channels.BaseChannel
	config  Config
	limiter *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	ctx       context.Context
	cancel    context.CancelFunc

	pairingMu sync.RWMutex
	qrCode    string // base64 PNG, set by a WHATSAPP_QR bridge envelope
	paired    bool
}

// QRCode returns the most recent pairing QR code (base64-encoded PNG) and
// whether one is currently available — cleared once the bridge reports
// pairing complete.
func (c *Channel) QRCode() (string, bool) {
	c.pairingMu.RLock()
	defer c.pairingMu.RUnlock()
	return c.qrCode, c.qrCode != ""
}

// Paired reports whether the bridge has completed WhatsApp pairing.
func (c *Channel) Paired() bool {
	c.pairingMu.RLock()
	defer c.pairingMu.RUnlock()
	return c.paired
}

// New creates a WhatsApp channel from cfg.
func New(cfg Config) (*Channel, error) {
	if cfg.BridgeURL == "" {
		return nil, fmt.Errorf("whatsapp bridge_url is required")
	}
	rps := cfg.RateLimitPerS
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 3
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("whatsapp", cfg.AuthEnabled, cfg.AllowFrom),
		config:      cfg,
		limiter:     rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Start connects to the bridge and begins listening, returning a channel of
// parsed inbound messages. The connection is best-effort at startup — a
// failed initial dial doesn't fail Start, since the reconnect loop keeps
// retrying with backoff.
func (c *Channel) Start(ctx context.Context) (<-chan bus.IncomingMessage, error) {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.connect(); err != nil {
		slog.Warn("whatsapp: initial bridge connection failed, will retry", "error", err)
	}

	out := make(chan bus.IncomingMessage)
	go c.listenLoop(out)

	c.SetRunning(true)
	return out, nil
}

// Stop gracefully shuts down the channel.
func (c *Channel) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connected = false
	c.SetRunning(false)
	return nil
}

// Send delivers an outbound message to the bridge.
func (c *Channel) Send(ctx context.Context, msg bus.OutgoingMessage) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("whatsapp: rate limit wait: %w", err)
	}
	return c.writeEnvelope(map[string]interface{}{
		"type":    "message",
		"to":      msg.ChatID,
		"content": msg.Content,
	})
}

// SendTyping sends a one-shot "composing" presence update.
func (c *Channel) SendTyping(_ context.Context, target string) error {
	return c.writeEnvelope(map[string]interface{}{
		"type": "presence",
		"to":   target,
		"kind": "composing",
	})
}

func (c *Channel) writeEnvelope(payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("whatsapp: bridge not connected")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal whatsapp envelope: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write whatsapp envelope: %w", err)
	}
	return nil
}

func (c *Channel) connect() error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.Dial(c.config.BridgeURL, nil)
	if err != nil {
		return fmt.Errorf("dial whatsapp bridge %s: %w", c.config.BridgeURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	slog.Info("whatsapp: bridge connected", "url", c.config.BridgeURL)
	return nil
}

// listenLoop reads envelopes from the bridge, reconnecting with exponential
// backoff (capped at 30s) whenever the socket drops.
func (c *Channel) listenLoop(out chan<- bus.IncomingMessage) {
	defer close(out)
	backoff := time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err != nil {
				slog.Warn("whatsapp: bridge reconnect failed", "error", err)
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				continue
			}
			backoff = time.Second
			continue
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("whatsapp: read error, will reconnect", "error", err)
			c.mu.Lock()
			if c.conn != nil {
				_ = c.conn.Close()
				c.conn = nil
			}
			c.connected = false
			c.mu.Unlock()
			continue
		}

		if c.handlePairingEnvelope(raw) {
			continue
		}

		msg, ok := c.parseIncoming(raw)
		if !ok {
			continue
		}
		select {
		case out <- msg:
		case <-c.ctx.Done():
			return
		}
	}
}

// handlePairingEnvelope consumes "qr" and "pairing_status" bridge envelopes,
// which carry the WHATSAPP_QR pairing flow rather than a chat message.
// Reports true when it handled (and thus consumed) the envelope.
func (c *Channel) handlePairingEnvelope(raw []byte) bool {
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return false
	}
	kind, _ := envelope["type"].(string)
	switch kind {
	case "qr":
		qr, _ := envelope["qr"].(string)
		c.pairingMu.Lock()
		c.qrCode = qr
		c.paired = false
		c.pairingMu.Unlock()
		return true
	case "pairing_status":
		status, _ := envelope["status"].(string)
		c.pairingMu.Lock()
		if status == "paired" {
			c.paired = true
			c.qrCode = ""
		}
		c.pairingMu.Unlock()
		return true
	default:
		return false
	}
}

// parseIncoming decodes one bridge envelope into a bus.IncomingMessage,
// applying the allowlist before handing it back.
func (c *Channel) parseIncoming(raw []byte) (bus.IncomingMessage, bool) {
	var envelope map[string]interface{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		slog.Warn("whatsapp: invalid envelope JSON", "error", err)
		return bus.IncomingMessage{}, false
	}
	if kind, _ := envelope["type"].(string); kind != "message" {
		return bus.IncomingMessage{}, false
	}

	senderID, _ := envelope["from"].(string)
	if senderID == "" {
		return bus.IncomingMessage{}, false
	}
	chatID, _ := envelope["chat"].(string)
	if chatID == "" {
		chatID = senderID
	}

	if !c.IsAllowed(senderID) {
		slog.Debug("whatsapp: sender not allowed", "sender_id", senderID)
		return bus.IncomingMessage{}, false
	}

	content, _ := envelope["content"].(string)

	var media []bus.MediaAttachment
	if raw, ok := envelope["media"].([]interface{}); ok {
		for _, m := range raw {
			if path, ok := m.(string); ok {
				media = append(media, bus.MediaAttachment{Path: path})
			}
		}
	}
	if content == "" && len(media) == 0 {
		return bus.IncomingMessage{}, false
	}

	metadata := map[string]string{}
	if messageID, ok := envelope["id"].(string); ok {
		metadata["message_id"] = messageID
	}
	if userName, ok := envelope["from_name"].(string); ok {
		metadata["user_name"] = userName
	}

	slog.Debug("whatsapp: message received", "sender_id", senderID, "chat_id", chatID,
		"preview", channels.Truncate(content, 50), "is_group", strings.HasSuffix(chatID, "@g.us"))

	return bus.IncomingMessage{
		Channel:    "whatsapp",
		SenderID:   senderID,
		ChatID:     chatID,
		Content:    content,
		Media:      media,
		ReceivedAt: time.Now().Unix(),
		Metadata:   metadata,
	}, true
}
