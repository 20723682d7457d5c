// Package webhook exposes the gateway's HTTP surface: the inbound
// direct/ai webhook, a health probe, and the WhatsApp pairing endpoints.
// Route shape is grounded on the teacher's cmd/gateway.go BuildMux/Start
// pattern, generalized from its many internal API routes down to the
// four this system specifies.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"tailscale.com/tsnet"

	"github.com/omegahq/gateway/internal/bus"
	"github.com/omegahq/gateway/internal/channels"
	"github.com/omegahq/gateway/internal/config"
	"github.com/omegahq/gateway/internal/store"
)

// channelPriority is the default channel resolution order for requests
// that don't name one explicitly.
var channelPriority = []string{"telegram", "whatsapp"}

// Server serves the gateway's HTTP surface.
type Server struct {
	Config    *config.Config
	Channels  *channels.Manager
	Store     *store.Store
	startedAt time.Time
	httpSrv   *http.Server
	limiter   *channels.WebhookRateLimiter
}

// New constructs a Server. Call Run to start serving.
func New(cfg *config.Config, mgr *channels.Manager, st *store.Store) *Server {
	return &Server{
		Config:    cfg,
		Channels:  mgr,
		Store:     st,
		startedAt: time.Now(),
		limiter:   channels.NewWebhookRateLimiter(),
	}
}

// remoteKey extracts the rate-limit key for a request — the proxy-forwarded
// address if present, else RemoteAddr.
func remoteKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/webhook", s.handleWebhook)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/pair", s.handlePair)
	mux.HandleFunc("/api/pair/status", s.handlePairStatus)
	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully. Serves over a plain TCP listener, or a tsnet
// (Tailscale) listener when configured.
func (s *Server) Run(ctx context.Context) error {
	cfg := s.Config.Snapshot().Webhook
	if !cfg.Enabled {
		return nil
	}

	ln, cleanup, err := s.listen(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	s.httpSrv = &http.Server{Handler: s.mux()}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) listen(cfg config.WebhookConfig) (net.Listener, func(), error) {
	if !cfg.UseTsnet {
		ln, err := net.Listen("tcp", cfg.ListenAddr)
		if err != nil {
			return nil, nil, err
		}
		return ln, func() {}, nil
	}

	ts := &tsnet.Server{Hostname: cfg.TsnetHostname}
	ln, err := ts.Listen("tcp", ":80")
	if err != nil {
		ts.Close()
		return nil, nil, err
	}
	return ln, func() { ts.Close() }, nil
}

// bearerAuthorized implements the webhook's auth contract: deny when a
// token is configured and the header is missing or wrong; allow when no
// token is configured.
func bearerAuthorized(cfg config.WebhookConfig, r *http.Request) bool {
	if cfg.BearerToken == "" {
		return true
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + cfg.BearerToken
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	whatsappStatus := "not_configured"
	if ch, ok := s.Channels.GetChannel("whatsapp"); ok {
		if wp, ok := ch.(interface{ Paired() bool }); ok {
			if wp.Paired() {
				whatsappStatus = "paired"
			} else {
				whatsappStatus = "pending"
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"uptime_secs": int64(time.Since(s.startedAt).Seconds()),
		"whatsapp":    whatsappStatus,
	})
}

type webhookRequest struct {
	Source  string `json:"source"`
	Message string `json:"message"`
	Mode    string `json:"mode"`
	Channel string `json:"channel"`
	Target  string `json:"target"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusBadRequest, "method not allowed")
		return
	}
	if !s.limiter.Allow(remoteKey(r)) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}
	cfg := s.Config.Snapshot().Webhook
	if !bearerAuthorized(cfg, r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Source == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "source and message are required")
		return
	}
	if req.Mode != "direct" && req.Mode != "ai" {
		writeError(w, http.StatusBadRequest, `mode must be "direct" or "ai"`)
		return
	}

	channelName := req.Channel
	var ch channels.Channel
	if channelName != "" {
		var ok bool
		ch, ok = s.Channels.GetChannel(channelName)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown channel")
			return
		}
	} else {
		for _, name := range channelPriority {
			if c, ok := s.Channels.GetChannel(name); ok {
				ch, channelName = c, name
				break
			}
		}
		if ch == nil {
			writeError(w, http.StatusServiceUnavailable, "no channel available")
			return
		}
	}

	target := req.Target
	if target == "" {
		if first, ok := ch.FirstAllowed(); ok {
			target = first
		}
	}
	if target == "" {
		writeError(w, http.StatusBadRequest, "no target specified and channel has no default allowlist entry")
		return
	}

	switch req.Mode {
	case "direct":
		s.handleDirect(w, r.Context(), channelName, ch, target, req)
	case "ai":
		s.handleAI(w, r.Context(), channelName, target, req)
	}
}

func (s *Server) handleDirect(w http.ResponseWriter, ctx context.Context, channelName string, ch channels.Channel, target string, req webhookRequest) {
	out := bus.OutgoingMessage{ChatID: target, Content: req.Message}
	if err := ch.Send(ctx, out); err != nil {
		writeError(w, http.StatusBadGateway, "delivery failed: "+err.Error())
		return
	}

	if s.Store != nil {
		_ = s.Store.AppendAudit(store.AuditEntry{
			Channel: channelName,
			Sender:  "webhook:" + req.Source,
			Input:   req.Message,
			Output:  req.Message,
			Status:  "ok",
		})
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "delivered",
		"channel": channelName,
		"target":  target,
	})
}

func (s *Server) handleAI(w http.ResponseWriter, ctx context.Context, channelName, target string, req webhookRequest) {
	msg := bus.IncomingMessage{
		Channel:    channelName,
		SenderID:   target,
		ChatID:     target,
		Content:    req.Message,
		ReceivedAt: time.Now().Unix(),
		Metadata:   map[string]string{"source": req.Source},
	}
	if err := s.Channels.Push(ctx, msg); err != nil {
		writeError(w, http.StatusServiceUnavailable, "gateway unavailable: "+err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"request_id": requestID(req),
	})
}

func requestID(req webhookRequest) string {
	return req.Source + ":" + time.Now().UTC().Format("20060102T150405.000000000")
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.Channels.GetChannel("whatsapp")
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "whatsapp channel not configured")
		return
	}
	type qrSource interface {
		QRCode() (string, bool)
		Paired() bool
	}
	wp, ok := ch.(qrSource)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "whatsapp channel doesn't support pairing")
		return
	}
	if wp.Paired() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_paired"})
		return
	}
	qr, ok := wp.QRCode()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "qr", "qr_png_base64": qr})
}

// pairPollInterval and pairPollTimeout bound handlePairStatus's long-poll.
const (
	pairPollInterval = 500 * time.Millisecond
	pairPollTimeout  = 25 * time.Second
)

func (s *Server) handlePairStatus(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.Channels.GetChannel("whatsapp")
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "whatsapp channel not configured")
		return
	}
	wp, ok := ch.(interface{ Paired() bool })
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "whatsapp channel doesn't support pairing")
		return
	}

	deadline := time.Now().Add(pairPollTimeout)
	ticker := time.NewTicker(pairPollInterval)
	defer ticker.Stop()

	for {
		if wp.Paired() {
			writeJSON(w, http.StatusOK, map[string]string{"status": "paired"})
			return
		}
		if time.Now().After(deadline) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
