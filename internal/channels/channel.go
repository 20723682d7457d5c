// Package channels provides the channel abstraction that decouples the
// pipeline from concrete messaging platforms. Concrete implementations
// live in internal/channels/telegram and internal/channels/whatsapp.
package channels

import (
	"context"
	"strings"

	"github.com/omegahq/gateway/internal/bus"
)

// Channel is the contract every messaging platform adapter satisfies.
type Channel interface {
	// Name returns the channel identifier, e.g. "telegram" or "whatsapp".
	Name() string

	// Start begins listening for inbound messages and returns a channel of
	// them. The returned channel is closed when the platform connection
	// ends, whether from Stop or from an unrecoverable transport error.
	Start(ctx context.Context) (<-chan bus.IncomingMessage, error)

	// Send delivers an outbound message.
	Send(ctx context.Context, msg bus.OutgoingMessage) error

	// SendTyping sends a typing/presence indicator to target, best-effort.
	SendTyping(ctx context.Context, target string) error

	// Stop gracefully shuts down the channel, closing the Start channel.
	Stop(ctx context.Context) error

	// IsAllowed reports whether senderID may use this channel, per the
	// embedded BaseChannel's auth/allowlist policy.
	IsAllowed(senderID string) bool

	// FirstAllowed returns the first allowlist entry, if any — the
	// webhook's default delivery target when none is specified.
	FirstAllowed() (string, bool)
}

// BaseChannel holds the allowlist and auth policy shared by every concrete
// channel. Channel implementations embed it.
//
// IsAllowed inverts the legacy "empty allowlist means allow everyone"
// behavior: when auth is enabled, an empty allowlist denies every sender.
// An operator who wants to accept all senders must set auth.enabled=false
// explicitly — there is no way to reach "allow all" by omission.
type BaseChannel struct {
	name        string
	authEnabled bool
	allowList   []string
	running     bool
}

// NewBaseChannel constructs a BaseChannel. authEnabled and allowList
// together determine IsAllowed's behavior — see the BaseChannel doc
// comment for the empty-allowlist invariant.
func NewBaseChannel(name string, authEnabled bool, allowList []string) *BaseChannel {
	return &BaseChannel{name: name, authEnabled: authEnabled, allowList: allowList}
}

// FirstAllowed returns the first entry in the allowlist, used by the
// webhook's direct-mode default target resolution.
func (c *BaseChannel) FirstAllowed() (string, bool) {
	if len(c.allowList) == 0 {
		return "", false
	}
	return strings.TrimPrefix(c.allowList[0], "@"), true
}

func (c *BaseChannel) Name() string       { return c.name }
func (c *BaseChannel) IsRunning() bool    { return c.running }
func (c *BaseChannel) SetRunning(r bool)  { c.running = r }
func (c *BaseChannel) HasAllowList() bool { return len(c.allowList) > 0 }
func (c *BaseChannel) AuthEnabled() bool  { return c.authEnabled }

// IsAllowed reports whether senderID may use this channel. senderID may be
// a compound "id|username" form; matching accepts either side against
// either side of each allowlist entry.
func (c *BaseChannel) IsAllowed(senderID string) bool {
	if !c.authEnabled {
		return true
	}
	if len(c.allowList) == 0 {
		// Auth is on and nobody is listed: deny everyone. Do not special
		// case this back to "allow all" — that inversion is the one thing
		// this type exists to prevent.
		return false
	}

	idPart, userPart := splitCompound(senderID)
	for _, allowed := range c.allowList {
		trimmed := strings.TrimPrefix(allowed, "@")
		allowedID, allowedUser := splitCompound(trimmed)

		if senderID == allowed || senderID == trimmed ||
			idPart == allowed || idPart == trimmed || idPart == allowedID ||
			(allowedUser != "" && senderID == allowedUser) ||
			(userPart != "" && (userPart == allowed || userPart == trimmed || userPart == allowedUser)) {
			return true
		}
	}
	return false
}

func splitCompound(s string) (id, user string) {
	if idx := strings.Index(s, "|"); idx > 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// Truncate keeps the first maxLen bytes of s and appends "..." if it cut
// anything, so a cut result is maxLen+3 bytes long.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
