// Package securechannel implements the SecureChannel manager: OpenSecureChannel
// Issue/Renew, symmetric token rotation, and lifetime-driven teardown (§4.9).
//
// Grounded on dittofs's per-resource manager shape (a RWMutex-guarded map of
// live stateful objects, singleflight-deduplicated mutation) as used by its
// metadata lock manager.
package securechannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/metrics"
)

// State is a channel's lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateRenewedPending
)

// SecurityToken is one generation of symmetric key material for a channel.
type SecurityToken struct {
	TokenId         uint32
	CreatedAt       time.Time
	RevisedLifetime time.Duration
}

func (t SecurityToken) expired(now time.Time) bool {
	return now.After(t.CreatedAt.Add(t.RevisedLifetime))
}

// Channel is one SecureChannel's live state.
type Channel struct {
	mu sync.RWMutex

	Id       uint32
	State    State
	Current  SecurityToken
	Previous SecurityToken
	hasPrev  bool

	// SecurityPolicyURI names the out-of-scope SecurityPolicy this
	// channel was opened under; the crypto itself lives behind that
	// external trait.
	SecurityPolicyURI string
}

// TokenValid reports whether tokenId matches the current token, or the
// previous one while it has not yet expired (§4.9: "the previous token
// valid until the first successful message with the new token or until
// its lifetime elapses").
func (c *Channel) TokenValid(tokenId uint32, now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Current.TokenId == tokenId {
		return true
	}
	return c.hasPrev && c.Previous.TokenId == tokenId && !c.Previous.expired(now)
}

// AcceptMessageUnderCurrentToken drops the previous token once a message
// under the new token is confirmed, per §4.9.
func (c *Channel) AcceptMessageUnderCurrentToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasPrev = false
}

// Manager owns the set of live channels.
type Manager struct {
	mu       sync.RWMutex
	channels map[uint32]*Channel
	nextId   uint32

	renewGroup singleflight.Group
}

// NewManager returns an empty channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[uint32]*Channel), nextId: 1}
}

// Issue opens a new channel under securityPolicyURI with the requested
// lifetime, returning the channel and its initial token.
func (m *Manager) Issue(ctx context.Context, securityPolicyURI string, requestedLifetime time.Duration) (*Channel, SecurityToken) {
	m.mu.Lock()
	id := m.nextId
	m.nextId++
	m.mu.Unlock()

	token := SecurityToken{TokenId: uuid.New().ID(), CreatedAt: time.Now(), RevisedLifetime: requestedLifetime}
	ch := &Channel{Id: id, State: StateOpen, Current: token, SecurityPolicyURI: securityPolicyURI}

	m.mu.Lock()
	m.channels[id] = ch
	m.mu.Unlock()

	metrics.ActiveChannels.Inc()
	logger.InfoCtx(ctx, "secure channel opened", logger.ChannelID(id))
	return ch, token
}

// Renew issues a new SecurityToken for an existing channel, keeping the
// previous token valid per TokenValid's rules. Concurrent renews on the
// same channel id are deduplicated via singleflight so a single channel
// never derives two token generations from overlapping OPN Renew requests
// (SPEC_FULL.md §11).
func (m *Manager) Renew(ctx context.Context, id uint32, requestedLifetime time.Duration) (SecurityToken, error) {
	key := fmt.Sprintf("%d", id)
	v, err, _ := m.renewGroup.Do(key, func() (any, error) {
		m.mu.RLock()
		ch, ok := m.channels[id]
		m.mu.RUnlock()
		if !ok {
			return SecurityToken{}, fmt.Errorf("securechannel: unknown channel %d", id)
		}

		ch.mu.Lock()
		ch.Previous = ch.Current
		ch.hasPrev = true
		ch.Current = SecurityToken{TokenId: uuid.New().ID(), CreatedAt: time.Now(), RevisedLifetime: requestedLifetime}
		ch.State = StateOpen
		token := ch.Current
		ch.mu.Unlock()

		metrics.ChannelRenewals.Inc()
		logger.InfoCtx(ctx, "secure channel renewed", logger.ChannelID(id))
		return token, nil
	})
	if err != nil {
		return SecurityToken{}, err
	}
	return v.(SecurityToken), nil
}

// Close destroys a channel immediately; no response is emitted (§4.9: CLO
// behavior).
func (m *Manager) Close(ctx context.Context, id uint32) {
	m.mu.Lock()
	_, existed := m.channels[id]
	delete(m.channels, id)
	m.mu.Unlock()
	if existed {
		metrics.ActiveChannels.Dec()
		logger.InfoCtx(ctx, "secure channel closed", logger.ChannelID(id))
	}
}

// Get returns the live channel, if any.
func (m *Manager) Get(id uint32) (*Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// SweepExpired destroys channels whose current token has expired without
// renewal. Associated sessions are not touched here — they lose their
// binding and the session manager discovers that on the next request
// (§4.9, §5: cross-object operations commit independently).
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) []uint32 {
	m.mu.Lock()
	var expired []uint32
	for id, ch := range m.channels {
		ch.mu.RLock()
		gone := ch.Current.expired(now)
		ch.mu.RUnlock()
		if gone {
			expired = append(expired, id)
			delete(m.channels, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		metrics.ActiveChannels.Dec()
		logger.WarnCtx(ctx, "secure channel expired without renewal", logger.ChannelID(id))
	}
	return expired
}
