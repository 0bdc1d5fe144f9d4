// Package session implements CreateSession/ActivateSession, session
// lifetime tracking, and per-session continuation points and publish
// request bookkeeping (§4.10). Grounded on dittofs's lock-manager shape
// (RWMutex-guarded map of live stateful objects).
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/metrics"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

// ContinuationPoint is a server-side Browse paging bookmark (§4.7).
type ContinuationPoint struct {
	Identifier          []byte
	BrowseDescriptionIdx int
	MaxReferences       uint32
	ContinuationIndex   int
}

// IdentityKind distinguishes how a session was activated.
type IdentityKind int

const (
	IdentityAnonymous IdentityKind = iota
	IdentityUserName
	IdentityJWT
)

// jwtClaims is the identity token's claim set, grounded on dittofs's
// controlplane Claims (internal/controlplane/api/auth/claims.go), trimmed
// to the fields this core's UserIdentityToken actually needs.
type jwtClaims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Session is one application-layer session (§3).
type Session struct {
	mu sync.Mutex

	Id                uuid.UUID
	AuthenticationToken uuid.UUID
	Name              string
	ChannelId         uint32
	HasChannel        bool
	Activated         bool
	Identity          IdentityKind
	Username          string
	ValidTill         time.Time

	continuationPoints map[string]*ContinuationPoint
	maxContinuation    int

	// SubscriptionIds lists the subscriptions owned by this session; the
	// subscription engine is the source of truth for their state.
	SubscriptionIds []uint32
}

// touch resets the session's timeout deadline to now + timeout, per §4.10:
// "every request whose header carries a valid authentication token resets
// the session's validTill".
func (s *Session) touch(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ValidTill = time.Now().Add(timeout)
}

// Expired reports whether the session's timeout has elapsed.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.After(s.ValidTill)
}

// AddContinuationPoint stores cp under a fresh identifier, enforcing the
// per-session cap (§8 P7).
func (s *Session) AddContinuationPoint(cp *ContinuationPoint) ([]byte, ua.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.continuationPoints) >= s.maxContinuation {
		return nil, ua.StatusOf(ua.ErrBadNoContinuationPoints)
	}
	id := uuid.New()
	cp.Identifier = id[:]
	s.continuationPoints[string(cp.Identifier)] = cp
	return cp.Identifier, ua.Good
}

// TakeContinuationPoint removes and returns a continuation point by
// identifier, as BrowseNext's release-mode does (§4.7).
func (s *Session) TakeContinuationPoint(id []byte) (*ContinuationPoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.continuationPoints[string(id)]
	if ok {
		delete(s.continuationPoints, string(id))
	}
	return cp, ok
}

// Manager owns the set of live sessions, keyed by authentication token
// since that is what incoming requests carry (§4.10).
type Manager struct {
	mu               sync.RWMutex
	byAuthToken      map[uuid.UUID]*Session
	sessionTimeout   time.Duration
	maxContinuation  int

	// credentials is the static username -> password table from config
	// (SPEC_FULL.md §11's default identity path).
	credentials map[string]string

	// jwtSigningKey validates bearer IssuedIdentityToken values when
	// non-empty (SPEC_FULL.md §11's optional JWT identity path).
	jwtSigningKey []byte
}

// NewManager returns an empty session manager.
func NewManager(sessionTimeout time.Duration, maxContinuationPoints int, credentials map[string]string, jwtSigningKey string) *Manager {
	return &Manager{
		byAuthToken:     make(map[uuid.UUID]*Session),
		sessionTimeout:  sessionTimeout,
		maxContinuation: maxContinuationPoints,
		credentials:     credentials,
		jwtSigningKey:   []byte(jwtSigningKey),
	}
}

// CreateSession allocates a new, not-yet-activated session bound to
// channelId (§4.10: "CreateSession requires a valid channel").
func (m *Manager) CreateSession(ctx context.Context, channelId uint32, name string) *Session {
	s := &Session{
		Id:                  uuid.New(),
		AuthenticationToken: uuid.New(),
		Name:                name,
		ChannelId:           channelId,
		HasChannel:          true,
		ValidTill:           time.Now().Add(m.sessionTimeout),
		continuationPoints:  make(map[string]*ContinuationPoint),
		maxContinuation:     m.maxContinuation,
	}

	m.mu.Lock()
	m.byAuthToken[s.AuthenticationToken] = s
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	logger.InfoCtx(ctx, "session created", logger.SessionID(s.Id.String()), logger.ChannelID(channelId))
	return s
}

// ActivateAnonymous activates a session via the Anonymous identity token.
func (m *Manager) ActivateAnonymous(ctx context.Context, authToken uuid.UUID, channelId uint32) (*Session, ua.StatusCode) {
	return m.activate(ctx, authToken, channelId, func(s *Session) ua.StatusCode {
		s.Identity = IdentityAnonymous
		return ua.Good
	})
}

// ActivateUserName activates a session via a UserNameIdentityToken,
// rejecting a non-empty encryptionAlgorithm per §4.10 ("this core requires
// the secure channel to protect secrets").
func (m *Manager) ActivateUserName(ctx context.Context, authToken uuid.UUID, channelId uint32, username, password, encryptionAlgorithm string) (*Session, ua.StatusCode) {
	if encryptionAlgorithm != "" {
		metrics.RejectedSessions.Inc()
		return nil, ua.StatusOf(ua.ErrBadIdentityTokenInvalid)
	}
	return m.activate(ctx, authToken, channelId, func(s *Session) ua.StatusCode {
		m.mu.RLock()
		want, ok := m.credentials[username]
		m.mu.RUnlock()
		if !ok || want != password {
			metrics.RejectedSessions.Inc()
			return ua.StatusOf(ua.ErrBadIdentityTokenRejected)
		}
		s.Identity = IdentityUserName
		s.Username = username
		return ua.Good
	})
}

// ActivateJWT activates a session via an IssuedIdentityToken carrying a
// bearer token signed with an HMAC method (HS256/HS384/HS512) and checked
// against the server's
// configured signing key (§4.10's IssuedIdentityToken path, SPEC_FULL.md
// §11). Rejects if no signing key is configured, the token is malformed,
// expired, or signed with an unexpected algorithm.
func (m *Manager) ActivateJWT(ctx context.Context, authToken uuid.UUID, channelId uint32, tokenString string) (*Session, ua.StatusCode) {
	if len(m.jwtSigningKey) == 0 {
		return nil, ua.StatusOf(ua.ErrBadIdentityTokenRejected)
	}
	return m.activate(ctx, authToken, channelId, func(s *Session) ua.StatusCode {
		claims := &jwtClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("session: unexpected JWT signing method %v", t.Header["alg"])
			}
			return m.jwtSigningKey, nil
		})
		if err != nil || !token.Valid {
			metrics.RejectedSessions.Inc()
			if errors.Is(err, jwt.ErrTokenExpired) {
				return ua.StatusOf(ua.ErrBadIdentityTokenRejected)
			}
			return ua.StatusOf(ua.ErrBadIdentityTokenInvalid)
		}
		if claims.Username == "" {
			metrics.RejectedSessions.Inc()
			return ua.StatusOf(ua.ErrBadIdentityTokenInvalid)
		}
		s.Identity = IdentityJWT
		s.Username = claims.Username
		return ua.Good
	})
}

func (m *Manager) activate(ctx context.Context, authToken uuid.UUID, channelId uint32, apply func(*Session) ua.StatusCode) (*Session, ua.StatusCode) {
	m.mu.RLock()
	s, ok := m.byAuthToken[authToken]
	m.mu.RUnlock()
	if !ok {
		metrics.RejectedSessions.Inc()
		return nil, ua.StatusOf(ua.ErrBadSessionIdInvalid)
	}

	if status := apply(s); status.IsBad() {
		return nil, status
	}

	s.mu.Lock()
	// A session may re-bind to a different channel on a later
	// ActivateSession, detaching the previous one (§4.10).
	s.ChannelId = channelId
	s.HasChannel = true
	s.Activated = true
	s.mu.Unlock()
	s.touch(m.sessionTimeout)

	logger.InfoCtx(ctx, "session activated", logger.SessionID(s.Id.String()), logger.ChannelID(channelId))
	return s, ua.Good
}

// Touch resets a session's timeout on any successful service call that
// carries its authentication token.
func (m *Manager) Touch(authToken uuid.UUID) (*Session, ua.StatusCode) {
	m.mu.RLock()
	s, ok := m.byAuthToken[authToken]
	m.mu.RUnlock()
	if !ok {
		return nil, ua.StatusOf(ua.ErrBadSessionIdInvalid)
	}
	if s.Expired(time.Now()) {
		return nil, ua.StatusOf(ua.ErrBadSessionIdInvalid)
	}
	if !s.Activated {
		return nil, ua.StatusOf(ua.ErrBadSessionNotActivated)
	}
	s.touch(m.sessionTimeout)
	return s, ua.Good
}

// Close removes a session (CloseSession, timeout, or channel removal with
// deleteSubscriptionsOnClose). Callers are responsible for tearing down the
// session's subscriptions via the subscription engine first.
func (m *Manager) Close(ctx context.Context, authToken uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.byAuthToken[authToken]
	if ok {
		delete(m.byAuthToken, authToken)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: unknown authentication token")
	}
	metrics.ActiveSessions.Dec()
	logger.InfoCtx(ctx, "session closed", logger.SessionID(s.Id.String()))
	return nil
}

// SweepExpired closes every session whose ValidTill has passed, returning
// the closed sessions so the caller can deliver a best-effort
// StatusChangeNotification to their last-bound channel (§7).
func (m *Manager) SweepExpired(ctx context.Context, now time.Time) []*Session {
	m.mu.Lock()
	var expired []*Session
	for token, s := range m.byAuthToken {
		if s.Expired(now) {
			expired = append(expired, s)
			delete(m.byAuthToken, token)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		metrics.ActiveSessions.Dec()
		logger.WarnCtx(ctx, "session timed out", logger.SessionID(s.Id.String()))
	}
	return expired
}
