// Package subscription implements the Subscription engine (state machine,
// publish-request queue, retransmission queue, sequence numbers,
// keep-alive/lifetime, §4.11) and the co-located MonitoredItem engine
// (sampling, queue discipline, deadband/event filters, §4.12) — the two
// are implemented together because a MonitoredItem has no independent
// lifecycle outside its owning Subscription.
package subscription

import (
	"sync"
	"time"

	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/metrics"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

// State is the subscription's publishing state machine (§4.11).
type State int

const (
	StateNormal State = iota
	StateKeepAlive
	StateLate
)

// Parameters are the negotiated (revised) subscription settings.
type Parameters struct {
	PublishingInterval      time.Duration
	LifetimeCount           uint32
	MaxKeepAliveCount       uint32
	MaxNotificationsPerPublish uint32
	Priority                uint8
}

// NotificationMessage is one Publish response payload: a batch of
// MonitoredItem notifications (or none, for a keep-alive) carrying a
// sequence number.
type NotificationMessage struct {
	SequenceNumber uint32
	PublishTime    time.Time
	Notifications  []ua.DataValue // data-change notifications, flattened per item below
	ClientHandles  []uint32       // parallel to Notifications
	IsKeepAlive    bool
	StatusChange   *ua.StatusCode // non-nil carries a StatusChangeNotification
}

// Subscription is one server-side notification container (§3).
type Subscription struct {
	mu sync.Mutex

	Id        uint32
	SessionId string
	Params    Parameters

	PublishingEnabled bool
	State             State

	currentKeepAliveCount uint32
	currentLifetimeCount  uint32
	nextSequenceNumber    uint32

	items map[uint32]*MonitoredItem

	// retransmission is the ordered queue of sent-but-possibly-unacked
	// NotificationMessages (§4.11), keyed by sequence number for
	// Republish and SubscriptionAcknowledgement lookups.
	retransmission []NotificationMessage
}

// New returns a Subscription with its sequence number initialized to 1
// (0 is reserved, per §3/§4.11).
func New(id uint32, sessionId string, params Parameters) *Subscription {
	return &Subscription{
		Id:                 id,
		SessionId:          sessionId,
		Params:             params,
		PublishingEnabled:  true,
		State:              StateNormal,
		nextSequenceNumber: 1,
		items:              make(map[uint32]*MonitoredItem),
	}
}

func (s *Subscription) advanceSequenceNumber() uint32 {
	n := s.nextSequenceNumber
	next := n + 1
	if next == 0 { // wraps 0xFFFFFFFF -> 1, 0 never reused
		next = 1
	}
	s.nextSequenceNumber = next
	return n
}

// AddMonitoredItem registers item under the subscription.
func (s *Subscription) AddMonitoredItem(item *MonitoredItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Id] = item
}

// RemoveMonitoredItem deletes an item by id.
func (s *Subscription) RemoveMonitoredItem(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, id)
}

// hasReadyNotifications reports whether any MonitoredItem has queued
// notifications.
func (s *Subscription) hasReadyNotifications() bool {
	for _, item := range s.items {
		if item.QueueLen() > 0 {
			return true
		}
	}
	return false
}

// collectNotifications drains up to maxNotificationsPerPublish
// notifications across all items, oldest-queued first per item.
func (s *Subscription) collectNotifications() ([]ua.DataValue, []uint32) {
	var values []ua.DataValue
	var handles []uint32
	limit := s.Params.MaxNotificationsPerPublish
	if limit == 0 {
		limit = ^uint32(0)
	}
	for _, item := range s.items {
		for uint32(len(values)) < limit {
			dv, handle, ok := item.PopNotification()
			if !ok {
				break
			}
			values = append(values, dv)
			handles = append(handles, handle)
		}
	}
	return values, handles
}

// Tick runs one publishing-callback opportunity: it samples the state
// machine transition implied by having (or not having) ready notifications
// and a waiting PublishRequest, per §4.11's three states. It does not
// itself perform MonitoredItem sampling (the caller's sampler loop feeds
// notifications into items before calling Tick).
//
// hasWaitingRequest is supplied by the caller (the per-session publish
// queue); Tick returns the message to send, or nil if nothing should be
// emitted this tick (e.g. Normal state with no notifications and
// publishing disabled).
func (s *Subscription) Tick(now time.Time, hasWaitingRequest bool) *NotificationMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.PublishingEnabled {
		return nil
	}

	ready := s.hasReadyNotifications()

	switch {
	case ready && hasWaitingRequest:
		s.currentKeepAliveCount = 0
		s.currentLifetimeCount = 0
		s.State = StateNormal
		values, handles := s.collectNotifications()
		msg := NotificationMessage{
			SequenceNumber: s.advanceSequenceNumber(),
			PublishTime:    now,
			Notifications:  values,
			ClientHandles:  handles,
		}
		s.retransmission = append(s.retransmission, msg)
		metrics.QueuedNotifications.Set(float64(len(s.retransmission)))
		return &msg

	case ready && !hasWaitingRequest:
		s.State = StateLate
		metrics.LatePublishes.Inc()
		return nil

	default: // no ready notifications
		s.currentLifetimeCount++
		if s.currentLifetimeCount >= s.Params.LifetimeCount {
			status := ua.StatusOf(ua.ErrBadTimeout)
			msg := NotificationMessage{
				SequenceNumber: s.advanceSequenceNumber(),
				PublishTime:    now,
				IsKeepAlive:    true,
				StatusChange:   &status,
			}
			return &msg
		}

		if !hasWaitingRequest {
			return nil
		}

		s.currentKeepAliveCount++
		if s.currentKeepAliveCount < s.Params.MaxKeepAliveCount {
			s.State = StateKeepAlive
			return nil
		}
		s.currentKeepAliveCount = 0
		s.currentLifetimeCount = 0
		s.State = StateKeepAlive
		return &NotificationMessage{
			SequenceNumber: s.nextSequenceNumber, // keep-alive does not consume a sequence number
			PublishTime:    now,
			IsKeepAlive:    true,
		}
	}
}

// Acknowledge removes entries from the retransmission queue matching the
// given sequence numbers, reporting BadSequenceNumberUnknown for any that
// don't match (§4.11).
func (s *Subscription) Acknowledge(seqNums []uint32) map[uint32]ua.StatusCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make(map[uint32]ua.StatusCode, len(seqNums))
	for _, sn := range seqNums {
		idx := -1
		for i, msg := range s.retransmission {
			if msg.SequenceNumber == sn {
				idx = i
				break
			}
		}
		if idx == -1 {
			results[sn] = ua.StatusOf(ua.ErrBadSequenceNumberUnknown)
			continue
		}
		s.retransmission = append(s.retransmission[:idx], s.retransmission[idx+1:]...)
		results[sn] = ua.Good
	}
	metrics.QueuedNotifications.Set(float64(len(s.retransmission)))
	return results
}

// Republish returns the exact NotificationMessage previously sent under
// sequenceNumber, or BadMessageNotAvailable if it is not (or no longer) on
// the retransmission queue (§4.11, P4).
func (s *Subscription) Republish(sequenceNumber uint32) (NotificationMessage, ua.StatusCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.retransmission {
		if msg.SequenceNumber == sequenceNumber {
			return msg, ua.Good
		}
	}
	return NotificationMessage{}, ua.StatusOf(ua.ErrBadMessageNotAvailable)
}

// SetPublishingMode toggles PublishingEnabled.
func (s *Subscription) SetPublishingMode(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PublishingEnabled = enabled
}

// Manager owns the set of live subscriptions, indexed by id.
type Manager struct {
	mu   sync.RWMutex
	subs map[uint32]*Subscription
	next uint32
}

// NewManager returns an empty subscription manager.
func NewManager() *Manager {
	return &Manager{subs: make(map[uint32]*Subscription), next: 1}
}

// Create allocates and registers a new Subscription.
func (m *Manager) Create(sessionId string, params Parameters) *Subscription {
	m.mu.Lock()
	id := m.next
	m.next++
	sub := New(id, sessionId, params)
	m.subs[id] = sub
	m.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	logger.Info("subscription created", logger.SubscriptionID(id))
	return sub
}

// Get returns a subscription by id.
func (m *Manager) Get(id uint32) (*Subscription, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	return s, ok
}

// Delete removes a subscription.
func (m *Manager) Delete(id uint32) {
	m.mu.Lock()
	_, existed := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()
	if existed {
		metrics.ActiveSubscriptions.Dec()
		logger.Info("subscription deleted", logger.SubscriptionID(id))
	}
}

// ForSession returns every subscription belonging to sessionId, used when
// a session ends and its subscriptions must be torn down (§4.10, §5).
func (m *Manager) ForSession(sessionId string) []*Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*Subscription
	for _, s := range m.subs {
		if s.SessionId == sessionId {
			result = append(result, s)
		}
	}
	return result
}
