// Package client implements the client-side mirror named in §4.13:
// outstanding-request bookkeeping, a bounded PublishRequest pool, and an
// inactivity watchdog. Grounded on laserstream-sdk's Client, the pack's
// closest analogue for a long-lived connection with in-flight request
// tracking and a reconnect/watchdog loop.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

// RequestId identifies one outstanding async request.
type RequestId uint32

// ResponseCallback is invoked exactly once when a RequestId's response (or
// a terminal failure) arrives.
type ResponseCallback func(resp any, status ua.StatusCode)

type pendingRequest struct {
	callback     ResponseCallback
	responseType string
	deadline     time.Time
}

// Config bounds the client's resource usage (§4.13).
type Config struct {
	OutstandingPublishRequests int
	ConnectivityCheckInterval  time.Duration
	SecureChannelTimeout       time.Duration
	OnInactive                 func()
}

// Client tracks a SecureChannel's in-flight requests from the caller's
// side: pending async completions, a bounded PublishRequest pool, and the
// liveness watchdog that detects a silently dead channel.
type Client struct {
	cfg Config

	mu            sync.Mutex
	pending       map[RequestId]*pendingRequest
	nextRequestId uint32
	lastResponse  time.Time
	closed        bool

	publishSlots chan struct{}

	cancelWatchdog context.CancelFunc
}

// New returns a Client ready to track requests. cfg.OutstandingPublishRequests
// sizes the PublishRequest pool (§4.13); zero or negative defaults to 1.
func New(cfg Config) *Client {
	if cfg.OutstandingPublishRequests <= 0 {
		cfg.OutstandingPublishRequests = 1
	}
	return &Client{
		cfg:          cfg,
		pending:      make(map[RequestId]*pendingRequest),
		lastResponse: time.Now(),
		publishSlots: make(chan struct{}, cfg.OutstandingPublishRequests),
	}
}

// SubmitRequest registers a pending async request and returns the id to
// tag the outgoing wire request with. deadline is the zero value for no
// timeout. After Close, nothing is registered: cb is completed at once with
// BadConnectionClosed and 0 is returned.
func (c *Client) SubmitRequest(responseType string, deadline time.Time, cb ResponseCallback) RequestId {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cb(nil, ua.StatusOf(ua.ErrBadConnectionClosed))
		return 0
	}
	defer c.mu.Unlock()

	c.nextRequestId++
	id := RequestId(c.nextRequestId)
	c.pending[id] = &pendingRequest{callback: cb, responseType: responseType, deadline: deadline}
	return id
}

// Complete resolves a pending request with its response, invoking the
// registered callback. Reports false if id was not outstanding (already
// completed, or never submitted).
func (c *Client) Complete(id RequestId, resp any, status ua.StatusCode) bool {
	c.mu.Lock()
	req, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.lastResponse = time.Now()
	c.mu.Unlock()

	if !ok {
		return false
	}
	req.callback(resp, status)
	return true
}

// ExpireDeadlines completes every pending request whose deadline has
// passed as of now, with BadTimeout.
func (c *Client) ExpireDeadlines(now time.Time) {
	c.mu.Lock()
	var expired []*pendingRequest
	for id, req := range c.pending {
		if !req.deadline.IsZero() && now.After(req.deadline) {
			expired = append(expired, req)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		req.callback(nil, ua.StatusOf(ua.ErrBadTimeout))
	}
}

// Close completes every outstanding request with BadConnectionClosed, the
// behavior required on receipt of a Bad...Close equivalent (§4.13), and
// marks the client closed so further SubmitRequest calls are rejected.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[RequestId]*pendingRequest)
	if c.cancelWatchdog != nil {
		c.cancelWatchdog()
	}
	c.mu.Unlock()

	for _, req := range pending {
		req.callback(nil, ua.StatusOf(ua.ErrBadConnectionClosed))
	}
}

// AcquirePublishSlot blocks until a PublishRequest slot is available or ctx
// is done, enforcing the outStandingPublishRequests bound (§4.13).
func (c *Client) AcquirePublishSlot(ctx context.Context) error {
	select {
	case c.publishSlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReleasePublishSlot returns a slot acquired via AcquirePublishSlot.
func (c *Client) ReleasePublishSlot() {
	select {
	case <-c.publishSlots:
	default:
	}
}

// OutstandingPublishCount reports how many PublishRequest slots are
// currently held.
func (c *Client) OutstandingPublishCount() int {
	return len(c.publishSlots)
}

// StartWatchdog launches the inactivity watchdog: every
// ConnectivityCheckInterval it checks whether a response has arrived more
// recently than ConnectivityCheckInterval+SecureChannelTimeout ago, and if
// not, invokes OnInactive once and stops (§4.13). Returns the stop
// function; Close also stops it.
func (c *Client) StartWatchdog(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancelWatchdog = cancel
	c.mu.Unlock()

	threshold := c.cfg.ConnectivityCheckInterval + c.cfg.SecureChannelTimeout
	go func() {
		ticker := time.NewTicker(c.cfg.ConnectivityCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				silent := time.Since(c.lastResponse)
				c.mu.Unlock()
				if silent >= threshold {
					logger.Warn("client inactivity watchdog fired", "silentFor", silent.String())
					if c.cfg.OnInactive != nil {
						c.cfg.OnInactive()
					}
					return
				}
			}
		}
	}()
	return cancel
}

// MonitoredItemRequest is one CreateMonitoredItems item the client
// submits for a subscription (§4.13's canonical addMonitoredItem form:
// explicit samplingInterval is always required).
type MonitoredItemRequest struct {
	NodeId           ua.NodeId
	AttributeId      uint32
	SamplingInterval float64
	QueueSize        uint32
	DiscardOldest    bool
}

// CreateMonitoredItemResult is one CreateMonitoredItems result entry.
type CreateMonitoredItemResult struct {
	Status          ua.StatusCode
	MonitoredItemId uint32
}

// AddMonitoredItem submits a CreateMonitoredItems request for one item
// against subscriptionId, always with an explicit samplingInterval (the
// canonical signature; §9 design note resolves the source's two
// incompatible variants in its favor).
func (c *Client) AddMonitoredItem(subscriptionId uint32, item MonitoredItemRequest, cb func(CreateMonitoredItemResult)) RequestId {
	return c.SubmitRequest("CreateMonitoredItemsResponse", time.Time{}, func(resp any, status ua.StatusCode) {
		if status.IsBad() {
			cb(CreateMonitoredItemResult{Status: status})
			return
		}
		result, ok := resp.(CreateMonitoredItemResult)
		if !ok {
			cb(CreateMonitoredItemResult{Status: ua.StatusOf(ua.ErrBadInvalidState)})
			return
		}
		cb(result)
	})
}

// RemoveSubscription submits a DeleteSubscriptions request for one
// subscription. The response's results slice is treated as valid iff it
// carries at least one entry (resultsSize > 0 is the self-consistent form
// between the source's two diverging checks; §9).
func (c *Client) RemoveSubscription(subscriptionId uint32, cb func(ua.StatusCode)) RequestId {
	return c.SubmitRequest("DeleteSubscriptionsResponse", time.Time{}, func(resp any, status ua.StatusCode) {
		if status.IsBad() {
			cb(status)
			return
		}
		results, ok := resp.([]ua.StatusCode)
		if !ok || len(results) == 0 {
			cb(ua.StatusOf(ua.ErrBadSubscriptionIdInvalid))
			return
		}
		cb(results[0])
	})
}

// PendingCount reports how many requests are currently outstanding, for
// tests and diagnostics.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
