package subscription

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open62541/open62541-sub008/pkg/ua"
)

func testParams() Parameters {
	return Parameters{
		PublishingInterval:         500 * time.Millisecond,
		LifetimeCount:              3,
		MaxKeepAliveCount:          1,
		MaxNotificationsPerPublish: 0,
		Priority:                   0,
	}
}

func TestTickEmitsDataChangeWhenReadyAndWaiting(t *testing.T) {
	s := New(1, "sess", testParams())
	item := &MonitoredItem{Id: 1, Mode: ModeReporting, QueueSize: 10, ClientHandle: 42}
	item.queue = []notification{{value: ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(7)), time.Now()), handle: 42}}
	s.AddMonitoredItem(item)

	msg := s.Tick(time.Now(), true)
	require.NotNil(t, msg)
	assert.Equal(t, uint32(1), msg.SequenceNumber)
	assert.False(t, msg.IsKeepAlive)
	require.Len(t, msg.ClientHandles, 1)
	assert.Equal(t, uint32(42), msg.ClientHandles[0])
}

func TestTickGoesLateWithoutWaitingRequest(t *testing.T) {
	s := New(1, "sess", testParams())
	item := &MonitoredItem{Id: 1, Mode: ModeReporting, QueueSize: 10}
	item.queue = []notification{{value: ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(1)), time.Now())}}
	s.AddMonitoredItem(item)

	msg := s.Tick(time.Now(), false)
	assert.Nil(t, msg)
	assert.Equal(t, StateLate, s.State)
}

func TestSequenceNumbersStrictlyIncreasing(t *testing.T) {
	s := New(1, "sess", testParams())
	item := &MonitoredItem{Id: 1, Mode: ModeReporting, QueueSize: 100}
	s.AddMonitoredItem(item)

	var last uint32
	for i := 0; i < 5; i++ {
		item.queue = append(item.queue, notification{value: ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(i)), time.Now())})
		msg := s.Tick(time.Now(), true)
		require.NotNil(t, msg)
		assert.Greater(t, msg.SequenceNumber, last)
		last = msg.SequenceNumber
	}
}

func TestRepublishReturnsIdenticalMessage(t *testing.T) {
	s := New(1, "sess", testParams())
	item := &MonitoredItem{Id: 1, Mode: ModeReporting, QueueSize: 10, ClientHandle: 7}
	item.queue = []notification{{value: ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(1)), time.Now()), handle: 7}}
	s.AddMonitoredItem(item)

	sent := s.Tick(time.Now(), true)
	require.NotNil(t, sent)

	got, status := s.Republish(sent.SequenceNumber)
	require.True(t, status.IsGood())
	assert.Equal(t, sent.SequenceNumber, got.SequenceNumber)
	assert.Equal(t, sent.ClientHandles, got.ClientHandles)
}

func TestRepublishUnknownSequenceNumber(t *testing.T) {
	s := New(1, "sess", testParams())
	_, status := s.Republish(999)
	assert.Equal(t, ua.ErrBadMessageNotAvailable, status.Code)
}

func TestKeepAliveResetsLifetimeCount(t *testing.T) {
	params := Parameters{LifetimeCount: 3, MaxKeepAliveCount: 1}
	s := New(1, "sess", params)

	// Each tick with a waiting request and no ready notifications either
	// idles the keep-alive counter or emits a keep-alive; a healthy
	// keep-alive-only subscription must never accumulate lifetime far
	// enough to trigger BadTimeout.
	for i := 0; i < 10; i++ {
		msg := s.Tick(time.Now(), true)
		if msg != nil {
			require.Nil(t, msg.StatusChange, "keep-alive-only subscription must not time out")
		}
	}
}

func TestSubscriptionTimeoutEmitsStatusChange(t *testing.T) {
	params := Parameters{LifetimeCount: 2, MaxKeepAliveCount: 1}
	s := New(1, "sess", params)

	// No ready notifications, no waiting request: lifetime ticks up.
	msg := s.Tick(time.Now(), false)
	assert.Nil(t, msg)
	msg = s.Tick(time.Now(), false)
	require.NotNil(t, msg)
	require.NotNil(t, msg.StatusChange)
	assert.Equal(t, ua.ErrBadTimeout, msg.StatusChange.Code)
}

func TestAcknowledgeRemovesFromRetransmissionQueue(t *testing.T) {
	s := New(1, "sess", testParams())
	item := &MonitoredItem{Id: 1, Mode: ModeReporting, QueueSize: 10}
	item.queue = []notification{{value: ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(1)), time.Now())}}
	s.AddMonitoredItem(item)
	sent := s.Tick(time.Now(), true)
	require.NotNil(t, sent)

	results := s.Acknowledge([]uint32{sent.SequenceNumber})
	assert.True(t, results[sent.SequenceNumber].IsGood())

	_, status := s.Republish(sent.SequenceNumber)
	assert.Equal(t, ua.ErrBadMessageNotAvailable, status.Code)
}

func TestMonitoredItemQueueOverflowMarksOneSurvivor(t *testing.T) {
	item := &MonitoredItem{QueueSize: 2, Mode: ModeReporting, DiscardOldest: true}
	for i := 0; i < 4; i++ {
		dv := ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(i)), time.Now())
		item.Sample(dv, 0, 0, false)
	}
	item.mu.Lock()
	defer item.mu.Unlock()
	require.Len(t, item.queue, 2)
	overflowCount := 0
	for _, n := range item.queue {
		if n.value.Status.HasOverflow() {
			overflowCount++
		}
	}
	assert.Equal(t, 1, overflowCount)
}

func TestDeadbandAbsoluteSuppressesSmallChange(t *testing.T) {
	item := &MonitoredItem{
		QueueSize: 10,
		Mode:      ModeReporting,
		DataChange: &DataChangeFilter{
			Trigger:       TriggerStatusValue,
			Deadband:      DeadbandAbsolute,
			DeadbandValue: 5.0,
		},
	}
	item.Sample(ua.NewGoodDataValue(ua.NewScalar(ua.TypeDouble, 100.0), time.Now()), 0, 0, false)
	item.Sample(ua.NewGoodDataValue(ua.NewScalar(ua.TypeDouble, 102.0), time.Now()), 0, 0, false)
	assert.Equal(t, 1, item.QueueLen())

	item.Sample(ua.NewGoodDataValue(ua.NewScalar(ua.TypeDouble, 110.0), time.Now()), 0, 0, false)
	assert.Equal(t, 2, item.QueueLen())
}
