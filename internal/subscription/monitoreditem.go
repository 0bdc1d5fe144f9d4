package subscription

import (
	"math"
	"sync"
	"time"

	"github.com/open62541/open62541-sub008/pkg/ua"
)

// MonitoringMode is a MonitoredItem's reporting state (§3).
type MonitoringMode int

const (
	ModeDisabled MonitoringMode = iota
	ModeSampling
	ModeReporting
)

// DeadbandType selects the data-change deadband filter (§4.12).
type DeadbandType int

const (
	DeadbandNone DeadbandType = iota
	DeadbandAbsolute
	DeadbandPercent
)

// Trigger selects what counts as a data change (§3).
type Trigger int

const (
	TriggerStatus Trigger = iota
	TriggerStatusValue
	TriggerStatusValueTimestamp
)

// DataChangeFilter is the filter installed on a data-change MonitoredItem.
type DataChangeFilter struct {
	Trigger      Trigger
	Deadband     DeadbandType
	DeadbandValue float64
}

// EventFilter selects and filters events for an EventNotifier
// MonitoredItem (§4.12); SelectClauses/WhereClause are opaque payloads the
// wire codec supplies and the event emitter evaluates — not modeled
// further here since content-filter evaluation is outside this module's
// scope beyond routing.
type EventFilter struct {
	SelectClauses []string
	WhereClause   string
}

// notification is one queued value+clientHandle pending delivery.
type notification struct {
	value  ua.DataValue
	handle uint32
}

// MonitoredItem is a server-side sampler bound to one attribute of one
// node (§3).
type MonitoredItem struct {
	mu sync.Mutex

	Id             uint32
	NodeId         ua.NodeId
	AttributeId    uint32
	IndexRange     string
	ClientHandle   uint32
	Mode           MonitoringMode
	SamplingInterval time.Duration
	QueueSize      uint32
	DiscardOldest  bool
	TimestampsMode ua.TimestampsToReturn

	DataChange *DataChangeFilter
	Event      *EventFilter

	queue []notification

	lastValue     ua.Variant
	lastStatus    ua.StatusCode
	lastTimestamp time.Time
	hasLast       bool
}

// ClampSamplingInterval applies §4.12's clamping rules: bound to
// [serverMin, serverMax], then raised to the node's minimumSamplingInterval
// for Value attributes on Variables, or forced to a large default for
// EventNotifier attributes (deadband is ignored in that case).
func ClampSamplingInterval(requested, serverMin, serverMax, nodeMinimum time.Duration, isEventNotifier bool) time.Duration {
	if isEventNotifier {
		return 10 * time.Second
	}
	v := requested
	if v < serverMin {
		v = serverMin
	}
	if v > serverMax {
		v = serverMax
	}
	if v < nodeMinimum {
		v = nodeMinimum
	}
	return v
}

// ClampQueueSize bounds requested between [serverMin, serverMax].
func ClampQueueSize(requested, serverMin, serverMax uint32) uint32 {
	if requested < serverMin {
		return serverMin
	}
	if requested > serverMax {
		return serverMax
	}
	return requested
}

// ValidateDataChangeFilter enforces §4.12's deadband preconditions:
// absolute/percent deadband require a numeric type; percent additionally
// requires 0 <= value <= 100.
func ValidateDataChangeFilter(f *DataChangeFilter, valueType ua.BuiltInType) ua.StatusCode {
	switch f.Deadband {
	case DeadbandAbsolute:
		if !valueType.IsNumeric() {
			return ua.StatusOf(ua.ErrBadInvalidArgument)
		}
	case DeadbandPercent:
		if !valueType.IsNumeric() {
			return ua.StatusOf(ua.ErrBadInvalidArgument)
		}
		if f.DeadbandValue < 0 || f.DeadbandValue > 100 {
			return ua.StatusOf(ua.ErrBadInvalidArgument)
		}
	}
	return ua.Good
}

// QueueLen reports the number of queued notifications.
func (m *MonitoredItem) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// PopNotification removes and returns the oldest queued notification.
func (m *MonitoredItem) PopNotification() (ua.DataValue, uint32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return ua.DataValue{}, 0, false
	}
	n := m.queue[0]
	m.queue = m.queue[1:]
	return n.value, n.handle, true
}

// Sample evaluates a freshly read DataValue against the trigger and
// deadband filter, enqueuing a notification on change (§4.12). eurangeLow/
// eurangeHigh are the variable's EURange bounds for percent deadband, with
// haveEURange indicating whether that property is present; its absence
// falls through to no-deadband per the spec.
func (m *MonitoredItem) Sample(dv ua.DataValue, eurangeLow, eurangeHigh float64, haveEURange bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Mode != ModeReporting {
		return
	}

	changed := m.changedLocked(dv)
	if !changed {
		return
	}

	if m.DataChange != nil && dv.HasValue {
		if suppressed := m.deadbandSuppressesLocked(dv, eurangeLow, eurangeHigh, haveEURange); suppressed {
			m.rememberLocked(dv)
			return
		}
	}

	m.enqueueLocked(dv)
	m.rememberLocked(dv)
}

func (m *MonitoredItem) changedLocked(dv ua.DataValue) bool {
	if !m.hasLast {
		return true
	}
	trigger := TriggerStatusValue
	if m.DataChange != nil {
		trigger = m.DataChange.Trigger
	}
	if dv.Status.Code != m.lastStatus.Code {
		return true
	}
	if trigger == TriggerStatus {
		return false
	}
	if !valuesEqual(dv.Value, m.lastValue) {
		return true
	}
	if trigger == TriggerStatusValueTimestamp {
		return !dv.SourceTimestamp.Equal(m.lastTimestamp)
	}
	return false
}

func (m *MonitoredItem) deadbandSuppressesLocked(dv ua.DataValue, eurangeLow, eurangeHigh float64, haveEURange bool) bool {
	switch m.DataChange.Deadband {
	case DeadbandAbsolute:
		old, oldOK := numericValue(m.lastValue)
		new_, newOK := numericValue(dv.Value)
		if !oldOK || !newOK {
			return false
		}
		return math.Abs(new_-old) <= m.DataChange.DeadbandValue
	case DeadbandPercent:
		if !haveEURange {
			return false // falls through as no-deadband, per §4.12
		}
		old, oldOK := numericValue(m.lastValue)
		new_, newOK := numericValue(dv.Value)
		if !oldOK || !newOK {
			return false
		}
		span := eurangeHigh - eurangeLow
		if span <= 0 {
			return false
		}
		threshold := span * (m.DataChange.DeadbandValue / 100.0)
		return math.Abs(new_-old) <= threshold
	default:
		return false
	}
}

func (m *MonitoredItem) enqueueLocked(dv ua.DataValue) {
	n := notification{value: dv, handle: m.ClientHandle}
	m.queue = append(m.queue, n)
	if uint32(len(m.queue)) <= m.QueueSize {
		return
	}
	// Overflow: drop oldest or newest by DiscardOldest, and OR the
	// overflow InfoBit onto the survivor at the boundary so it rides
	// along on the wire with that notification's status (§4.12, P5:
	// "exactly one notification carries the overflow InfoBits bit").
	if m.DiscardOldest {
		m.queue = m.queue[1:]
		m.queue[0].value.Status = m.queue[0].value.Status.WithOverflow()
	} else {
		m.queue = m.queue[:len(m.queue)-1]
		last := len(m.queue) - 1
		m.queue[last].value.Status = m.queue[last].value.Status.WithOverflow()
	}
}

func (m *MonitoredItem) rememberLocked(dv ua.DataValue) {
	m.lastValue = dv.Value
	m.lastStatus = dv.Status
	m.lastTimestamp = dv.SourceTimestamp
	m.hasLast = true
}

// ResetSampling clears lastValue/lastStatus and queued notifications, per
// §4.12: "disabling or moving to sampling (non-reporting) drops queued
// notifications and resets lastSampledValue".
func (m *MonitoredItem) ResetSampling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = nil
	m.hasLast = false
}

// SetMode transitions the item's MonitoringMode, applying the reset rule
// above when leaving Reporting.
func (m *MonitoredItem) SetMode(mode MonitoringMode) {
	m.mu.Lock()
	leaving := m.Mode == ModeReporting && mode != ModeReporting
	m.Mode = mode
	m.mu.Unlock()
	if leaving {
		m.ResetSampling()
	}
}

func numericValue(v ua.Variant) (float64, bool) {
	switch n := v.Scalar.(type) {
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func valuesEqual(a, b ua.Variant) bool {
	if a.IsArray() != b.IsArray() {
		return false
	}
	if a.IsArray() {
		if len(a.Array) != len(b.Array) {
			return false
		}
		for i := range a.Array {
			if a.Array[i] != b.Array[i] {
				return false
			}
		}
		return true
	}
	return a.Scalar == b.Scalar
}
