package ua

import "time"

// TimestampsToReturn selects which timestamps a Read or a MonitoredItem
// notification should carry (§4.4 timestamp policy).
type TimestampsToReturn uint8

const (
	TimestampsSource TimestampsToReturn = iota
	TimestampsServer
	TimestampsBoth
	TimestampsNeither
)

// DataValue is a value together with its status and source/server
// timestamps, each independently present-or-not (§3).
type DataValue struct {
	Value              Variant
	HasValue           bool
	Status             StatusCode
	HasStatus          bool
	SourceTimestamp    time.Time
	HasSourceTimestamp bool
	SourcePicoseconds  uint16
	ServerTimestamp    time.Time
	HasServerTimestamp bool
	ServerPicoseconds  uint16
}

// NewGoodDataValue builds a DataValue carrying v with Good status and both
// timestamps set to now; callers then apply ApplyTimestampPolicy.
func NewGoodDataValue(v Variant, now time.Time) DataValue {
	return DataValue{
		Value: v, HasValue: true,
		Status: Good, HasStatus: true,
		SourceTimestamp: now, HasSourceTimestamp: true,
		ServerTimestamp: now, HasServerTimestamp: true,
	}
}

// ApplyTimestampPolicy trims a DataValue's timestamps according to the
// requested TimestampsToReturn (§4.4):
//   - server timestamp is kept iff the mode is Server or Both
//   - source timestamp is cleared iff the mode is Server or Neither
//   - a caller that asked for a source timestamp but has none gets "now"
func ApplyTimestampPolicy(dv DataValue, mode TimestampsToReturn, now time.Time) DataValue {
	result := dv

	switch mode {
	case TimestampsServer, TimestampsBoth:
		if !result.HasServerTimestamp {
			result.ServerTimestamp = now
		}
		result.HasServerTimestamp = true
	default:
		result.HasServerTimestamp = false
		result.ServerTimestamp = time.Time{}
	}

	switch mode {
	case TimestampsServer, TimestampsNeither:
		result.HasSourceTimestamp = false
		result.SourceTimestamp = time.Time{}
	default:
		if !result.HasSourceTimestamp {
			result.SourceTimestamp = now
		}
		result.HasSourceTimestamp = true
	}

	return result
}
