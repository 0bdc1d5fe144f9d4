// Package attribute implements the Read and Write services: per-attribute
// access with NumericRange sub-ranges and optional DataSource callbacks
// (§4.4, §4.5).
package attribute

import (
	"time"

	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/nodestore"
	"github.com/open62541/open62541-sub008/internal/reftypes"
	"github.com/open62541/open62541-sub008/internal/typecheck"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

// AttributeId numbers the standard OPC UA node attributes this core knows
// about.
type AttributeId uint32

const (
	AttrNodeId AttributeId = iota + 1
	AttrNodeClass
	AttrBrowseName
	AttrDisplayName
	AttrDescription
	AttrWriteMask
	AttrUserWriteMask
	AttrIsAbstract
	AttrSymmetric
	AttrInverseName
	AttrContainsNoLoops
	AttrEventNotifier
	AttrValue
	AttrDataType
	AttrValueRank
	AttrArrayDimensions
	AttrAccessLevel
	AttrUserAccessLevel
	AttrMinimumSamplingInterval
	AttrHistorizing
	AttrExecutable
	AttrUserExecutable
)

const (
	accessLevelRead  uint8 = 0x01
	accessLevelWrite uint8 = 0x02
)

// ReadValueId names one attribute read request (§4.4).
type ReadValueId struct {
	NodeId        ua.NodeId
	AttributeId   AttributeId
	IndexRange    string
	DataEncoding  string
}

// Read executes one ReadValueId against store, honoring the attribute
// dispatch, access-level, NumericRange, and timestamp-policy rules of
// §4.4. effectiveUserAccessLevel is the caller's access mask for Value
// reads (0 if not yet computed by the caller's permission layer).
func Read(store *nodestore.Store, rv ReadValueId, mode ua.TimestampsToReturn, effectiveUserAccessLevel uint8, now time.Time) ua.DataValue {
	if rv.DataEncoding != "" && rv.DataEncoding != "Default Binary" {
		return badStatus(ua.ErrBadDataEncodingInvalid)
	}
	if rv.IndexRange != "" && rv.AttributeId != AttrValue {
		return badStatus(ua.ErrBadIndexRangeInvalid)
	}

	n, ok := store.Get(rv.NodeId)
	if !ok {
		return badStatus(ua.ErrBadNodeIdUnknown)
	}

	if !attributeAppliesToClass(rv.AttributeId, n.Class) {
		return badStatus(ua.ErrBadAttributeIdInvalid)
	}

	if rv.AttributeId == AttrValue {
		return readValue(n, rv.IndexRange, mode, effectiveUserAccessLevel, now)
	}

	v, status := readNonValueAttribute(n, rv.AttributeId)
	if status.IsBad() {
		return ua.DataValue{Status: status, HasStatus: true}
	}
	dv := ua.NewGoodDataValue(v, now)
	return ua.ApplyTimestampPolicy(dv, mode, now)
}

func badStatus(code ua.ErrorCode) ua.DataValue {
	return ua.DataValue{Status: ua.StatusOf(code), HasStatus: true}
}

func readValue(n *ua.Node, indexRange string, mode ua.TimestampsToReturn, userAccessLevel uint8, now time.Time) ua.DataValue {
	if n.Variable == nil {
		return badStatus(ua.ErrBadAttributeIdInvalid)
	}
	if userAccessLevel&accessLevelRead == 0 {
		return badStatus(ua.ErrBadNotReadable)
	}

	src := n.Variable.Source
	var dv ua.DataValue
	if src.Kind == ua.ValueSourceDataSource {
		if src.DataSourceRead == nil {
			return badStatus(ua.ErrBadNotReadable)
		}
		wantSource := mode == ua.TimestampsSource || mode == ua.TimestampsBoth
		dv, status := src.DataSourceRead(indexRange, wantSource)
		if status.IsBad() {
			return ua.DataValue{Status: status, HasStatus: true}
		}
		return ua.ApplyTimestampPolicy(dv, mode, now)
	}

	dv = src.Value
	if src.OnRead != nil {
		if overlay, ok := src.OnRead(indexRange); ok {
			dv = overlay
		}
	}

	if indexRange != "" {
		r, err := ua.ParseNumericRange(indexRange)
		if err != nil {
			return badStatus(ua.ErrBadIndexRangeInvalid)
		}
		sliced, err := dv.Value.Slice(r)
		if err != nil {
			return badStatus(ua.ErrBadIndexRangeNoData)
		}
		dv.Value = sliced
	}

	return ua.ApplyTimestampPolicy(dv, mode, now)
}

func readNonValueAttribute(n *ua.Node, id AttributeId) (ua.Variant, ua.StatusCode) {
	switch id {
	case AttrNodeId:
		return ua.NewCustomScalar(ua.NewNumericNodeId(0, 17), n.NodeId), ua.Good
	case AttrNodeClass:
		return ua.NewScalar(ua.TypeInt32, int32(n.Class)), ua.Good
	case AttrBrowseName:
		return ua.NewCustomScalar(ua.NewNumericNodeId(0, 20), n.BrowseName), ua.Good
	case AttrDisplayName:
		return ua.NewCustomScalar(ua.NewNumericNodeId(0, 21), n.DisplayName), ua.Good
	case AttrDescription:
		return ua.NewCustomScalar(ua.NewNumericNodeId(0, 21), n.Description), ua.Good
	case AttrWriteMask:
		return ua.NewScalar(ua.TypeUInt32, n.WriteMask), ua.Good
	case AttrUserWriteMask:
		return ua.NewScalar(ua.TypeUInt32, n.UserWriteMask), ua.Good
	case AttrIsAbstract:
		return ua.NewScalar(ua.TypeBoolean, n.IsAbstract()), ua.Good
	case AttrSymmetric:
		if n.ReferenceType == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeBoolean, n.ReferenceType.Symmetric), ua.Good
	case AttrInverseName:
		if n.ReferenceType == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewCustomScalar(ua.NewNumericNodeId(0, 21), n.ReferenceType.InverseName), ua.Good
	case AttrContainsNoLoops:
		if n.View == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeBoolean, n.View.ContainsNoLoops), ua.Good
	case AttrEventNotifier:
		if n.View == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeByte, n.View.EventNotifier), ua.Good
	case AttrDataType:
		if n.Variable == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewCustomScalar(ua.NewNumericNodeId(0, 17), n.Variable.DataType), ua.Good
	case AttrValueRank:
		if n.Variable == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeInt32, n.Variable.ValueRank), ua.Good
	case AttrArrayDimensions:
		if n.Variable == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		dims := make([]any, len(n.Variable.ArrayDimensions))
		for i, d := range n.Variable.ArrayDimensions {
			dims[i] = d
		}
		return ua.NewArray(ua.TypeUInt32, dims, nil), ua.Good
	case AttrAccessLevel:
		if n.Variable == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeByte, n.Variable.AccessLevel), ua.Good
	case AttrUserAccessLevel:
		if n.Variable == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeByte, n.Variable.UserAccessLevel), ua.Good
	case AttrMinimumSamplingInterval:
		if n.Variable == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeDouble, n.Variable.MinimumSamplingInterval), ua.Good
	case AttrHistorizing:
		if n.Variable == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeBoolean, n.Variable.Historizing), ua.Good
	case AttrExecutable:
		if n.Method == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeBoolean, n.Method.Executable), ua.Good
	case AttrUserExecutable:
		if n.Method == nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
		}
		return ua.NewScalar(ua.TypeBoolean, n.Method.UserExecutable), ua.Good
	default:
		return ua.Variant{}, ua.StatusOf(ua.ErrBadAttributeIdInvalid)
	}
}

// attributeAppliesToClass enforces the class-restricted attributes named
// in §4.4 (e.g. ContainsNoLoops on View only).
func attributeAppliesToClass(id AttributeId, class ua.NodeClass) bool {
	switch id {
	case AttrIsAbstract:
		switch class {
		case ua.ClassObjectType, ua.ClassVariableType, ua.ClassReferenceType, ua.ClassDataType:
			return true
		default:
			return false
		}
	case AttrSymmetric, AttrInverseName:
		return class == ua.ClassReferenceType
	case AttrContainsNoLoops, AttrEventNotifier:
		return class == ua.ClassView
	case AttrValue, AttrDataType, AttrValueRank, AttrArrayDimensions, AttrAccessLevel,
		AttrUserAccessLevel, AttrMinimumSamplingInterval, AttrHistorizing:
		return class == ua.ClassVariable || class == ua.ClassVariableType
	case AttrExecutable, AttrUserExecutable:
		return class == ua.ClassMethod
	default:
		return true
	}
}

// WriteValue names one attribute write request (§4.5).
type WriteValue struct {
	NodeId      ua.NodeId
	AttributeId AttributeId
	IndexRange  string
	Value       ua.DataValue
}

// WriteMaskBit names the bit-position constants that gate per-attribute
// writes (mirrors the OPC UA AttributeWriteMask enum).
type WriteMaskBit uint32

const (
	WriteMaskValueForVariableType WriteMaskBit = 1 << 21
)

// Write executes one WriteValue against store using the copy/replace
// mutation path (§4.1, §4.5). writeMaskOk reports whether the
// attribute-specific writeMask bit is set for the effective user;
// callers compute that from the node's WriteMask/UserWriteMask and pass
// the result in, since the bit-to-attribute mapping beyond Value is a
// pure lookup table outside this package's concern.
func Write(store *nodestore.Store, lookup reftypes.NodeLookup, wv WriteValue, writeMaskOk bool, now time.Time) ua.StatusCode {
	if !writeMaskOk {
		return ua.StatusOf(ua.ErrBadUserAccessDenied)
	}

	for {
		n, version, ok := store.CopyWithVersion(wv.NodeId)
		if !ok {
			return ua.StatusOf(ua.ErrBadNodeIdUnknown)
		}

		status := applyWrite(lookup, n, wv, now)
		if status.IsBad() {
			return status
		}

		if err := store.Replace(version, n); err != nil {
			if err == nodestore.ErrStale {
				continue
			}
			return ua.StatusOf(ua.ErrBadNodeIdUnknown)
		}
		return ua.Good
	}
}

func applyWrite(lookup reftypes.NodeLookup, n *ua.Node, wv WriteValue, now time.Time) ua.StatusCode {
	switch wv.AttributeId {
	case AttrValue:
		return writeValueAttribute(lookup, n, wv, now)
	case AttrArrayDimensions:
		return writeArrayDimensions(n, wv)
	case AttrValueRank:
		return writeValueRank(n, wv)
	case AttrDataType:
		return writeDataType(lookup, n, wv)
	case AttrWriteMask:
		if wv.Value.Value.Scalar == nil {
			return ua.StatusOf(ua.ErrBadTypeMismatch)
		}
		mask, ok := wv.Value.Value.Scalar.(uint32)
		if !ok {
			return ua.StatusOf(ua.ErrBadTypeMismatch)
		}
		n.WriteMask = mask
		return ua.Good
	default:
		return ua.StatusOf(ua.ErrBadWriteNotSupported)
	}
}

func writeValueAttribute(lookup reftypes.NodeLookup, n *ua.Node, wv WriteValue, now time.Time) ua.StatusCode {
	if n.Variable == nil {
		return ua.StatusOf(ua.ErrBadWriteNotSupported)
	}
	requiredBit := accessLevelWrite
	if n.Variable.IsType {
		// VariableType writes require the WriteMaskValueForVariableType
		// bit rather than the per-instance AccessLevel mask (§4.5).
		if n.WriteMask&uint32(WriteMaskValueForVariableType) == 0 {
			return ua.StatusOf(ua.ErrBadUserAccessDenied)
		}
	} else if n.Variable.AccessLevel&requiredBit == 0 {
		return ua.StatusOf(ua.ErrBadNotWritable)
	}

	newValue := wv.Value.Value
	if wv.IndexRange != "" {
		r, err := ua.ParseNumericRange(wv.IndexRange)
		if err != nil {
			return ua.StatusOf(ua.ErrBadIndexRangeInvalid)
		}
		if !n.Variable.Source.Value.HasValue {
			return ua.StatusOf(ua.ErrBadIndexRangeNoData)
		}
		merged, err := n.Variable.Source.Value.Value.SetRangeCopy(r, newValue)
		if err != nil {
			return ua.StatusOf(ua.ErrBadIndexRangeNoData)
		}
		newValue = merged
	} else {
		checked, status := typecheck.TypeCheckValue(lookup, n.Variable.DataType, n.Variable.ValueRank, n.Variable.ArrayDimensions, newValue, "")
		if status.IsBad() {
			return status
		}
		newValue = checked
	}

	if n.Variable.Source.Kind == ua.ValueSourceDataSource {
		if n.Variable.Source.DataSourceWrite == nil {
			return ua.StatusOf(ua.ErrBadWriteNotSupported)
		}
		return n.Variable.Source.DataSourceWrite(ua.DataValue{Value: newValue, HasValue: true, Status: ua.Good, HasStatus: true}, wv.IndexRange)
	}

	n.Variable.Source.Value = ua.NewGoodDataValue(newValue, now)
	if n.Variable.Source.OnWrite != nil {
		n.Variable.Source.OnWrite(n.Variable.Source.Value)
	}
	return ua.Good
}

func writeArrayDimensions(n *ua.Node, wv WriteValue) ua.StatusCode {
	if n.Variable == nil {
		return ua.StatusOf(ua.ErrBadWriteNotSupported)
	}
	dims, ok := toUint32Slice(wv.Value.Value)
	if !ok {
		return ua.StatusOf(ua.ErrBadTypeMismatch)
	}
	if n.Variable.Source.Value.HasValue && n.Variable.Source.Value.Value.IsArray() {
		if !typecheck.CompatibleArrayDimensions(dims, n.Variable.Source.Value.Value.ArrayDimensions) {
			return ua.StatusOf(ua.ErrBadTypeMismatch)
		}
	}
	n.Variable.ArrayDimensions = dims
	return ua.Good
}

func writeValueRank(n *ua.Node, wv WriteValue) ua.StatusCode {
	if n.Variable == nil {
		return ua.StatusOf(ua.ErrBadWriteNotSupported)
	}
	rank, ok := wv.Value.Value.Scalar.(int32)
	if !ok {
		return ua.StatusOf(ua.ErrBadTypeMismatch)
	}
	if n.Variable.Source.Value.HasValue {
		if !typecheck.CompatibleValueRank(n.Variable.Source.Value.Value.Rank(), rank) {
			return ua.StatusOf(ua.ErrBadTypeMismatch)
		}
	}
	n.Variable.ValueRank = rank
	return ua.Good
}

func writeDataType(lookup reftypes.NodeLookup, n *ua.Node, wv WriteValue) ua.StatusCode {
	if n.Variable == nil {
		return ua.StatusOf(ua.ErrBadWriteNotSupported)
	}
	if n.Variable.IsType {
		// An inverse HasTypeDefinition (i=40) reference marks an instance.
		for _, r := range n.References {
			if r.IsInverse && r.ReferenceTypeId.Equal(ua.NewNumericNodeId(0, 40)) {
				logger.Warn("rejecting DataType write on a VariableType with instances", logger.NodeID(n.NodeId.String_()))
				return ua.StatusOf(ua.ErrBadInvalidState)
			}
		}
	}
	newType, ok := wv.Value.Value.Scalar.(ua.NodeId)
	if !ok {
		return ua.StatusOf(ua.ErrBadTypeMismatch)
	}
	if n.Variable.Source.Value.HasValue {
		if !typecheck.CompatibleDataType(lookup, n.Variable.Source.Value.Value.TypeId, newType) {
			return ua.StatusOf(ua.ErrBadTypeMismatch)
		}
	}
	n.Variable.DataType = newType
	return ua.Good
}

func toUint32Slice(v ua.Variant) ([]uint32, bool) {
	if !v.IsArray() {
		return nil, false
	}
	out := make([]uint32, len(v.Array))
	for i, el := range v.Array {
		u, ok := el.(uint32)
		if !ok {
			return nil, false
		}
		out[i] = u
	}
	return out, true
}
