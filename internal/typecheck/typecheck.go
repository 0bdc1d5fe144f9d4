// Package typecheck implements the compatibility rules between a stored
// Variable's value and its declared dataType/valueRank/arrayDimensions
// (§4.3).
package typecheck

import (
	"github.com/open62541/open62541-sub008/internal/reftypes"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

// Enumeration is the standard DataType NodeId (namespace 0, id 29).
var Enumeration = ua.NewNumericNodeId(0, 29)

// BaseDataType is the standard DataType NodeId (namespace 0, id 24), the
// root of the DataType hierarchy.
var BaseDataType = ua.NewNumericNodeId(0, 24)

// CompatibleDataType implements the six-rule ordering from §4.3.
func CompatibleDataType(store reftypes.NodeLookup, v, constraint ua.NodeId) bool {
	// Rule 1: null value rejected, except against BaseDataType/null.
	if v.IsNull() {
		return constraint.IsNull() || constraint.Equal(BaseDataType)
	}
	// Rule 2: equal NodeIds accept.
	if v.Equal(constraint) {
		return true
	}
	// Rule 3: constraint = BaseDataType accepts any non-null type.
	if constraint.Equal(BaseDataType) {
		return true
	}
	// Rule 4: constraint is a subtype of Enumeration accepts iff v == Int32.
	if reftypes.IsSubtypeOrSame(store, constraint, Enumeration) {
		int32Id := ua.NewNumericNodeId(0, 6)
		return v.Equal(int32Id)
	}
	// Rule 5: v is a subtype of constraint accepts.
	if reftypes.IsSubtypeOrSame(store, v, constraint) {
		return true
	}
	// Rule 6: v is a built-in (ns 0, numeric <= 25) and constraint is a
	// subtype of v accepts (e.g. writing DateTime into a UtcTime slot).
	if v.Namespace == 0 && v.Kind == ua.IdentifierNumeric && v.Numeric <= 25 {
		if reftypes.IsSubtypeOrSame(store, constraint, v) {
			return true
		}
	}
	return false
}

// CompatibleValueRank implements the OPC UA valueRank compatibility rules
// for -3/-2/-1/0/N (§4.3). constraintRank is the type/attribute
// declaration; rank is the value being checked against it.
func CompatibleValueRank(rank, constraintRank int32) bool {
	switch constraintRank {
	case -2: // Any
		return true
	case -3: // ScalarOrOneDimension
		return rank == -1 || rank == 1
	case -1: // Scalar
		return rank == -1
	case 0: // OneOrMoreDimensions
		return rank >= 1
	default: // N: exact dimension count required
		if constraintRank < 0 {
			return false
		}
		return rank == constraintRank
	}
}

// CompatibleArrayDimensions implements §4.3's array-dimensions check:
// empty constraint always matches; otherwise lengths must match and each
// constraint dimension is either 0 (wildcard) or equal to the test value.
func CompatibleArrayDimensions(constraintDims, testDims []uint32) bool {
	if len(constraintDims) == 0 {
		return true
	}
	if len(constraintDims) != len(testDims) {
		return false
	}
	for i, c := range constraintDims {
		if c != 0 && c != testDims[i] {
			return false
		}
	}
	return true
}

// ConvertToMatchingValue performs the non-ambiguous coercions of §4.3: a
// ByteString scalar becomes a Byte array of the same bytes when target is
// Byte, and an Int32 scalar is relabelled as target when target is
// Enumeration or one of its subtypes. Enum->Int32 and Opaque<->ByteArray
// values are not converted. It never mutates value; ok is false when no
// coercion applies (the caller should then treat the original typecheck
// result as final).
func ConvertToMatchingValue(store reftypes.NodeLookup, target ua.NodeId, value ua.Variant) (ua.Variant, bool) {
	if value.BuiltIn == ua.TypeByteString && target.Equal(ua.NewNumericNodeId(0, 3)) {
		if b, isBytes := value.Scalar.([]byte); isBytes {
			arr := make([]any, len(b))
			for i, by := range b {
				arr[i] = by
			}
			return ua.Variant{TypeId: target, BuiltIn: ua.TypeByte, Array: arr}, true
		}
	}
	if value.BuiltIn == ua.TypeInt32 && reftypes.IsSubtypeOrSame(store, target, Enumeration) {
		return ua.Variant{TypeId: target, BuiltIn: ua.TypeCustom, Scalar: value.Scalar}, true
	}
	return ua.Variant{}, false
}

// TypeCheckValue combines the rules above with an optional NumericRange
// slice and the coercion fallback (§4.3's type_check_value +
// convert_to_matching_value).
func TypeCheckValue(store reftypes.NodeLookup, targetType ua.NodeId, targetRank int32, targetDims []uint32, value ua.Variant, rangeStr string) (ua.Variant, ua.StatusCode) {
	checkValue := value
	if rangeStr != "" {
		r, err := ua.ParseNumericRange(rangeStr)
		if err != nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadIndexRangeInvalid)
		}
		sliced, err := value.Slice(r)
		if err != nil {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadIndexRangeNoData)
		}
		checkValue = sliced
	}

	if !CompatibleDataType(store, checkValue.TypeId, targetType) {
		if coerced, ok := ConvertToMatchingValue(store, targetType, checkValue); ok {
			checkValue = coerced
		} else {
			return ua.Variant{}, ua.StatusOf(ua.ErrBadTypeMismatch)
		}
	}

	if !CompatibleValueRank(checkValue.Rank(), targetRank) {
		return ua.Variant{}, ua.StatusOf(ua.ErrBadTypeMismatch)
	}

	if checkValue.IsArray() && !CompatibleArrayDimensions(targetDims, checkValue.ArrayDimensions) {
		return ua.Variant{}, ua.StatusOf(ua.ErrBadTypeMismatch)
	}

	return checkValue, ua.Good
}
