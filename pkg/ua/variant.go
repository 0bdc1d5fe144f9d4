package ua

import "fmt"

// BuiltInType names the standard scalar type set: the 25 built-in types
// are enumerated, and any other type is carried as TypeCustom with an
// explicit NodeId.
type BuiltInType uint8

const (
	TypeCustom BuiltInType = iota
	TypeBoolean
	TypeSByte
	TypeByte
	TypeInt16
	TypeUInt16
	TypeInt32
	TypeUInt32
	TypeInt64
	TypeUInt64
	TypeFloat
	TypeDouble
	TypeString
	TypeDateTime
	TypeGUID
	TypeByteString
	TypeXMLElement
	TypeNodeId
	TypeExpandedNodeId
	TypeStatusCode
	TypeQualifiedName
	TypeLocalizedText
	TypeExtensionObject
	TypeDataValue
	TypeVariant
	TypeDiagnosticInfo
)

// builtInDataTypeId maps a BuiltInType to its standard NodeId (namespace 0,
// numeric 1..25), used to go from a Variant's runtime type to the dataType
// constraint vocabulary compatible_data_type understands.
var builtInDataTypeId = map[BuiltInType]uint32{
	TypeBoolean:         1,
	TypeSByte:           2,
	TypeByte:            3,
	TypeInt16:           4,
	TypeUInt16:          5,
	TypeInt32:           6,
	TypeUInt32:          7,
	TypeInt64:           8,
	TypeUInt64:          9,
	TypeFloat:           10,
	TypeDouble:          11,
	TypeString:          12,
	TypeDateTime:        13,
	TypeGUID:            14,
	TypeByteString:      15,
	TypeXMLElement:      16,
	TypeNodeId:          17,
	TypeExpandedNodeId:  18,
	TypeStatusCode:      19,
	TypeQualifiedName:   20,
	TypeLocalizedText:   21,
	TypeExtensionObject: 22,
	TypeDataValue:       23,
	TypeVariant:         24,
	TypeDiagnosticInfo:  25,
}

// NodeId returns the standard NodeId for a built-in type, or the zero value
// with ok=false for TypeCustom (the caller must supply its own NodeId).
func (t BuiltInType) NodeId() (NodeId, bool) {
	n, ok := builtInDataTypeId[t]
	if !ok {
		return NodeId{}, false
	}
	return NewNumericNodeId(0, n), true
}

// IsNumeric reports whether t is one of the scalar numeric built-ins, used
// by the deadband filter (§4.12) which only applies to numeric values.
func (t BuiltInType) IsNumeric() bool {
	switch t {
	case TypeSByte, TypeByte, TypeInt16, TypeUInt16, TypeInt32, TypeUInt32,
		TypeInt64, TypeUInt64, TypeFloat, TypeDouble:
		return true
	default:
		return false
	}
}

// Variant is a dynamic value: empty, a scalar, or an n-dimensional array of
// some built-in or custom type (§3). ArrayDimensions is nil for a scalar.
type Variant struct {
	TypeId          NodeId
	BuiltIn         BuiltInType
	Scalar          any
	Array           []any
	ArrayDimensions []uint32
}

// Empty reports whether the variant carries no value.
func (v Variant) Empty() bool {
	return v.Scalar == nil && v.Array == nil
}

// IsArray reports whether v holds an array (including a zero-length one);
// the distinction from a scalar matters for compatible_value_rank.
func (v Variant) IsArray() bool {
	return v.Array != nil
}

// Rank returns the effective valueRank of the variant's shape: -1 for a
// scalar, otherwise len(ArrayDimensions) if set, else 1 for an
// undifferentiated array.
func (v Variant) Rank() int32 {
	if !v.IsArray() {
		return -1
	}
	if len(v.ArrayDimensions) > 0 {
		return int32(len(v.ArrayDimensions))
	}
	return 1
}

// NewScalar builds a scalar Variant of a built-in type.
func NewScalar(t BuiltInType, value any) Variant {
	id, _ := t.NodeId()
	return Variant{TypeId: id, BuiltIn: t, Scalar: value}
}

// NewCustomScalar builds a scalar Variant of a non-built-in (structured or
// enumerated) type named by id.
func NewCustomScalar(id NodeId, value any) Variant {
	return Variant{TypeId: id, BuiltIn: TypeCustom, Scalar: value}
}

// NewArray builds an array Variant of a built-in type.
func NewArray(t BuiltInType, values []any, dims []uint32) Variant {
	id, _ := t.NodeId()
	return Variant{TypeId: id, BuiltIn: t, Array: values, ArrayDimensions: dims}
}

// SetRangeCopy overlays a sub-array of v with replacement at the positions
// selected by r, per element along the first dimension (§4.5 NumericRange
// writes). It returns a new Variant; the receiver is left unmodified.
func (v Variant) SetRangeCopy(r NumericRange, replacement Variant) (Variant, error) {
	if !v.IsArray() {
		return Variant{}, fmt.Errorf("ua: SetRangeCopy on non-array variant")
	}
	if len(r) == 0 {
		return Variant{}, fmt.Errorf("ua: empty NumericRange")
	}
	dim := r[0]
	lo, hi := dim.Min, dim.Max
	if hi == 0 && dim.Single {
		hi = lo
	}
	if int(hi) >= len(v.Array) || lo > hi {
		return Variant{}, fmt.Errorf("ua: range [%d:%d] out of bounds for length %d", lo, hi, len(v.Array))
	}

	var repl []any
	if replacement.IsArray() {
		repl = replacement.Array
	} else {
		repl = []any{replacement.Scalar}
	}
	if len(repl) != int(hi-lo+1) {
		return Variant{}, fmt.Errorf("ua: replacement length %d does not match range length %d", len(repl), hi-lo+1)
	}

	out := make([]any, len(v.Array))
	copy(out, v.Array)
	copy(out[lo:hi+1], repl)

	result := v
	result.Array = out
	return result, nil
}

// Slice returns the sub-array/sub-scalar selected by r (§4.4 NumericRange
// reads). An empty range returns v unchanged.
func (v Variant) Slice(r NumericRange) (Variant, error) {
	if len(r) == 0 {
		return v, nil
	}
	if !v.IsArray() {
		return Variant{}, fmt.Errorf("ua: NumericRange on scalar value")
	}
	dim := r[0]
	lo, hi := dim.Min, dim.Max
	if dim.Single {
		hi = lo
	}
	if int(lo) >= len(v.Array) || int(hi) >= len(v.Array) || lo > hi {
		return Variant{}, fmt.Errorf("ua: range [%d:%d] out of bounds for length %d", lo, hi, len(v.Array))
	}
	sliced := append([]any(nil), v.Array[lo:hi+1]...)
	result := v
	result.Array = sliced
	result.ArrayDimensions = nil
	return result, nil
}
