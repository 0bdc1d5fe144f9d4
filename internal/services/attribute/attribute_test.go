package attribute

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open62541/open62541-sub008/internal/nodestore"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

func newVariableNode(id ua.NodeId, value ua.Variant, accessLevel uint8) *ua.Node {
	return &ua.Node{
		Header: ua.Header{
			NodeId:      id,
			Class:       ua.ClassVariable,
			BrowseName:  ua.QualifiedName{NamespaceIndex: id.Namespace, Name: "V"},
			DisplayName: ua.LocalizedText{Text: "V"},
		},
		Variable: &ua.VariableBody{
			DataType:    mustTypeId(value),
			ValueRank:   value.Rank(),
			AccessLevel: accessLevel,
			Source:      ua.ValueSource{Kind: ua.ValueSourceOwned, Value: ua.NewGoodDataValue(value, time.Now())},
		},
	}
}

func mustTypeId(v ua.Variant) ua.NodeId {
	return v.TypeId
}

func TestReadValueReturnsGood(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 100)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(42)), 0x03)
	_, err := store.Insert(n)
	require.NoError(t, err)

	rv := ReadValueId{NodeId: id, AttributeId: AttrValue}
	dv := Read(store, rv, ua.TimestampsBoth, 0x03, time.Now())
	require.True(t, dv.Status.IsGood())
	assert.Equal(t, int32(42), dv.Value.Scalar)
}

func TestReadUnknownNodeReturnsBadNodeIdUnknown(t *testing.T) {
	store := nodestore.New()
	rv := ReadValueId{NodeId: ua.NewNumericNodeId(1, 999), AttributeId: AttrValue}
	dv := Read(store, rv, ua.TimestampsBoth, 0x03, time.Now())
	assert.Equal(t, ua.ErrBadNodeIdUnknown, dv.Status.Code)
}

func TestReadValueWithoutReadAccessDenied(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 101)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(1)), 0x02)
	_, err := store.Insert(n)
	require.NoError(t, err)

	rv := ReadValueId{NodeId: id, AttributeId: AttrValue}
	dv := Read(store, rv, ua.TimestampsBoth, 0x00, time.Now())
	assert.Equal(t, ua.ErrBadNotReadable, dv.Status.Code)
}

func TestReadNonValueAttributeAppliesTimestampPolicy(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 102)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(1)), 0x03)
	_, err := store.Insert(n)
	require.NoError(t, err)

	rv := ReadValueId{NodeId: id, AttributeId: AttrNodeClass}
	dv := Read(store, rv, ua.TimestampsNeither, 0, time.Now())
	assert.True(t, dv.Status.IsGood())
	assert.False(t, dv.HasSourceTimestamp)
	assert.False(t, dv.HasServerTimestamp)
}

func TestReadIndexRangeOnNonValueAttributeRejected(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 103)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(1)), 0x03)
	_, err := store.Insert(n)
	require.NoError(t, err)

	rv := ReadValueId{NodeId: id, AttributeId: AttrNodeClass, IndexRange: "0:1"}
	dv := Read(store, rv, ua.TimestampsBoth, 0, time.Now())
	assert.Equal(t, ua.ErrBadIndexRangeInvalid, dv.Status.Code)
}

func TestWriteValueRoundTrips(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 200)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(1)), 0x03)
	_, err := store.Insert(n)
	require.NoError(t, err)

	wv := WriteValue{
		NodeId:      id,
		AttributeId: AttrValue,
		Value:       ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(77)), time.Now()),
	}
	status := Write(store, store, wv, true, time.Now())
	require.True(t, status.IsGood())

	got, ok := store.Get(id)
	require.True(t, ok)
	assert.Equal(t, int32(77), got.Variable.Source.Value.Value.Scalar)
}

func TestWriteValueWithoutWriteAccessDenied(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 201)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(1)), 0x01) // read-only
	_, err := store.Insert(n)
	require.NoError(t, err)

	wv := WriteValue{
		NodeId:      id,
		AttributeId: AttrValue,
		Value:       ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(2)), time.Now()),
	}
	status := Write(store, store, wv, true, time.Now())
	assert.Equal(t, ua.ErrBadNotWritable, status.Code)
}

func TestWriteRejectsWriteMaskDenied(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 202)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(1)), 0x03)
	_, err := store.Insert(n)
	require.NoError(t, err)

	wv := WriteValue{NodeId: id, AttributeId: AttrValue, Value: ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(9)), time.Now())}
	status := Write(store, store, wv, false, time.Now())
	assert.Equal(t, ua.ErrBadUserAccessDenied, status.Code)
}

func TestWriteTypeMismatchRejected(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 203)
	n := newVariableNode(id, ua.NewScalar(ua.TypeInt32, int32(1)), 0x03)
	_, err := store.Insert(n)
	require.NoError(t, err)

	wv := WriteValue{
		NodeId:      id,
		AttributeId: AttrValue,
		Value:       ua.NewGoodDataValue(ua.NewScalar(ua.TypeString, "not an int"), time.Now()),
	}
	status := Write(store, store, wv, true, time.Now())
	assert.Equal(t, ua.ErrBadTypeMismatch, status.Code)
}

func TestWriteIndexRangeMergesArrayElement(t *testing.T) {
	store := nodestore.New()
	id := ua.NewNumericNodeId(1, 204)
	arr := ua.NewArray(ua.TypeInt32, []any{int32(1), int32(2), int32(3)}, nil)
	n := newVariableNode(id, arr, 0x03)
	n.Variable.ValueRank = 1
	_, err := store.Insert(n)
	require.NoError(t, err)

	wv := WriteValue{
		NodeId:      id,
		AttributeId: AttrValue,
		IndexRange:  "1",
		Value:       ua.NewGoodDataValue(ua.NewScalar(ua.TypeInt32, int32(99)), time.Now()),
	}
	status := Write(store, store, wv, true, time.Now())
	require.True(t, status.IsGood())

	got, _ := store.Get(id)
	assert.Equal(t, []any{int32(1), int32(99), int32(3)}, got.Variable.Source.Value.Value.Array)
}
