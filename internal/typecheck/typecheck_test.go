package typecheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open62541/open62541-sub008/internal/nodestore"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

func TestCompatibleDataTypeReflexive(t *testing.T) {
	s := nodestore.New()
	int32Id := ua.NewNumericNodeId(0, 6)
	assert.True(t, CompatibleDataType(s, int32Id, int32Id))
}

func TestCompatibleDataTypeBaseDataTypeAcceptsAny(t *testing.T) {
	s := nodestore.New()
	stringId := ua.NewNumericNodeId(0, 12)
	assert.True(t, CompatibleDataType(s, stringId, BaseDataType))
}

func TestCompatibleDataTypeNullRejectedUnlessBase(t *testing.T) {
	s := nodestore.New()
	assert.False(t, CompatibleDataType(s, ua.NodeId{}, ua.NewNumericNodeId(0, 6)))
	assert.True(t, CompatibleDataType(s, ua.NodeId{}, BaseDataType))
}

func TestCompatibleDataTypeSubtypeAccepts(t *testing.T) {
	s := nodestore.New()
	parent := ua.NewNumericNodeId(1, 400)
	child := ua.NewNumericNodeId(1, 500)
	_, err := s.Insert(&ua.Node{Header: ua.Header{NodeId: parent, Class: ua.ClassDataType}})
	require.NoError(t, err)
	_, err = s.Insert(&ua.Node{Header: ua.Header{NodeId: child, Class: ua.ClassDataType}})
	require.NoError(t, err)
	require.NoError(t, s.AddBidirectionalReference(parent, ua.NewNumericNodeId(0, 45), ua.Local(child)))

	assert.True(t, CompatibleDataType(s, child, parent))
}

func TestCompatibleValueRank(t *testing.T) {
	assert.True(t, CompatibleValueRank(-1, -2))  // Any accepts scalar
	assert.True(t, CompatibleValueRank(-1, -1))  // scalar == scalar
	assert.False(t, CompatibleValueRank(1, -1))  // array rejected by Scalar
	assert.True(t, CompatibleValueRank(1, -3))   // ScalarOrOneDim accepts 1-d
	assert.True(t, CompatibleValueRank(-1, -3))  // ScalarOrOneDim accepts scalar
	assert.True(t, CompatibleValueRank(2, 2))    // exact N match
	assert.False(t, CompatibleValueRank(1, 2))   // N mismatch
}

func TestCompatibleArrayDimensions(t *testing.T) {
	assert.True(t, CompatibleArrayDimensions(nil, []uint32{5}))
	assert.True(t, CompatibleArrayDimensions([]uint32{0, 3}, []uint32{9, 3}))
	assert.False(t, CompatibleArrayDimensions([]uint32{2}, []uint32{3}))
	assert.False(t, CompatibleArrayDimensions([]uint32{1, 1}, []uint32{1}))
}

func TestTypeCheckValueRejectsMismatch(t *testing.T) {
	s := nodestore.New()
	int32Id := ua.NewNumericNodeId(0, 6)
	v := ua.NewScalar(ua.TypeString, "hi")
	_, status := TypeCheckValue(s, int32Id, -1, nil, v, "")
	assert.Equal(t, ua.ErrBadTypeMismatch, status.Code)
}

func TestTypeCheckValueAcceptsMatch(t *testing.T) {
	s := nodestore.New()
	int32Id := ua.NewNumericNodeId(0, 6)
	v := ua.NewScalar(ua.TypeInt32, int32(7))
	result, status := TypeCheckValue(s, int32Id, -1, nil, v, "")
	require.True(t, status.IsGood())
	assert.Equal(t, int32(7), result.Scalar)
}
