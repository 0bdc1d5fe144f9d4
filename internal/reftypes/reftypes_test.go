package reftypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open62541/open62541-sub008/pkg/ua"
	"github.com/open62541/open62541-sub008/internal/nodestore"
)

// buildTypeChain inserts root <- mid <- leaf as ObjectType nodes linked by
// HasSubType, each carrying both directions of the reference.
func buildTypeChain(t *testing.T) (*nodestore.Store, ua.NodeId, ua.NodeId, ua.NodeId) {
	t.Helper()
	s := nodestore.New()
	root := ua.NewNumericNodeId(0, 58) // BaseObjectType
	mid := ua.NewNumericNodeId(1, 100)
	leaf := ua.NewNumericNodeId(1, 101)

	for _, id := range []ua.NodeId{root, mid, leaf} {
		_, err := s.Insert(&ua.Node{Header: ua.Header{NodeId: id, Class: ua.ClassObjectType}})
		require.NoError(t, err)
	}
	require.NoError(t, s.AddBidirectionalReference(root, HasSubType, ua.Local(mid)))
	require.NoError(t, s.AddBidirectionalReference(mid, HasSubType, ua.Local(leaf)))
	return s, root, mid, leaf
}

func TestIsSubtypeOrSame(t *testing.T) {
	s, root, mid, leaf := buildTypeChain(t)

	assert.True(t, IsSubtypeOrSame(s, leaf, root))
	assert.True(t, IsSubtypeOrSame(s, mid, root))
	assert.True(t, IsSubtypeOrSame(s, root, root))
	assert.False(t, IsSubtypeOrSame(s, root, leaf))
}

func TestExpandSubtypeSet(t *testing.T) {
	s, root, mid, leaf := buildTypeChain(t)

	set := ExpandSubtypeSet(s, root)
	assert.Contains(t, set, root.Key())
	assert.Contains(t, set, mid.Key())
	assert.Contains(t, set, leaf.Key())
}

func TestGetTypeHierarchy(t *testing.T) {
	s, root, mid, leaf := buildTypeChain(t)

	chain := GetTypeHierarchy(s, leaf)
	require.Len(t, chain, 3)
	assert.True(t, chain[0].Equal(leaf))
	assert.True(t, chain[1].Equal(mid))
	assert.True(t, chain[2].Equal(root))
}
