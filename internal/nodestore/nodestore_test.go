package nodestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open62541/open62541-sub008/pkg/ua"
)

func newObjectNode(id ua.NodeId, name string) *ua.Node {
	return &ua.Node{
		Header: ua.Header{
			NodeId:      id,
			Class:       ua.ClassObject,
			BrowseName:  ua.QualifiedName{NamespaceIndex: 1, Name: name},
			DisplayName: ua.LocalizedText{Text: name},
		},
	}
}

func TestInsertAllocatesNumericIdentifier(t *testing.T) {
	s := New()
	id, err := s.Insert(newObjectNode(ua.NewNumericNodeId(1, 0), "first"))
	require.NoError(t, err)
	assert.False(t, id.IsNull())
	assert.Equal(t, uint16(1), id.Namespace)

	id2, err := s.Insert(newObjectNode(ua.NewNumericNodeId(1, 0), "second"))
	require.NoError(t, err)
	assert.NotEqual(t, id.Numeric, id2.Numeric)
}

func TestInsertDuplicateRejected(t *testing.T) {
	s := New()
	id := ua.NewNumericNodeId(1, 42)
	_, err := s.Insert(newObjectNode(id, "x"))
	require.NoError(t, err)

	_, err = s.Insert(newObjectNode(id, "x2"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestGetCopyReplaceRoundTrip(t *testing.T) {
	s := New()
	id := ua.NewNumericNodeId(1, 1)
	_, err := s.Insert(newObjectNode(id, "obj"))
	require.NoError(t, err)

	copy1, v1, ok := s.CopyWithVersion(id)
	require.True(t, ok)
	copy1.DisplayName.Text = "renamed"
	require.NoError(t, s.Replace(v1, copy1))

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.DisplayName.Text)
}

func TestReplaceStaleWitnessFails(t *testing.T) {
	s := New()
	id := ua.NewNumericNodeId(1, 1)
	_, err := s.Insert(newObjectNode(id, "obj"))
	require.NoError(t, err)

	copy1, v1, _ := s.CopyWithVersion(id)
	copy2, v2, _ := s.CopyWithVersion(id)

	copy1.DisplayName.Text = "first-writer"
	require.NoError(t, s.Replace(v1, copy1))

	copy2.DisplayName.Text = "second-writer"
	err = s.Replace(v2, copy2)
	assert.ErrorIs(t, err, ErrStale)
}

func TestBidirectionalReferenceWiresBothEndpoints(t *testing.T) {
	s := New()
	parent := ua.NewNumericNodeId(1, 1)
	child := ua.NewNumericNodeId(1, 2)
	_, err := s.Insert(newObjectNode(parent, "parent"))
	require.NoError(t, err)
	_, err = s.Insert(newObjectNode(child, "child"))
	require.NoError(t, err)

	hasComponent := ua.NewNumericNodeId(0, 47)
	require.NoError(t, s.AddBidirectionalReference(parent, hasComponent, ua.Local(child)))

	p, _ := s.Get(parent)
	c, _ := s.Get(child)
	require.Len(t, p.References, 1)
	require.Len(t, c.References, 1)
	assert.False(t, p.References[0].IsInverse)
	assert.True(t, c.References[0].IsInverse)
	assert.True(t, c.References[0].TargetId.NodeId.Equal(parent))
}

func TestRemoveBidirectionalReference(t *testing.T) {
	s := New()
	a := ua.NewNumericNodeId(1, 1)
	b := ua.NewNumericNodeId(1, 2)
	_, _ = s.Insert(newObjectNode(a, "a"))
	_, _ = s.Insert(newObjectNode(b, "b"))
	refType := ua.NewNumericNodeId(0, 47)
	require.NoError(t, s.AddBidirectionalReference(a, refType, ua.Local(b)))

	require.NoError(t, s.RemoveBidirectionalReference(a, refType, ua.Local(b)))

	na, _ := s.Get(a)
	nb, _ := s.Get(b)
	assert.Empty(t, na.References)
	assert.Empty(t, nb.References)
}
