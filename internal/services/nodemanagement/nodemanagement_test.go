package nodemanagement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open62541/open62541-sub008/internal/nodestore"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

func objectsFolder() ua.NodeId { return ua.NewNumericNodeId(0, 85) }

func newReferenceTypeNode(id ua.NodeId, supertype ua.NodeId) *ua.Node {
	n := &ua.Node{
		Header: ua.Header{
			NodeId:     id,
			Class:      ua.ClassReferenceType,
			BrowseName: ua.QualifiedName{Name: id.String_()},
		},
		ReferenceType: &ua.ReferenceTypeBody{},
	}
	if !supertype.IsNull() {
		n.References = append(n.References, ua.Reference{ReferenceTypeId: HasSubTypeId(), IsInverse: true, TargetId: ua.Local(supertype)})
	}
	return n
}

// HasSubTypeId exposes the well-known HasSubType id for test setup without
// importing internal/reftypes directly into every helper.
func HasSubTypeId() ua.NodeId { return ua.NewNumericNodeId(0, 45) }

func seedBaseline(t *testing.T) *nodestore.Store {
	t.Helper()
	store := nodestore.New()

	refTypes := []struct{ id, super ua.NodeId }{
		{hierarchicalReferences, ua.NodeId{}},
		{hasComponent, hierarchicalReferences},
		{hasProperty, hierarchicalReferences},
		{organizes, hierarchicalReferences},
		{hasTypeDefinition, ua.NodeId{}},
		{hasModellingRule, ua.NodeId{}},
		{HasSubTypeId(), ua.NodeId{}},
	}
	for _, rt := range refTypes {
		_, err := store.Insert(newReferenceTypeNode(rt.id, rt.super))
		require.NoError(t, err)
	}

	_, err := store.Insert(&ua.Node{
		Header: ua.Header{NodeId: modellingRuleMandatory, Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Mandatory"}},
	})
	require.NoError(t, err)

	_, err = store.Insert(&ua.Node{
		Header:     ua.Header{NodeId: baseObjectType, Class: ua.ClassObjectType, BrowseName: ua.QualifiedName{Name: "BaseObjectType"}},
		ObjectType: &ua.ObjectTypeBody{},
	})
	require.NoError(t, err)

	_, err = store.Insert(&ua.Node{
		Header:   ua.Header{NodeId: baseDataVariableType, Class: ua.ClassVariableType, BrowseName: ua.QualifiedName{Name: "BaseDataVariableType"}},
		Variable: &ua.VariableBody{IsType: true},
	})
	require.NoError(t, err)

	_, err = store.Insert(&ua.Node{
		Header: ua.Header{NodeId: objectsFolder(), Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Objects"}},
	})
	require.NoError(t, err)

	return store
}

func TestAddNodesCreatesObjectUnderParent(t *testing.T) {
	store := seedBaseline(t)

	item := AddNodesItem{
		ParentNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Widget"}},
		},
		TypeDefinition: baseObjectType,
	}

	result := AddNodes(store, item)
	require.True(t, result.Status.IsGood())

	parent, ok := store.Get(objectsFolder())
	require.True(t, ok)
	found := false
	for _, ref := range parent.References {
		if !ref.IsInverse && ref.ReferenceTypeId.Equal(organizes) && ref.TargetId.NodeId.Equal(result.AddedNodeId) {
			found = true
		}
	}
	assert.True(t, found, "parent must carry a forward reference to the new node")

	child, ok := store.Get(result.AddedNodeId)
	require.True(t, ok)
	hasTypeDef := false
	for _, ref := range child.References {
		if !ref.IsInverse && ref.ReferenceTypeId.Equal(hasTypeDefinition) && ref.TargetId.NodeId.Equal(baseObjectType) {
			hasTypeDef = true
		}
	}
	assert.True(t, hasTypeDef)
}

func TestAddNodesRejectsUnknownParent(t *testing.T) {
	store := seedBaseline(t)
	before := store.Count()

	item := AddNodesItem{
		ParentNodeId:    ua.NewNumericNodeId(9, 999),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Orphan"}},
		},
		TypeDefinition: baseObjectType,
	}

	result := AddNodes(store, item)
	assert.Equal(t, ua.ErrBadParentNodeIdInvalid, result.Status.Code)
	assert.Equal(t, before, store.Count(), "a failed AddNodes must roll back the inserted node")
}

func TestAddNodesInstantiatesMandatoryChild(t *testing.T) {
	store := seedBaseline(t)

	// A type with one mandatory Variable component.
	objType := ua.NewNumericNodeId(2, 1)
	_, err := store.Insert(&ua.Node{
		Header:     ua.Header{NodeId: objType, Class: ua.ClassObjectType, BrowseName: ua.QualifiedName{Name: "WidgetType"}},
		ObjectType: &ua.ObjectTypeBody{},
	})
	require.NoError(t, err)
	require.NoError(t, store.AddBidirectionalReference(baseObjectType, HasSubTypeId(), ua.Local(objType)))

	propType := ua.NewNumericNodeId(2, 2)
	_, err = store.Insert(&ua.Node{
		Header:   ua.Header{NodeId: propType, Class: ua.ClassVariable, BrowseName: ua.QualifiedName{Name: "Status"}},
		Variable: &ua.VariableBody{DataType: ua.NewNumericNodeId(0, 6), AccessLevel: 0x01},
	})
	require.NoError(t, err)
	require.NoError(t, store.AddBidirectionalReference(objType, hasComponent, ua.Local(propType)))
	require.NoError(t, store.AddBidirectionalReference(propType, hasModellingRule, ua.Local(modellingRuleMandatory)))

	item := AddNodesItem{
		ParentNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Widget1"}},
		},
		TypeDefinition: objType,
	}

	result := AddNodes(store, item)
	require.True(t, result.Status.IsGood())

	instance, ok := store.Get(result.AddedNodeId)
	require.True(t, ok)

	var childId ua.NodeId
	for _, ref := range instance.References {
		if !ref.IsInverse && ref.ReferenceTypeId.Equal(hasComponent) {
			childId = ref.TargetId.NodeId
		}
	}
	require.False(t, childId.IsNull(), "mandatory child must have been cloned onto the instance")

	child, ok := store.Get(childId)
	require.True(t, ok)
	assert.Equal(t, "Status", child.BrowseName.Name)
	assert.NotEqual(t, propType, child.NodeId, "the instance's child must be its own node, not the type's")
}

func TestAddNodesRejectsMismatchedVariableValue(t *testing.T) {
	store := seedBaseline(t)
	before := store.Count()

	item := AddNodesItem{
		ParentNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassVariable, BrowseName: ua.QualifiedName{Name: "Mismatched"}},
			Variable: &ua.VariableBody{
				DataType:  ua.NewNumericNodeId(0, 6), // Int32
				ValueRank: -1,
				Source:    ua.ValueSource{Kind: ua.ValueSourceOwned, Value: ua.NewGoodDataValue(ua.NewScalar(ua.TypeString, "hi"), time.Now())},
			},
		},
		TypeDefinition: baseDataVariableType,
	}

	result := AddNodes(store, item)
	assert.Equal(t, ua.ErrBadTypeMismatch, result.Status.Code)
	assert.Equal(t, before, store.Count(), "a rejected type mismatch must leave no residual node")
}

func TestDeleteNodesRemovesNodeAndReferences(t *testing.T) {
	store := seedBaseline(t)
	item := AddNodesItem{
		ParentNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "ToDelete"}},
		},
		TypeDefinition: baseObjectType,
	}
	result := AddNodes(store, item)
	require.True(t, result.Status.IsGood())

	statuses := DeleteNodes(store, []ua.NodeId{result.AddedNodeId}, true)
	assert.True(t, statuses[result.AddedNodeId.Key()].IsGood())

	_, ok := store.Get(result.AddedNodeId)
	assert.False(t, ok)

	parent, ok := store.Get(objectsFolder())
	require.True(t, ok)
	for _, ref := range parent.References {
		assert.False(t, ref.TargetId.NodeId.Equal(result.AddedNodeId))
	}
}

func TestDeleteNodesInvokesDestructor(t *testing.T) {
	store := seedBaseline(t)

	destructed := make(chan ua.NodeId, 1)
	typeWithDestructor := ua.NewNumericNodeId(3, 1)
	_, err := store.Insert(&ua.Node{
		Header: ua.Header{NodeId: typeWithDestructor, Class: ua.ClassObjectType, BrowseName: ua.QualifiedName{Name: "Hooked"}},
		ObjectType: &ua.ObjectTypeBody{
			Destructor: func(instance ua.NodeId) { destructed <- instance },
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.AddBidirectionalReference(baseObjectType, HasSubTypeId(), ua.Local(typeWithDestructor)))

	item := AddNodesItem{
		ParentNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Hooked1"}},
		},
		TypeDefinition: typeWithDestructor,
	}
	result := AddNodes(store, item)
	require.True(t, result.Status.IsGood())

	DeleteNodes(store, []ua.NodeId{result.AddedNodeId}, true)

	select {
	case got := <-destructed:
		assert.Equal(t, result.AddedNodeId, got)
	default:
		t.Fatal("destructor was not invoked")
	}
}

func TestAddReferencesRejectsCrossServerTarget(t *testing.T) {
	store := seedBaseline(t)
	items := []AddReferencesItem{{
		SourceNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		TargetNodeId:    ua.ExpandedNodeId{NodeId: ua.NewNumericNodeId(1, 1), NamespaceURI: "urn:other-server"},
		TargetServerUri: "urn:other-server",
	}}
	results := AddReferences(store, items)
	require.Len(t, results, 1)
	assert.Equal(t, ua.ErrBadNotImplemented, results[0].Code)
}

func TestAddReferencesThenDeleteReferencesRoundTrips(t *testing.T) {
	store := seedBaseline(t)
	itemResult := AddNodes(store, AddNodesItem{
		ParentNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Linked"}},
		},
		TypeDefinition: baseObjectType,
	})
	require.True(t, itemResult.Status.IsGood())

	other := AddNodes(store, AddNodesItem{
		ParentNodeId:    objectsFolder(),
		ReferenceTypeId: organizes,
		RequestedNewNode: &ua.Node{
			Header: ua.Header{Class: ua.ClassObject, BrowseName: ua.QualifiedName{Name: "Other"}},
		},
		TypeDefinition: baseObjectType,
	})
	require.True(t, other.Status.IsGood())

	addResults := AddReferences(store, []AddReferencesItem{{
		SourceNodeId:    itemResult.AddedNodeId,
		ReferenceTypeId: organizes,
		TargetNodeId:    ua.Local(other.AddedNodeId),
	}})
	require.True(t, addResults[0].IsGood())

	src, ok := store.Get(itemResult.AddedNodeId)
	require.True(t, ok)
	linked := false
	for _, ref := range src.References {
		if !ref.IsInverse && ref.TargetId.NodeId.Equal(other.AddedNodeId) {
			linked = true
		}
	}
	assert.True(t, linked)

	delResults := DeleteReferences(store, []DeleteReferencesItem{{
		SourceNodeId:        itemResult.AddedNodeId,
		ReferenceTypeId:     organizes,
		IsForward:           true,
		TargetNodeId:        ua.Local(other.AddedNodeId),
		DeleteBidirectional: true,
	}})
	require.True(t, delResults[0].IsGood())

	src, ok = store.Get(itemResult.AddedNodeId)
	require.True(t, ok)
	for _, ref := range src.References {
		assert.False(t, !ref.IsInverse && ref.TargetId.NodeId.Equal(other.AddedNodeId))
	}
}
