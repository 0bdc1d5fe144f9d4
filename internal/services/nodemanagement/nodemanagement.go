// Package nodemanagement implements AddNodes/DeleteNodes/AddReferences/
// DeleteReferences (§4.6): two-phase node creation with modelling-rule
// instantiation, and bidirectional reference bookkeeping.
package nodemanagement

import (
	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/nodestore"
	"github.com/open62541/open62541-sub008/internal/reftypes"
	"github.com/open62541/open62541-sub008/internal/typecheck"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

// Well-known namespace-0 NodeIds used by the instantiation walk.
var (
	hasTypeDefinition      = ua.NewNumericNodeId(0, 40)
	hasComponent           = ua.NewNumericNodeId(0, 47)
	hasProperty            = ua.NewNumericNodeId(0, 46)
	organizes              = ua.NewNumericNodeId(0, 35)
	hasModellingRule       = ua.NewNumericNodeId(0, 37)
	modellingRuleMandatory = ua.NewNumericNodeId(0, 78)
	baseDataVariableType   = ua.NewNumericNodeId(0, 63)
	baseObjectType         = ua.NewNumericNodeId(0, 58)
	hierarchicalReferences = ua.NewNumericNodeId(0, 33)
)

const accessLevelRead uint8 = 0x01

// AddNodesItem is one requested node creation (§4.6).
type AddNodesItem struct {
	ParentNodeId     ua.NodeId
	ReferenceTypeId  ua.NodeId
	RequestedNewNode *ua.Node
	TypeDefinition   ua.NodeId // null means "default by class" (§4.6)
}

// AddNodesResult is the per-item AddNodes outcome.
type AddNodesResult struct {
	Status      ua.StatusCode
	AddedNodeId ua.NodeId
}

// AddNodes runs the Begin/Finish two-phase creation for one item. store is
// mutated directly since the node being created has no concurrent readers
// yet; the parent's reference wiring goes through the usual compare-and-
// replace path.
func AddNodes(store *nodestore.Store, item AddNodesItem) AddNodesResult {
	if item.RequestedNewNode == nil {
		return AddNodesResult{Status: ua.StatusOf(ua.ErrBadNodeIdInvalid)}
	}

	// Begin: materialise and insert.
	newId, err := store.Insert(item.RequestedNewNode)
	if err != nil {
		return AddNodesResult{Status: ua.StatusOf(ua.ErrBadNodeIdExists)}
	}

	status := finish(store, newId, item)
	if status.IsBad() {
		// Roll back: delete the node and any references it picked up
		// during instantiation (§4.6: "rolls back the inserted node").
		DeleteNodes(store, []ua.NodeId{newId}, true)
		return AddNodesResult{Status: status}
	}
	return AddNodesResult{Status: ua.Good, AddedNodeId: newId}
}

func finish(store *nodestore.Store, newId ua.NodeId, item AddNodesItem) ua.StatusCode {
	parent, ok := store.Get(item.ParentNodeId)
	if !ok {
		return ua.StatusOf(ua.ErrBadParentNodeIdInvalid)
	}

	refTypeNode, ok := store.Get(item.ReferenceTypeId)
	if !ok || refTypeNode.Class != ua.ClassReferenceType {
		return ua.StatusOf(ua.ErrBadReferenceTypeIdInvalid)
	}
	if refTypeNode.IsAbstract() {
		return ua.StatusOf(ua.ErrBadReferenceTypeIdInvalid)
	}

	n, ok := store.Get(newId)
	if !ok {
		return ua.StatusOf(ua.ErrBadNodeIdInvalid)
	}

	if n.Class == ua.ClassVariable && n.Variable != nil &&
		n.Variable.Source.Kind == ua.ValueSourceOwned && n.Variable.Source.Value.HasValue {
		if _, status := typecheck.TypeCheckValue(store, n.Variable.DataType, n.Variable.ValueRank, n.Variable.ArrayDimensions, n.Variable.Source.Value.Value, ""); status.IsBad() {
			return ua.StatusOf(ua.ErrBadTypeMismatch)
		}
	}

	if n.IsTypeNode() {
		if !reftypes.IsSubtypeOrSame(store, item.ReferenceTypeId, reftypes.HasSubType) {
			return ua.StatusOf(ua.ErrBadReferenceTypeIdInvalid)
		}
		if parent.Class != n.Class {
			return ua.StatusOf(ua.ErrBadParentNodeIdInvalid)
		}
	} else {
		if !reftypes.IsSubtypeOrSame(store, item.ReferenceTypeId, hierarchicalReferences) {
			return ua.StatusOf(ua.ErrBadReferenceTypeIdInvalid)
		}
	}

	typeDef := item.TypeDefinition
	if (n.Class == ua.ClassVariable || n.Class == ua.ClassObject) && typeDef.IsNull() {
		if n.Class == ua.ClassVariable {
			typeDef = baseDataVariableType
		} else {
			typeDef = baseObjectType
		}
	}

	if !typeDef.IsNull() {
		if _, ok := store.Get(typeDef); !ok {
			return ua.StatusOf(ua.ErrBadTypeDefinitionInvalid)
		}
		if err := instantiate(store, newId, typeDef); err != nil {
			logger.Warn("instantiation failed", logger.NodeID(newId.String_()), logger.Err(err))
			return ua.StatusOf(ua.ErrBadTypeDefinitionInvalid)
		}
		if err := store.AddBidirectionalReference(newId, hasTypeDefinition, ua.Local(typeDef)); err != nil {
			return ua.StatusOf(ua.ErrBadTypeDefinitionInvalid)
		}
	}

	if n.Class == ua.ClassVariable {
		if err := ensureReadable(store, newId); err != nil {
			return ua.StatusOf(ua.ErrBadNodeIdInvalid)
		}
	}

	if err := store.AddBidirectionalReference(item.ParentNodeId, item.ReferenceTypeId, ua.Local(newId)); err != nil {
		return ua.StatusOf(ua.ErrBadParentNodeIdInvalid)
	}

	return ua.Good
}

// ensureReadable OR-s AccessLevelRead into a freshly instantiated
// Variable's AccessLevel if absent, logging the change (§4.6).
func ensureReadable(store *nodestore.Store, id ua.NodeId) error {
	for {
		n, v, ok := store.CopyWithVersion(id)
		if !ok {
			return nodestore.ErrNotFound
		}
		if n.Variable == nil || n.Variable.AccessLevel&accessLevelRead != 0 {
			return nil
		}
		n.Variable.AccessLevel |= accessLevelRead
		logger.Info("forced readable access level on new variable", logger.NodeID(id.String_()))
		if err := store.Replace(v, n); err != nil {
			if err == nodestore.ErrStale {
				continue
			}
			return err
		}
		return nil
	}
}

// instantiate walks typeId and its supertypes, copying Mandatory children
// into instance (§4.6). Methods are linked by reference, not cloned; a
// child that is itself typed recurses into its own type's Mandatory
// children instead of the parent's.
func instantiate(store *nodestore.Store, instance ua.NodeId, typeId ua.NodeId) error {
	hierarchy := reftypes.GetTypeHierarchy(store, typeId)
	for _, t := range hierarchy {
		typeNode, ok := store.Get(t)
		if !ok {
			continue
		}
		for _, ref := range typeNode.References {
			if ref.IsInverse {
				continue
			}
			if !isComponentLike(ref.ReferenceTypeId) {
				continue
			}
			if !ref.TargetId.IsLocal() {
				continue
			}
			child, ok := store.Get(ref.TargetId.NodeId)
			if !ok || !hasMandatoryModellingRule(store, ref.TargetId.NodeId) {
				continue
			}

			if child.Class == ua.ClassMethod {
				if err := store.AddBidirectionalReference(instance, ref.ReferenceTypeId, ua.Local(ref.TargetId.NodeId)); err != nil {
					return err
				}
				continue
			}

			existing, found := findChildByBrowseName(store, instance, child.BrowseName)
			if found {
				if childType, ok := findTypeDefinition(child); ok {
					if err := instantiate(store, existing, childType); err != nil {
						return err
					}
				}
				continue
			}

			clone := child.Clone()
			clone.NodeId = ua.NodeId{} // null id: Insert allocates a fresh numeric identifier
			newChildId, err := store.Insert(clone)
			if err != nil {
				return err
			}
			if err := store.AddBidirectionalReference(instance, ref.ReferenceTypeId, ua.Local(newChildId)); err != nil {
				return err
			}
			// Recurse only if the child is itself typed (e.g. an Object
			// component with its own nested Mandatory children); a plain
			// Variable leaf has nothing further to instantiate.
			if childType, ok := findTypeDefinition(child); ok {
				if err := instantiate(store, newChildId, childType); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isComponentLike(refType ua.NodeId) bool {
	return refType.Equal(hasComponent) || refType.Equal(hasProperty) || refType.Equal(organizes)
}

func hasMandatoryModellingRule(store *nodestore.Store, id ua.NodeId) bool {
	n, ok := store.Get(id)
	if !ok {
		return false
	}
	for _, ref := range n.References {
		if !ref.IsInverse && ref.ReferenceTypeId.Equal(hasModellingRule) && ref.TargetId.NodeId.Equal(modellingRuleMandatory) {
			return true
		}
	}
	return false
}

func findChildByBrowseName(store *nodestore.Store, parent ua.NodeId, name ua.QualifiedName) (ua.NodeId, bool) {
	p, ok := store.Get(parent)
	if !ok {
		return ua.NodeId{}, false
	}
	for _, ref := range p.References {
		if ref.IsInverse || !isComponentLike(ref.ReferenceTypeId) || !ref.TargetId.IsLocal() {
			continue
		}
		child, ok := store.Get(ref.TargetId.NodeId)
		if ok && child.BrowseName.Equal(name) {
			return ref.TargetId.NodeId, true
		}
	}
	return ua.NodeId{}, false
}

// DeleteNodes removes each listed node: calls the ObjectType destructor for
// Object instances, then, when deleteReferences is set, unwires every
// reference at both endpoints before removing the node itself (§4.6).
// Without deleteReferences no reference is unwired, so neighbours keep
// their records of the removed node. Mandatory children are left in place;
// callers wanting a cascading delete must walk them explicitly.
func DeleteNodes(store *nodestore.Store, ids []ua.NodeId, deleteReferences bool) map[string]ua.StatusCode {
	results := make(map[string]ua.StatusCode, len(ids))
	for _, id := range ids {
		results[id.Key()] = deleteOne(store, id, deleteReferences)
	}
	return results
}

func deleteOne(store *nodestore.Store, id ua.NodeId, deleteReferences bool) ua.StatusCode {
	n, ok := store.Get(id)
	if !ok {
		return ua.StatusOf(ua.ErrBadNodeIdUnknown)
	}

	if n.Class == ua.ClassObject {
		if typeDef, ok := findTypeDefinition(n); ok {
			if typeNode, ok := store.Get(typeDef); ok && typeNode.ObjectType != nil && typeNode.ObjectType.Destructor != nil {
				typeNode.ObjectType.Destructor(id)
			}
		}
	}

	if deleteReferences {
		for _, ref := range append([]ua.Reference(nil), n.References...) {
			if ref.TargetId.IsLocal() {
				_ = store.RemoveBidirectionalReference(id, ref.ReferenceTypeId, ref.TargetId)
			}
		}
	}

	if err := store.Remove(id); err != nil {
		return ua.StatusOf(ua.ErrBadNodeIdUnknown)
	}
	logger.Info("node deleted", logger.NodeID(id.String_()))
	return ua.Good
}

func findTypeDefinition(n *ua.Node) (ua.NodeId, bool) {
	for _, ref := range n.References {
		if !ref.IsInverse && ref.ReferenceTypeId.Equal(hasTypeDefinition) && ref.TargetId.IsLocal() {
			return ref.TargetId.NodeId, true
		}
	}
	return ua.NodeId{}, false
}

// AddReferencesItem names one reference to wire between two nodes (§4.6).
type AddReferencesItem struct {
	SourceNodeId    ua.NodeId
	ReferenceTypeId ua.NodeId
	TargetNodeId    ua.ExpandedNodeId
	TargetServerUri string
}

// AddReferences wires each item bidirectionally, rejecting cross-server
// references (non-empty TargetServerUri) as unsupported (§4.6).
func AddReferences(store *nodestore.Store, items []AddReferencesItem) []ua.StatusCode {
	results := make([]ua.StatusCode, len(items))
	for i, item := range items {
		if item.TargetServerUri != "" {
			results[i] = ua.StatusOf(ua.ErrBadNotImplemented)
			continue
		}
		if err := store.AddBidirectionalReference(item.SourceNodeId, item.ReferenceTypeId, item.TargetNodeId); err != nil {
			results[i] = ua.StatusOf(ua.ErrBadNodeIdUnknown)
			continue
		}
		results[i] = ua.Good
	}
	return results
}

// DeleteReferencesItem names one reference to unwire (§4.6).
type DeleteReferencesItem struct {
	SourceNodeId        ua.NodeId
	ReferenceTypeId     ua.NodeId
	IsForward           bool
	TargetNodeId        ua.ExpandedNodeId
	DeleteBidirectional bool
}

// DeleteReferences removes each item's edge, mirroring both endpoints when
// DeleteBidirectional is set.
func DeleteReferences(store *nodestore.Store, items []DeleteReferencesItem) []ua.StatusCode {
	results := make([]ua.StatusCode, len(items))
	for i, item := range items {
		var err error
		if item.DeleteBidirectional {
			err = store.RemoveBidirectionalReference(item.SourceNodeId, item.ReferenceTypeId, item.TargetNodeId)
		} else {
			err = removeOneSideOnly(store, item.SourceNodeId, item.ReferenceTypeId, !item.IsForward, item.TargetNodeId)
		}
		if err != nil {
			results[i] = ua.StatusOf(ua.ErrBadNodeIdUnknown)
			continue
		}
		results[i] = ua.Good
	}
	return results
}

func removeOneSideOnly(store *nodestore.Store, id ua.NodeId, refType ua.NodeId, isInverse bool, target ua.ExpandedNodeId) error {
	for {
		n, v, ok := store.CopyWithVersion(id)
		if !ok {
			return nodestore.ErrNotFound
		}
		n.RemoveReference(refType, isInverse, target)
		if err := store.Replace(v, n); err != nil {
			if err == nodestore.ErrStale {
				continue
			}
			return err
		}
		return nil
	}
}
