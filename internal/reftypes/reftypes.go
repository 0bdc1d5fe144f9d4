// Package reftypes implements the reference/type hierarchy walks used by
// type-checking, instantiation, and Browse filtering (§4.2).
package reftypes

import "github.com/open62541/open62541-sub008/pkg/ua"

// HasSubType is the well-known ReferenceType NodeId (namespace 0, id 45)
// used to walk subtype chains.
var HasSubType = ua.NewNumericNodeId(0, 45)

// NodeLookup is the minimal read-only view the hierarchy walks need from
// the node store; internal/nodestore.Store satisfies it.
type NodeLookup interface {
	Get(id ua.NodeId) (*ua.Node, bool)
	Count() int
}

// IsSubtypeOrSame walks inverse HasSubType references from candidate,
// looking for root. Bounded by store.Count() total steps so a malformed
// (cyclic) store cannot spin forever (REDESIGN FLAGS: bounded iterative
// walk instead of unbounded recursion).
func IsSubtypeOrSame(store NodeLookup, candidate, root ua.NodeId) bool {
	if candidate.Equal(root) {
		return true
	}
	limit := store.Count() + 1
	cur := candidate
	for i := 0; i < limit; i++ {
		n, ok := store.Get(cur)
		if !ok {
			return false
		}
		next, found := supertypeOf(n)
		if !found {
			return false
		}
		if next.Equal(root) {
			return true
		}
		cur = next
	}
	return false
}

// supertypeOf returns the single inverse-HasSubType target of n, if any.
func supertypeOf(n *ua.Node) (ua.NodeId, bool) {
	for _, r := range n.References {
		if r.IsInverse && r.ReferenceTypeId.Equal(HasSubType) {
			return r.TargetId.NodeId, true
		}
	}
	return ua.NodeId{}, false
}

// ExpandSubtypeSet returns the deduplicated set of NodeIds rooted at root,
// including root itself, reached via forward HasSubType references. Used
// to compile a Browse referenceType+includeSubtypes filter.
func ExpandSubtypeSet(store NodeLookup, root ua.NodeId) map[string]ua.NodeId {
	result := map[string]ua.NodeId{root.Key(): root}
	queue := []ua.NodeId{root}
	limit := store.Count() + 1

	for steps := 0; len(queue) > 0 && steps < limit; steps++ {
		cur := queue[0]
		queue = queue[1:]
		n, ok := store.Get(cur)
		if !ok {
			continue
		}
		for _, r := range n.References {
			if r.IsInverse || !r.ReferenceTypeId.Equal(HasSubType) {
				continue
			}
			key := r.TargetId.NodeId.Key()
			if _, seen := result[key]; seen {
				continue
			}
			result[key] = r.TargetId.NodeId
			queue = append(queue, r.TargetId.NodeId)
		}
	}
	return result
}

// GetTypeHierarchy returns root followed by its supertypes, walking inverse
// HasSubType references upward and stopping before the first ancestor whose
// NodeClass differs from root's (§4.2). Used to walk the supertype chain for
// property copying during instantiation, where only same-class ancestors
// are meaningful.
func GetTypeHierarchy(store NodeLookup, root ua.NodeId) []ua.NodeId {
	rootNode, ok := store.Get(root)
	if !ok {
		return nil
	}
	wantClass := rootNode.Class

	var chain []ua.NodeId
	visited := map[string]bool{root.Key(): true}
	cur := root
	limit := store.Count() + 1

	for i := 0; i < limit; i++ {
		chain = append(chain, cur)
		n, ok := store.Get(cur)
		if !ok {
			break
		}
		next, found := supertypeOf(n)
		if !found || visited[next.Key()] {
			break
		}
		nextNode, ok := store.Get(next)
		if !ok || nextNode.Class != wantClass {
			break
		}
		visited[next.Key()] = true
		cur = next
	}
	return chain
}
