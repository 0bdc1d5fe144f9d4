// Package view implements Browse/BrowseNext/TranslateBrowsePathsToNodeIds
// (§4.2): reference-set traversal with continuation-point paging.
package view

import (
	"sync"

	"github.com/open62541/open62541-sub008/internal/nodestore"
	"github.com/open62541/open62541-sub008/internal/reftypes"
	"github.com/open62541/open62541-sub008/internal/session"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

var hasTypeDefinition = ua.NewNumericNodeId(0, 40)

// BrowseDirection selects which edges of a node are considered.
type BrowseDirection uint8

const (
	BrowseForward BrowseDirection = iota
	BrowseInverse
	BrowseBoth
)

// ResultMask bits name the ReferenceDescription fields (§4.2), mirroring
// the wire bitmask. Browse does not apply the mask: every field of each
// ReferenceDescription is populated whatever ResultMask holds.
type ResultMask uint32

const (
	ResultMaskReferenceType ResultMask = 1 << iota
	ResultMaskIsForward
	ResultMaskNodeClass
	ResultMaskBrowseName
	ResultMaskDisplayName
	ResultMaskTypeDefinition
)

const ResultMaskAll = ResultMaskReferenceType | ResultMaskIsForward | ResultMaskNodeClass |
	ResultMaskBrowseName | ResultMaskDisplayName | ResultMaskTypeDefinition

// BrowseDescription is one requested node's browse parameters (§4.2).
type BrowseDescription struct {
	NodeId          ua.NodeId
	Direction       BrowseDirection
	ReferenceTypeId ua.NodeId // null means "all references"
	IncludeSubtypes bool
	NodeClassMask   uint32 // 0 means "all classes"
	ResultMask      ResultMask
}

// ReferenceDescription is one Browse result entry (§4.2).
type ReferenceDescription struct {
	ReferenceTypeId ua.NodeId
	IsForward       bool
	NodeId          ua.ExpandedNodeId
	BrowseName      ua.QualifiedName
	DisplayName     ua.LocalizedText
	NodeClass       ua.NodeClass
	TypeDefinition  ua.ExpandedNodeId
}

// BrowseResult is one BrowseDescription's outcome.
type BrowseResult struct {
	Status            ua.StatusCode
	ContinuationPoint []byte
	References        []ReferenceDescription
}

// Browse runs one BrowseDescription, paging results beyond
// maxReferencesPerNode into a session continuation point (0 means
// unbounded, per §4.2).
func Browse(store *nodestore.Store, sess *session.Session, bd BrowseDescription, maxReferencesPerNode uint32) BrowseResult {
	n, ok := store.Get(bd.NodeId)
	if !ok {
		return BrowseResult{Status: ua.StatusOf(ua.ErrBadNodeIdUnknown)}
	}

	var typeSet map[string]ua.NodeId
	if !bd.ReferenceTypeId.IsNull() {
		if bd.IncludeSubtypes {
			typeSet = reftypes.ExpandSubtypeSet(store, bd.ReferenceTypeId)
		} else {
			typeSet = map[string]ua.NodeId{bd.ReferenceTypeId.Key(): bd.ReferenceTypeId}
		}
	}

	all := collectReferences(store, n, bd, typeSet)

	if maxReferencesPerNode == 0 || uint32(len(all)) <= maxReferencesPerNode {
		return BrowseResult{Status: ua.Good, References: all}
	}

	first := all[:maxReferencesPerNode]
	rest := append([]ReferenceDescription(nil), all[maxReferencesPerNode:]...)
	cpId, status := sess.AddContinuationPoint(&session.ContinuationPoint{})
	if status.IsBad() {
		// Cap hit: §4.2 says return what fits with GoodResultsMayBeIncomplete
		// semantics is out of scope here, so surface the cap failure directly.
		return BrowseResult{Status: status, References: first}
	}
	pendingPages.put(cpId, rest)
	return BrowseResult{Status: ua.Good, ContinuationPoint: cpId, References: first}
}

// pagingStore holds the unsent tail of a paged Browse, keyed by the
// continuation point identifier minted in session. The session's
// AddContinuationPoint enforces the per-session cap on how many of these
// can be outstanding; this store only needs to be safe for concurrent
// sessions sharing the process.
type pagingStore struct {
	mu    sync.Mutex
	pages map[string][]ReferenceDescription
}

func (p *pagingStore) put(id []byte, refs []ReferenceDescription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[string(id)] = refs
}

func (p *pagingStore) take(id []byte) ([]ReferenceDescription, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	refs, ok := p.pages[string(id)]
	delete(p.pages, string(id))
	return refs, ok
}

var pendingPages = &pagingStore{pages: make(map[string][]ReferenceDescription)}

// BrowseNext resumes or releases a paged Browse (§4.2).
func BrowseNext(sess *session.Session, continuationPoint []byte, releaseContinuationPoints bool, maxReferencesPerNode uint32) BrowseResult {
	_, ok := sess.TakeContinuationPoint(continuationPoint)
	if !ok {
		return BrowseResult{Status: ua.StatusOf(ua.ErrBadMessageNotAvailable)}
	}
	rest, ok := pendingPages.take(continuationPoint)
	if !ok {
		return BrowseResult{Status: ua.StatusOf(ua.ErrBadMessageNotAvailable)}
	}
	if releaseContinuationPoints {
		return BrowseResult{Status: ua.Good}
	}

	if maxReferencesPerNode == 0 || uint32(len(rest)) <= maxReferencesPerNode {
		return BrowseResult{Status: ua.Good, References: rest}
	}

	first := rest[:maxReferencesPerNode]
	tail := append([]ReferenceDescription(nil), rest[maxReferencesPerNode:]...)
	cpId, status := sess.AddContinuationPoint(&session.ContinuationPoint{})
	if status.IsBad() {
		return BrowseResult{Status: status, References: first}
	}
	pendingPages.put(cpId, tail)
	return BrowseResult{Status: ua.Good, ContinuationPoint: cpId, References: first}
}

func collectReferences(store *nodestore.Store, n *ua.Node, bd BrowseDescription, typeSet map[string]ua.NodeId) []ReferenceDescription {
	var out []ReferenceDescription
	for _, ref := range n.References {
		if bd.Direction == BrowseForward && ref.IsInverse {
			continue
		}
		if bd.Direction == BrowseInverse && !ref.IsInverse {
			continue
		}
		if typeSet != nil {
			if _, ok := typeSet[ref.ReferenceTypeId.Key()]; !ok {
				continue
			}
		}
		if !ref.TargetId.IsLocal() {
			out = append(out, ReferenceDescription{
				ReferenceTypeId: ref.ReferenceTypeId,
				IsForward:       !ref.IsInverse,
				NodeId:          ref.TargetId,
			})
			continue
		}
		target, ok := store.Get(ref.TargetId.NodeId)
		if !ok {
			continue
		}
		if bd.NodeClassMask != 0 && uint32(1)<<uint32(target.Class)&bd.NodeClassMask == 0 {
			continue
		}

		rd := ReferenceDescription{
			ReferenceTypeId: ref.ReferenceTypeId,
			IsForward:       !ref.IsInverse,
			NodeId:          ref.TargetId,
			BrowseName:      target.BrowseName,
			DisplayName:     target.DisplayName,
			NodeClass:       target.Class,
		}
		if typeDef, ok := findTypeDefinition(target); ok {
			rd.TypeDefinition = ua.Local(typeDef)
		}
		out = append(out, rd)
	}
	return out
}

func findTypeDefinition(n *ua.Node) (ua.NodeId, bool) {
	for _, ref := range n.References {
		if !ref.IsInverse && ref.ReferenceTypeId.Equal(hasTypeDefinition) && ref.TargetId.IsLocal() {
			return ref.TargetId.NodeId, true
		}
	}
	return ua.NodeId{}, false
}

// RelativePathElement is one hop of a browse path (§4.2).
type RelativePathElement struct {
	ReferenceTypeId ua.NodeId
	IsInverse       bool
	IncludeSubtypes bool
	TargetName      ua.QualifiedName
}

// BrowsePathTarget is one TranslateBrowsePathsToNodeIds match.
type BrowsePathTarget struct {
	TargetId           ua.ExpandedNodeId
	RemainingPathIndex uint32
}

// TranslateBrowsePath walks path from startingNode, returning every node
// that matches the full relative path (§4.2). An empty TargetName on any
// element is rejected outright.
func TranslateBrowsePath(store *nodestore.Store, startingNode ua.NodeId, path []RelativePathElement) (ua.StatusCode, []BrowsePathTarget) {
	for _, elem := range path {
		if elem.TargetName.Name == "" {
			return ua.StatusOf(ua.ErrBadBrowseNameInvalid), nil
		}
	}

	current := []ua.NodeId{startingNode}
	for _, elem := range path {
		var next []ua.NodeId
		for _, id := range current {
			next = append(next, stepRelativePath(store, id, elem)...)
		}
		if len(next) == 0 {
			return ua.StatusOf(ua.ErrBadNoMatch), nil
		}
		current = dedupeNodeIds(next)
	}

	targets := make([]BrowsePathTarget, 0, len(current))
	for _, id := range current {
		targets = append(targets, BrowsePathTarget{TargetId: ua.Local(id)})
	}
	return ua.Good, targets
}

func stepRelativePath(store *nodestore.Store, from ua.NodeId, elem RelativePathElement) []ua.NodeId {
	n, ok := store.Get(from)
	if !ok {
		return nil
	}

	var typeSet map[string]ua.NodeId
	if !elem.ReferenceTypeId.IsNull() {
		if elem.IncludeSubtypes {
			typeSet = reftypes.ExpandSubtypeSet(store, elem.ReferenceTypeId)
		} else {
			typeSet = map[string]ua.NodeId{elem.ReferenceTypeId.Key(): elem.ReferenceTypeId}
		}
	}

	var out []ua.NodeId
	for _, ref := range n.References {
		if ref.IsInverse != elem.IsInverse {
			continue
		}
		if typeSet != nil {
			if _, ok := typeSet[ref.ReferenceTypeId.Key()]; !ok {
				continue
			}
		}
		if !ref.TargetId.IsLocal() {
			continue
		}
		target, ok := store.Get(ref.TargetId.NodeId)
		if !ok || !target.BrowseName.Equal(elem.TargetName) {
			continue
		}
		out = append(out, ref.TargetId.NodeId)
	}
	return out
}

func dedupeNodeIds(ids []ua.NodeId) []ua.NodeId {
	seen := make(map[string]bool, len(ids))
	out := make([]ua.NodeId, 0, len(ids))
	for _, id := range ids {
		if seen[id.Key()] {
			continue
		}
		seen[id.Key()] = true
		out = append(out, id)
	}
	return out
}
