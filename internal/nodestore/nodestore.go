// Package nodestore holds the address-space node graph: a map of Nodes
// keyed by NodeId, with copy-on-write mutation and bidirectional reference
// bookkeeping.
package nodestore

import (
	"fmt"
	"sync"

	"github.com/open62541/open62541-sub008/pkg/ua"
)

// entry wraps a stored node with a version witness so replace() can detect
// a concurrent mutation between a caller's get_copy and its replace.
type entry struct {
	node    *ua.Node
	version uint64
}

// ErrNotFound is returned by operations addressing a NodeId absent from the
// store.
var ErrNotFound = fmt.Errorf("nodestore: node not found")

// ErrExists is returned by Insert when the requested NodeId is already
// present.
var ErrExists = fmt.Errorf("nodestore: node already exists")

// ErrStale is returned by Replace when the stored node changed since the
// caller's copy; the caller should get_copy again and retry.
var ErrStale = fmt.Errorf("nodestore: stale replace, retry")

// Store is a concurrency-safe, copy-on-write node graph (§4.1). The
// get/get_copy/insert/replace/remove operation names follow the spec
// directly; Go naming drops the underscores.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*entry

	// nextNumeric allocates numeric identifiers per namespace when a
	// caller inserts a node with a null identifier.
	nextNumeric map[uint16]*uint32

	// NamespaceArray is exposed as the Server_NamespaceArray variable
	// (SPEC_FULL.md §12). Namespace 0 is always the standard OPC UA URI.
	NamespaceArray []string
}

// New returns an empty Store with the standard namespace 0 registered.
func New() *Store {
	return &Store{
		nodes:          make(map[string]*entry),
		nextNumeric:    make(map[uint16]*uint32),
		NamespaceArray: []string{"http://opcfoundation.org/UA/"},
	}
}

// Get returns a read-only reference to the stored node. Callers that need
// to mutate must use GetCopy + Replace instead of mutating the returned
// pointer.
func (s *Store) Get(id ua.NodeId) (*ua.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes[id.Key()]
	if !ok {
		return nil, false
	}
	return e.node, true
}

// GetCopy returns an independent deep copy of the stored node, suitable for
// edit-then-Replace.
func (s *Store) GetCopy(id ua.NodeId) (*ua.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes[id.Key()]
	if !ok {
		return nil, false
	}
	return e.node.Clone(), true
}

// versionOf reports the current version of a stored node, for callers that
// need a witness to pass into Replace. 0 means not found.
func (s *Store) versionOf(id ua.NodeId) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.nodes[id.Key()]; ok {
		return e.version
	}
	return 0
}

// Insert adds a new node. If the node's NodeId is null, or is numeric 0 in
// any namespace, a numeric identifier is allocated within the node's
// declared namespace (namespace is honoured, identifier is assigned).
// Returns the final NodeId (which may differ from n.NodeId when one was
// allocated).
func (s *Store) Insert(n *ua.Node) (ua.NodeId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := n.NodeId
	if id.IsNull() || (id.Kind == ua.IdentifierNumeric && id.Numeric == 0) {
		ns := id.Namespace
		ctr, ok := s.nextNumeric[ns]
		if !ok {
			v := uint32(1)
			ctr = &v
			s.nextNumeric[ns] = ctr
		}
		for {
			candidate := ua.NewNumericNodeId(ns, *ctr)
			*ctr++
			if _, exists := s.nodes[candidate.Key()]; !exists {
				id = candidate
				break
			}
		}
		n.NodeId = id
	}

	key := id.Key()
	if _, exists := s.nodes[key]; exists {
		return ua.NodeId{}, ErrExists
	}
	s.nodes[key] = &entry{node: n.Clone(), version: 1}
	return id, nil
}

// Replace performs the compare-and-swap mutation: it only commits newNode
// if the stored node's version still matches witnessVersion (obtained
// alongside an earlier GetCopy via CopyWithVersion). On success the stored
// version is bumped.
func (s *Store) Replace(witnessVersion uint64, newNode *ua.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := newNode.NodeId.Key()
	e, ok := s.nodes[key]
	if !ok {
		return ErrNotFound
	}
	if e.version != witnessVersion {
		return ErrStale
	}
	s.nodes[key] = &entry{node: newNode.Clone(), version: e.version + 1}
	return nil
}

// CopyWithVersion returns both a deep copy of the node and the version
// witness needed to Replace it later.
func (s *Store) CopyWithVersion(id ua.NodeId) (*ua.Node, uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.nodes[id.Key()]
	if !ok {
		return nil, 0, false
	}
	return e.node.Clone(), e.version, true
}

// Remove deletes a node outright. Callers are responsible for reconciling
// inverse references on neighbours first (see ReconcileRemove).
func (s *Store) Remove(id ua.NodeId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := id.Key()
	if _, ok := s.nodes[key]; !ok {
		return ErrNotFound
	}
	delete(s.nodes, key)
	return nil
}

// IterReferences calls fn for every outgoing reference recorded on id's
// node, stopping early if fn returns false. Reports false if id is not in
// the store.
func (s *Store) IterReferences(id ua.NodeId, fn func(ua.Reference) bool) bool {
	s.mu.RLock()
	e, ok := s.nodes[id.Key()]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	for _, r := range e.node.References {
		if !fn(r) {
			break
		}
	}
	return true
}

// AddBidirectionalReference wires (a)-r->(b) on a and the inverse (b)<-r-(a)
// on b, retrying each side's Replace against concurrent writers (I2). If
// wiring b fails after a succeeded, a's edit is rolled back.
func (s *Store) AddBidirectionalReference(a ua.NodeId, refType ua.NodeId, b ua.ExpandedNodeId) error {
	if err := s.addOneSide(a, ua.Reference{ReferenceTypeId: refType, IsInverse: false, TargetId: b}); err != nil {
		return err
	}
	if !b.IsLocal() {
		// Cross-server references only get the forward edge recorded
		// locally; there is no local node to carry the inverse.
		return nil
	}
	bLocal := b.NodeId
	aExpanded := ua.Local(a)
	if err := s.addOneSide(bLocal, ua.Reference{ReferenceTypeId: refType, IsInverse: true, TargetId: aExpanded}); err != nil {
		_ = s.removeOneSide(a, ua.Reference{ReferenceTypeId: refType, IsInverse: false, TargetId: b})
		return err
	}
	return nil
}

// RemoveBidirectionalReference undoes AddBidirectionalReference, removing
// both endpoints' records.
func (s *Store) RemoveBidirectionalReference(a ua.NodeId, refType ua.NodeId, b ua.ExpandedNodeId) error {
	err1 := s.removeOneSide(a, ua.Reference{ReferenceTypeId: refType, IsInverse: false, TargetId: b})
	if !b.IsLocal() {
		return err1
	}
	err2 := s.removeOneSide(b.NodeId, ua.Reference{ReferenceTypeId: refType, IsInverse: true, TargetId: ua.Local(a)})
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *Store) addOneSide(id ua.NodeId, ref ua.Reference) error {
	for {
		n, v, ok := s.CopyWithVersion(id)
		if !ok {
			return ErrNotFound
		}
		n.AddReference(ref)
		if err := s.Replace(v, n); err != nil {
			if err == ErrStale {
				continue
			}
			return err
		}
		return nil
	}
}

func (s *Store) removeOneSide(id ua.NodeId, ref ua.Reference) error {
	for {
		n, v, ok := s.CopyWithVersion(id)
		if !ok {
			return ErrNotFound
		}
		n.RemoveReference(ref.ReferenceTypeId, ref.IsInverse, ref.TargetId)
		if err := s.Replace(v, n); err != nil {
			if err == ErrStale {
				continue
			}
			return err
		}
		return nil
	}
}

// Count returns the number of nodes currently stored, used by reftypes'
// hierarchy walks as their step bound.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// AddNamespace appends uri to the namespace array if not already present
// and returns its index.
func (s *Store) AddNamespace(uri string) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.NamespaceArray {
		if u == uri {
			return uint16(i)
		}
	}
	s.NamespaceArray = append(s.NamespaceArray, uri)
	return uint16(len(s.NamespaceArray) - 1)
}
