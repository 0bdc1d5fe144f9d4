// Package ua holds the address-space data model shared by the server core
// and the client mirror: node identifiers, the eight node classes, values,
// and the status-code vocabulary used throughout service dispatch.
//
// The binary wire representation of these types is treated as an external
// collaborator (a generated encoder/decoder); this package only defines the
// in-memory shape and the comparison/compatibility semantics the services
// need.
package ua

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// IdentifierKind distinguishes the four ways a NodeId can identify a node.
type IdentifierKind uint8

const (
	IdentifierNumeric IdentifierKind = iota
	IdentifierString
	IdentifierGUID
	IdentifierOpaque
)

// GUID is a 16-byte globally unique identifier, stored verbatim (no string
// parsing) since the wire codec is external to this package.
type GUID [16]byte

// NodeId identifies a node in the address space: a namespace index plus one
// of four identifier kinds. Equality is structural (I1/§3).
type NodeId struct {
	Namespace  uint16
	Kind       IdentifierKind
	Numeric    uint32
	String     string
	GUIDValue  GUID
	OpaqueBody []byte
}

// NewNumericNodeId builds a numeric NodeId.
func NewNumericNodeId(ns uint16, id uint32) NodeId {
	return NodeId{Namespace: ns, Kind: IdentifierNumeric, Numeric: id}
}

// NewStringNodeId builds a string NodeId.
func NewStringNodeId(ns uint16, id string) NodeId {
	return NodeId{Namespace: ns, Kind: IdentifierString, String: id}
}

// NewGUIDNodeId builds a GUID NodeId.
func NewGUIDNodeId(ns uint16, id GUID) NodeId {
	return NodeId{Namespace: ns, Kind: IdentifierGUID, GUIDValue: id}
}

// NewOpaqueNodeId builds an opaque (ByteString) NodeId.
func NewOpaqueNodeId(ns uint16, id []byte) NodeId {
	return NodeId{Namespace: ns, Kind: IdentifierOpaque, OpaqueBody: append([]byte(nil), id...)}
}

// NullNodeId is namespace 0, numeric 0 — the reserved null identifier (§3).
var NullNodeId = NewNumericNodeId(0, 0)

// IsNull reports whether id is the null NodeId: namespace 0 and a zero-value
// identifier of whatever kind it carries.
func (id NodeId) IsNull() bool {
	if id.Namespace != 0 {
		return false
	}
	switch id.Kind {
	case IdentifierNumeric:
		return id.Numeric == 0
	case IdentifierString:
		return id.String == ""
	case IdentifierGUID:
		return id.GUIDValue == GUID{}
	case IdentifierOpaque:
		return len(id.OpaqueBody) == 0
	default:
		return true
	}
}

// Equal implements structural NodeId equality (I1).
func (id NodeId) Equal(other NodeId) bool {
	if id.Namespace != other.Namespace || id.Kind != other.Kind {
		return false
	}
	switch id.Kind {
	case IdentifierNumeric:
		return id.Numeric == other.Numeric
	case IdentifierString:
		return id.String == other.String
	case IdentifierGUID:
		return id.GUIDValue == other.GUIDValue
	case IdentifierOpaque:
		return bytes.Equal(id.OpaqueBody, other.OpaqueBody)
	default:
		return false
	}
}

// IsBuiltIn reports whether id names one of the standard (namespace 0)
// built-in data types, used by compatible_data_type rule 6 (§4.3). The
// standard type tree reserves numeric identifiers 1..25 for scalar built-ins.
func (id NodeId) IsBuiltIn() bool {
	return id.Namespace == 0 && id.Kind == IdentifierNumeric && id.Numeric >= 1 && id.Numeric <= 25
}

// String_ renders a NodeId in the conventional ns=<n>;<kind>=<value> form used
// for logging; it is not the wire encoding.
func (id NodeId) String_() string { return id.renderString() }

func (id NodeId) renderString() string {
	switch id.Kind {
	case IdentifierNumeric:
		return fmt.Sprintf("ns=%d;i=%d", id.Namespace, id.Numeric)
	case IdentifierString:
		return fmt.Sprintf("ns=%d;s=%s", id.Namespace, id.String)
	case IdentifierGUID:
		return fmt.Sprintf("ns=%d;g=%s", id.Namespace, hex.EncodeToString(id.GUIDValue[:]))
	case IdentifierOpaque:
		return fmt.Sprintf("ns=%d;b=%s", id.Namespace, hex.EncodeToString(id.OpaqueBody))
	default:
		return fmt.Sprintf("ns=%d;?", id.Namespace)
	}
}

// Key returns a value usable as a map key for NodeId, since the struct
// itself contains a slice field ([]byte) and is not comparable with ==.
func (id NodeId) Key() string {
	return id.renderString()
}

// ExpandedNodeId is a NodeId optionally qualified by a namespace URI and a
// server index, used when a reference target lives in another server or
// namespace (§3).
type ExpandedNodeId struct {
	NodeId       NodeId
	NamespaceURI string
	ServerIndex  uint32
}

// Local builds an ExpandedNodeId for a node in the local server's default
// namespace table (no NamespaceURI, ServerIndex 0).
func Local(id NodeId) ExpandedNodeId {
	return ExpandedNodeId{NodeId: id}
}

// IsLocal reports whether e refers to a node in this server (no foreign
// namespace URI and ServerIndex 0), which is the only case the core node
// store can resolve directly.
func (e ExpandedNodeId) IsLocal() bool {
	return e.NamespaceURI == "" && e.ServerIndex == 0
}

// QualifiedName is a namespace-scoped name, used for BrowseName and for
// matching modelling-rule children during instantiation (§4.6).
type QualifiedName struct {
	NamespaceIndex uint16
	Name           string
}

// Equal compares two QualifiedNames structurally.
func (q QualifiedName) Equal(other QualifiedName) bool {
	return q.NamespaceIndex == other.NamespaceIndex && q.Name == other.Name
}

func (q QualifiedName) String() string {
	return fmt.Sprintf("%d:%s", q.NamespaceIndex, q.Name)
}

// LocalizedText is a locale-tagged display string (DisplayName, Description).
type LocalizedText struct {
	Locale string
	Text   string
}
