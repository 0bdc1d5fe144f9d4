package ua

// NodeClass tags which of the eight node variants a Node is. Every
// attribute-access and type-check code path in the services switches on this
// value instead of casting, so adding a ninth class is a compile error until
// every switch is updated.
type NodeClass uint8

const (
	ClassObject NodeClass = iota
	ClassVariable
	ClassMethod
	ClassObjectType
	ClassVariableType
	ClassReferenceType
	ClassDataType
	ClassView
)

func (c NodeClass) String() string {
	switch c {
	case ClassObject:
		return "Object"
	case ClassVariable:
		return "Variable"
	case ClassMethod:
		return "Method"
	case ClassObjectType:
		return "ObjectType"
	case ClassVariableType:
		return "VariableType"
	case ClassReferenceType:
		return "ReferenceType"
	case ClassDataType:
		return "DataType"
	case ClassView:
		return "View"
	default:
		return "Unknown"
	}
}

// Reference is one outgoing (or recorded-inverse) edge from a node (§3). The
// store keeps both directions of every reference on the two endpoint nodes
// (I2); IsInverse says which direction this particular record represents
// from the owning node's point of view.
type Reference struct {
	ReferenceTypeId NodeId
	IsInverse       bool
	TargetId        ExpandedNodeId
}

// Header carries the fields every node class has, per §3.
type Header struct {
	NodeId        NodeId
	Class         NodeClass
	BrowseName    QualifiedName
	DisplayName   LocalizedText
	Description   LocalizedText
	WriteMask     uint32
	UserWriteMask uint32
	References    []Reference
}

// ValueSourceKind distinguishes an owned DataValue from a server-supplied
// DataSource callback pair (§3).
type ValueSourceKind uint8

const (
	ValueSourceOwned ValueSourceKind = iota
	ValueSourceDataSource
)

// DataSourceReadFunc mirrors the native read callback of a DataSource-backed
// Variable/VariableType; it receives the requested NumericRange and whether
// a source timestamp was asked for.
type DataSourceReadFunc func(rangeStr string, wantSourceTimestamp bool) (DataValue, StatusCode)

// DataSourceWriteFunc mirrors the native write callback.
type DataSourceWriteFunc func(value DataValue, rangeStr string) StatusCode

// ValueSource is either an owned value (with optional on-read/on-write
// callbacks invoked in addition to the stored value) or a pure DataSource.
type ValueSource struct {
	Kind ValueSourceKind

	Value DataValue // meaningful when Kind == ValueSourceOwned

	// OnRead/OnWrite fire for an owned value in addition to the stored
	// DataValue; nil means no callback registered.
	OnRead  func(rangeStr string) (DataValue, bool)
	OnWrite func(value DataValue)

	DataSourceRead  DataSourceReadFunc
	DataSourceWrite DataSourceWriteFunc
}

// VariableBody carries the fields specific to Variable and VariableType
// nodes (§3).
type VariableBody struct {
	DataType               NodeId
	ValueRank              int32
	ArrayDimensions        []uint32
	AccessLevel            uint8
	UserAccessLevel        uint8
	MinimumSamplingInterval float64
	Historizing            bool
	Source                 ValueSource

	// IsType is true for a VariableType node; it changes which write-mask
	// bit governs Value writes (§4.5) and makes a DataType write fail with
	// BadInvalidState while the type has instances.
	IsType      bool
	IsAbstract  bool // meaningful only when IsType is true
}

// ReferenceTypeBody carries ReferenceType-specific fields (§3).
type ReferenceTypeBody struct {
	IsAbstract  bool
	Symmetric   bool
	InverseName LocalizedText
}

// ObjectTypeBody carries ObjectType-specific fields, including the optional
// lifecycle hooks (§4.6). DeleteNodes invokes Destructor for Object
// instances of the type; AddNodes does not invoke Constructor.
type ObjectTypeBody struct {
	IsAbstract  bool
	Constructor func(instance NodeId) StatusCode
	Destructor  func(instance NodeId)
}

// DataTypeBody carries DataType-specific fields (§3).
type DataTypeBody struct {
	IsAbstract bool
}

// ViewBody carries View-specific fields (§3).
type ViewBody struct {
	ContainsNoLoops bool
	EventNotifier   uint8
}

// MethodBody carries Method-specific fields; the native callback is not
// wire-serialisable and lives only in memory (§3).
type MethodBody struct {
	Executable     bool
	UserExecutable bool
	Callback       MethodCallback
}

// MethodCallback is the native handler invoked by the Call service (§4.8).
// It returns the output arguments plus one overall status; a nil Callback
// makes the method permanently non-executable.
type MethodCallback func(object NodeId, input []Variant) (output []Variant, status StatusCode)

// Node is the sum type over the eight node classes (§3, REDESIGN FLAGS).
// Exactly one of the Body fields is meaningful, selected by Header.Class;
// callers switch on Class rather than type-asserting so the compiler flags
// missing cases.
type Node struct {
	Header

	Variable      *VariableBody      // Class == ClassVariable || ClassVariableType
	ReferenceType *ReferenceTypeBody // Class == ClassReferenceType
	ObjectType    *ObjectTypeBody    // Class == ClassObjectType
	DataType      *DataTypeBody      // Class == ClassDataType
	View          *ViewBody          // Class == ClassView
	Method        *MethodBody        // Class == ClassMethod
}

// Clone returns a deep copy of n, suitable as the logical copy half of the
// NodeStore's copy-and-replace mutation path (§4.1).
func (n *Node) Clone() *Node {
	clone := *n
	clone.References = append([]Reference(nil), n.References...)

	if n.Variable != nil {
		v := *n.Variable
		v.ArrayDimensions = append([]uint32(nil), n.Variable.ArrayDimensions...)
		clone.Variable = &v
	}
	if n.ReferenceType != nil {
		v := *n.ReferenceType
		clone.ReferenceType = &v
	}
	if n.ObjectType != nil {
		v := *n.ObjectType
		clone.ObjectType = &v
	}
	if n.DataType != nil {
		v := *n.DataType
		clone.DataType = &v
	}
	if n.View != nil {
		v := *n.View
		clone.View = &v
	}
	if n.Method != nil {
		v := *n.Method
		clone.Method = &v
	}
	return &clone
}

// IsTypeNode reports whether n's class belongs to the type hierarchy
// (ObjectType/VariableType/ReferenceType/DataType), as opposed to an
// instance node (Object/Variable/Method/View).
func (n *Node) IsTypeNode() bool {
	switch n.Class {
	case ClassObjectType, ClassVariableType, ClassReferenceType, ClassDataType:
		return true
	default:
		return false
	}
}

// IsAbstract reports the class-specific abstract flag, or false for classes
// that do not carry one (Object, Variable, Method, View).
func (n *Node) IsAbstract() bool {
	switch n.Class {
	case ClassVariableType:
		return n.Variable != nil && n.Variable.IsAbstract
	case ClassReferenceType:
		return n.ReferenceType != nil && n.ReferenceType.IsAbstract
	case ClassObjectType:
		return n.ObjectType != nil && n.ObjectType.IsAbstract
	case ClassDataType:
		return n.DataType != nil && n.DataType.IsAbstract
	default:
		return false
	}
}

// AddReference appends ref to n's outgoing reference list.
func (n *Node) AddReference(ref Reference) {
	n.References = append(n.References, ref)
}

// RemoveReference deletes the first reference matching typeId/inverse/target,
// reporting whether one was found.
func (n *Node) RemoveReference(typeId NodeId, isInverse bool, target ExpandedNodeId) bool {
	for i, r := range n.References {
		if r.ReferenceTypeId.Equal(typeId) && r.IsInverse == isInverse &&
			r.TargetId.NodeId.Equal(target.NodeId) {
			n.References = append(n.References[:i], n.References[i+1:]...)
			return true
		}
	}
	return false
}
