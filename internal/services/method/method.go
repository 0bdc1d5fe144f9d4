// Package method implements the Call service (§4.8): input-argument
// validation against a Method's InputArguments/OutputArguments properties,
// and native callback invocation.
package method

import (
	"github.com/open62541/open62541-sub008/internal/logger"
	"github.com/open62541/open62541-sub008/internal/nodestore"
	"github.com/open62541/open62541-sub008/internal/typecheck"
	"github.com/open62541/open62541-sub008/pkg/ua"
)

var hasComponent = ua.NewNumericNodeId(0, 47)
var organizes = ua.NewNumericNodeId(0, 35)

const (
	inputArgumentsName  = "InputArguments"
	outputArgumentsName = "OutputArguments"
)

// CallMethodRequest is one Call invocation (§4.8).
type CallMethodRequest struct {
	ObjectId       ua.NodeId
	MethodId       ua.NodeId
	InputArguments []ua.Variant
}

// CallMethodResult is one Call invocation's outcome.
type CallMethodResult struct {
	Status               ua.StatusCode
	InputArgumentResults []ua.StatusCode
	OutputArguments      []ua.Variant
}

// Call validates and invokes one CallMethodRequest.
func Call(store *nodestore.Store, req CallMethodRequest) CallMethodResult {
	obj, ok := store.Get(req.ObjectId)
	if !ok {
		return CallMethodResult{Status: ua.StatusOf(ua.ErrBadNodeIdUnknown)}
	}

	methodNode, ok := store.Get(req.MethodId)
	if !ok || methodNode.Class != ua.ClassMethod {
		return CallMethodResult{Status: ua.StatusOf(ua.ErrBadMethodInvalid)}
	}
	if !objectOwnsMethod(store, obj, req.MethodId) {
		return CallMethodResult{Status: ua.StatusOf(ua.ErrBadMethodInvalid)}
	}

	m := methodNode.Method
	if m == nil || !m.Executable {
		return CallMethodResult{Status: ua.StatusOf(ua.ErrBadNotExecutable)}
	}
	if !m.UserExecutable {
		return CallMethodResult{Status: ua.StatusOf(ua.ErrBadUserAccessDenied)}
	}
	if m.Callback == nil {
		return CallMethodResult{Status: ua.StatusOf(ua.ErrBadNotExecutable)}
	}

	inputSpec := propertyArguments(store, methodNode, inputArgumentsName)
	argStatuses, argStatus := validateArguments(store, inputSpec, req.InputArguments)
	if argStatus.IsBad() {
		return CallMethodResult{Status: argStatus, InputArgumentResults: argStatuses}
	}

	output, status := m.Callback(req.ObjectId, req.InputArguments)
	if status.IsBad() {
		logger.Warn("method invocation returned bad status", logger.NodeID(req.MethodId.String_()), logger.Status(status.Code.String()))
	} else if outputSpec := propertyArguments(store, methodNode, outputArgumentsName); len(outputSpec) != len(output) {
		logger.Warn("method callback returned a mismatched output argument count", logger.NodeID(req.MethodId.String_()))
	}
	return CallMethodResult{Status: status, InputArgumentResults: argStatuses, OutputArguments: output}
}

// objectOwnsMethod reports whether obj references methodId via HasComponent
// (or a subtype-like indirection through Organizes, used by
// FunctionalGroupType-style groupings) (§4.8).
func objectOwnsMethod(store *nodestore.Store, obj *ua.Node, methodId ua.NodeId) bool {
	if ownsDirect(obj, methodId) {
		return true
	}
	for _, ref := range obj.References {
		if ref.IsInverse || !ref.ReferenceTypeId.Equal(organizes) || !ref.TargetId.IsLocal() {
			continue
		}
		group, ok := store.Get(ref.TargetId.NodeId)
		if ok && ownsDirect(group, methodId) {
			return true
		}
	}
	return false
}

func ownsDirect(n *ua.Node, methodId ua.NodeId) bool {
	for _, ref := range n.References {
		if !ref.IsInverse && ref.ReferenceTypeId.Equal(hasComponent) && ref.TargetId.NodeId.Equal(methodId) {
			return true
		}
	}
	return false
}

// argumentSpec mirrors one element of an Arguments property value: name,
// dataType, valueRank, arrayDimensions (the standard Argument structure).
type argumentSpec struct {
	DataType        ua.NodeId
	ValueRank       int32
	ArrayDimensions []uint32
}

// propertyArguments fetches and decodes methodNode's InputArguments or
// OutputArguments property, if present. A missing property means the
// method takes no arguments of that kind.
func propertyArguments(store *nodestore.Store, methodNode *ua.Node, propName string) []argumentSpec {
	for _, ref := range methodNode.References {
		if ref.IsInverse || !ref.ReferenceTypeId.Equal(hasPropertyId()) || !ref.TargetId.IsLocal() {
			continue
		}
		propNode, ok := store.Get(ref.TargetId.NodeId)
		if !ok || propNode.BrowseName.Name != propName || propNode.Variable == nil {
			continue
		}
		return decodeArgumentArray(propNode.Variable.Source.Value.Value)
	}
	return nil
}

func hasPropertyId() ua.NodeId { return ua.NewNumericNodeId(0, 46) }

// decodeArgumentArray reads a Variant holding an array of Argument structs
// carried as []any of argumentSpec, the in-memory representation this
// server uses for extension objects of that type (the wire codec's
// structured decoding is out of scope here).
func decodeArgumentArray(v ua.Variant) []argumentSpec {
	if !v.IsArray() {
		return nil
	}
	specs := make([]argumentSpec, 0, len(v.Array))
	for _, elem := range v.Array {
		if spec, ok := elem.(argumentSpec); ok {
			specs = append(specs, spec)
		}
	}
	return specs
}

// validateArguments checks count and per-argument type compatibility
// (§4.8: missing/extra arguments and per-slot BadInvalidArgument).
func validateArguments(store *nodestore.Store, spec []argumentSpec, args []ua.Variant) ([]ua.StatusCode, ua.StatusCode) {
	if len(args) < len(spec) {
		return nil, ua.StatusOf(ua.ErrBadArgumentsMissing)
	}
	if len(args) > len(spec) {
		return nil, ua.StatusOf(ua.ErrBadTooManyArguments)
	}

	statuses := make([]ua.StatusCode, len(spec))
	anyBad := false
	for i, s := range spec {
		_, status := typecheck.TypeCheckValue(store, s.DataType, s.ValueRank, s.ArrayDimensions, args[i], "")
		statuses[i] = status
		if status.IsBad() {
			statuses[i] = ua.StatusOf(ua.ErrBadInvalidArgument)
			anyBad = true
		}
	}
	if anyBad {
		return statuses, ua.StatusOf(ua.ErrBadInvalidArgument)
	}
	return statuses, ua.Good
}
