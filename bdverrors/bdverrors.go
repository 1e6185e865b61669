// Package bdverrors defines the BDV server's wire-stable error code
// enum (spec.md §6/§7) and the sum-type error wrappers built on top of
// it, following the RuleError idiom used throughout the teacher's
// blockdag and mempool packages.
package bdverrors

import "fmt"

// Code is a wire-stable numeric error code delivered to clients inside
// error notifications and replies.
type Code int32

// The subset of wire-stable codes named in spec.md §6.
const (
	CodeZcBroadcastAlreadyInChain  Code = -27
	CodeZcBroadcastVerifyRejected  Code = -26
	CodeZcBroadcastError          Code = -25
	CodeP2PRejectDuplicate         Code = 18
	CodeP2PRejectInsufficientFee   Code = 66
	CodeZcBatchTimeout             Code = 30000
	CodeZcBroadcastAlreadyInMempool Code = 30001
	CodeRPCFailureUnknown          Code = 40000
	CodeRPCFailureJSON             Code = 40001
	CodeRPCFailureInternal         Code = 40002
)

var codeNames = map[Code]string{
	CodeZcBroadcastAlreadyInChain:   "ZcBroadcast_AlreadyInChain",
	CodeZcBroadcastVerifyRejected:   "ZcBroadcast_VerifyRejected",
	CodeZcBroadcastError:            "ZcBroadcast_Error",
	CodeP2PRejectDuplicate:          "P2PReject_Duplicate",
	CodeP2PRejectInsufficientFee:    "P2PReject_InsufficientFee",
	CodeZcBatchTimeout:              "ZcBatch_Timeout",
	CodeZcBroadcastAlreadyInMempool: "ZcBroadcast_AlreadyInMempool",
	CodeRPCFailureUnknown:           "RPCFailure_Unknown",
	CodeRPCFailureJSON:              "RPCFailure_JSON",
	CodeRPCFailureInternal:          "RPCFailure_Internal",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int32(c))
}

// Structured is the {code, data, message, requestId} payload carried by
// an `error` notification (spec.md §4.7).
type Structured struct {
	Code      Code
	Data      string
	Message   string
	RequestID string
}

func (e *Structured) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds a Structured error for delivery to a single requestor.
func New(code Code, requestID, message string, data ...string) *Structured {
	d := ""
	if len(data) > 0 {
		d = data[0]
	}
	return &Structured{Code: code, Data: d, Message: message, RequestID: requestID}
}
