package logger

import "log/slog"

// Standard field keys for structured logging, shared by the server and
// client side of the stack.
const (
	KeyTraceID = "trace_id"

	KeyService   = "service"
	KeyChannelID = "channel_id"
	KeySessionID = "session_id"
	KeySubID     = "subscription_id"
	KeyItemID    = "monitored_item_id"
	KeyNodeID    = "node_id"
	KeyStatus    = "status"

	KeyClientIP     = "client_ip"
	KeyRequestID    = "request_id"
	KeySequenceNum  = "sequence_number"
	KeyDurationMs   = "duration_ms"
	KeyError        = "error"
	KeyOperation    = "operation"
	KeyAttributeID  = "attribute_id"
	KeyQueueSize    = "queue_size"
	KeyTokenID      = "token_id"
	KeyKeepAliveCnt = "keep_alive_count"
)

// NodeID returns a slog.Attr for a NodeId rendered as its string form.
func NodeID(id string) slog.Attr {
	return slog.String(KeyNodeID, id)
}

// ChannelID returns a slog.Attr for a SecureChannel id.
func ChannelID(id uint32) slog.Attr {
	return slog.Any(KeyChannelID, id)
}

// SessionID returns a slog.Attr for a Session id.
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// SubscriptionID returns a slog.Attr for a Subscription id.
func SubscriptionID(id uint32) slog.Attr {
	return slog.Any(KeySubID, id)
}

// Status returns a slog.Attr for a StatusCode-like value.
func Status(code string) slog.Attr {
	return slog.String(KeyStatus, code)
}

// Err returns a slog.Attr for an error, or a zero Attr if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Operation returns a slog.Attr naming a sub-operation.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// SequenceNumber returns a slog.Attr for a NotificationMessage sequence number.
func SequenceNumber(n uint32) slog.Attr {
	return slog.Any(KeySequenceNum, n)
}
