package log

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor. The auth middleware sets these on the gin context too.
	FieldUserID   = "user_id"
	FieldUserName = "user_name"

	// Chat
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldReplyToID = "reply_to_id"
	FieldConnID    = "conn_id"
	FieldEvent     = "event"
	FieldRule      = "rule"

	FieldService = "service"
)
