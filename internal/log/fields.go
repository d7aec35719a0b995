package log

// Canonical field names for structured logging.
const (
	FieldComponent = "component"
	FieldEvent     = "event"
	FieldSessionID = "session_id"
	FieldSeq       = "seq"
	FieldOldState  = "old_state"
	FieldNewState  = "new_state"
	FieldTemplate  = "template"
	FieldPath      = "path"
	FieldAddr      = "addr"
)
