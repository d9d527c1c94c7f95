// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID   = "session_id"
	FieldRequestID   = "request_id"
	FieldRequesterID = "requester_id"
	FieldGuildID     = "guild_id"
	FieldChannelID   = "channel_id"
	FieldOwner       = "owner"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldAttempt   = "attempt"
	FieldExitCode  = "exit_code"

	// Media fields
	FieldQuery   = "query"
	FieldMediaID = "media_id"
	FieldTitle   = "title"

	// Coordination fields
	FieldDependency = "dependency"
	FieldSubject    = "subject"
	FieldKey        = "key"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"
)
