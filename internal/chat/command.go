// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package chat adapts Discord text commands onto the playback orchestrator.
package chat

import "strings"

// Kind is a chat command verb.
type Kind string

const (
	KindPlay    Kind = "play"
	KindQueue   Kind = "queue"
	KindStop    Kind = "stop"
	KindSkip    Kind = "skip"
	KindStatus  Kind = "status"
	KindHelp    Kind = "help"
	KindUnknown Kind = "unknown"
)

var kinds = map[string]Kind{
	"play":   KindPlay,
	"p":      KindPlay,
	"queue":  KindQueue,
	"q":      KindQueue,
	"stop":   KindStop,
	"skip":   KindSkip,
	"next":   KindSkip,
	"status": KindStatus,
	"np":     KindStatus,
	"help":   KindHelp,
}

// Command is one parsed chat message.
type Command struct {
	Kind Kind
	Name string // verb as typed, lower-cased
	Args string // rest of the message, whitespace-collapsed
}

// ParseCommand parses content addressed to the bot. ok is false when content
// does not start with prefix or names no verb. Unknown verbs parse as
// KindUnknown so the caller can answer with help.
func ParseCommand(prefix, content string) (cmd Command, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return Command{}, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return Command{}, false
	}

	name := strings.ToLower(fields[0])
	kind, known := kinds[name]
	if !known {
		kind = KindUnknown
	}
	return Command{Kind: kind, Name: name, Args: strings.Join(fields[1:], " ")}, true
}
