// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plex

import "strings"

// APIResponse wraps the MediaContainer for JSON unmarshaling.
type APIResponse struct {
	MediaContainer MediaContainer `json:"MediaContainer"`
}

// MediaContainer is the root container for Plex API responses.
type MediaContainer struct {
	Size              int        `json:"size"`
	MachineIdentifier string     `json:"machineIdentifier,omitempty"`
	Version           string     `json:"version,omitempty"`
	Metadata          []Metadata `json:"Metadata,omitempty"`
}

// Guid is an external identifier such as "imdb://tt1375666".
type Guid struct {
	ID string `json:"id"`
}

// Metadata is a library item.
type Metadata struct {
	RatingKey        string  `json:"ratingKey"`
	Key              string  `json:"key"`
	GUID             string  `json:"guid,omitempty"`
	Guids            []Guid  `json:"Guid,omitempty"`
	Type             string  `json:"type"`
	Title            string  `json:"title"`
	GrandparentTitle string  `json:"grandparentTitle,omitempty"`
	Year             int     `json:"year,omitempty"`
	Duration         int64   `json:"duration,omitempty"` // milliseconds
	Media            []Media `json:"Media,omitempty"`
}

// Media is one encoding of an item.
type Media struct {
	ID        int    `json:"id"`
	Duration  int64  `json:"duration,omitempty"`
	Container string `json:"container,omitempty"`
	Part      []Part `json:"Part,omitempty"`
}

// Part is one file of a media encoding.
type Part struct {
	ID   int    `json:"id"`
	Key  string `json:"key"`
	File string `json:"file,omitempty"`
}

// playableTypes are the item types that resolve to a single video file.
var playableTypes = map[string]bool{
	"movie":   true,
	"episode": true,
	"clip":    true,
}

// FirstPart returns the first playable part of the item.
func (m Metadata) FirstPart() (Part, bool) {
	for _, media := range m.Media {
		for _, p := range media.Part {
			if p.Key != "" {
				return p, true
			}
		}
	}
	return Part{}, false
}

// IMDbID returns the IMDb identifier of the item, if Plex knows it.
// Both the current Guid list and legacy agent GUIDs are recognised.
func (m Metadata) IMDbID() string {
	for _, g := range m.Guids {
		if id, ok := strings.CutPrefix(g.ID, "imdb://"); ok && id != "" {
			return id
		}
	}
	if _, rest, ok := strings.Cut(m.GUID, "imdb://"); ok {
		id, _, _ := strings.Cut(rest, "?")
		return id
	}
	return ""
}
