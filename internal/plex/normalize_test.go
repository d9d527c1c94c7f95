// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Inception", "inception"},
		{"  The   Dark\tKnight \n", "the dark knight"},
		{"STRASSE", "strasse"},
		{"Straße", "strasse"},
		{"   ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeQuery(tt.in), "input %q", tt.in)
	}
}

func TestNormalizeQuery_EquivalentQueriesShareKey(t *testing.T) {
	assert.Equal(t, NormalizeQuery("inception"), NormalizeQuery("  INCEPTION "))
}

func TestMetadataIMDbID(t *testing.T) {
	m := Metadata{Guids: []Guid{{ID: "tmdb://27205"}, {ID: "imdb://tt1375666"}}}
	assert.Equal(t, "tt1375666", m.IMDbID())

	legacy := Metadata{GUID: "com.plexapp.agents.imdb://tt0113277?lang=en"}
	assert.Equal(t, "tt0113277", legacy.IMDbID())

	assert.Empty(t, Metadata{GUID: "plex://movie/5d776"}.IMDbID())
}
