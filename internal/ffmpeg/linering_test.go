// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineRing_KeepsNewest(t *testing.T) {
	r := NewLineRing(3)
	for i := 1; i <= 5; i++ {
		_, _ = fmt.Fprintf(r, "line %d\n", i)
	}
	assert.Equal(t, []string{"line 3", "line 4", "line 5"}, r.LastN(10))
	assert.Equal(t, []string{"line 5"}, r.LastN(1))
}

func TestLineRing_PartialWrites(t *testing.T) {
	r := NewLineRing(10)
	_, _ = r.Write([]byte("Connection re"))
	_, _ = r.Write([]byte("set by peer\r\nnext"))

	assert.Equal(t, []string{"Connection reset by peer", "next"}, r.LastN(10))

	_, _ = r.Write([]byte(" line\n\n"))
	assert.Equal(t, []string{"Connection reset by peer", "next line"}, r.LastN(10))
}

func TestLineRing_Reset(t *testing.T) {
	r := NewLineRing(0)
	_, _ = r.Write([]byte("a\nb"))
	r.Reset()
	assert.Empty(t, r.LastN(5))
}
