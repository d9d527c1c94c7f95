// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bytes"
	"strings"
	"sync"
)

const maxPartialLine = 4096

// LineRing keeps the last N lines written to it. It implements io.Writer and
// tolerates writes that split a line.
type LineRing struct {
	mu      sync.Mutex
	lines   []string
	next    int
	count   int
	partial []byte
}

// NewLineRing creates a LineRing with the given capacity (default 50).
func NewLineRing(capacity int) *LineRing {
	if capacity < 1 {
		capacity = 50
	}
	return &LineRing{lines: make([]string, capacity)}
}

func (r *LineRing) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := append(r.partial, p...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		r.push(string(buf[:i]))
		buf = buf[i+1:]
	}
	if len(buf) > maxPartialLine {
		r.push(string(buf))
		buf = nil
	}
	r.partial = append(r.partial[:0:0], buf...)
	return len(p), nil
}

func (r *LineRing) push(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.count < len(r.lines) {
		r.count++
	}
}

// LastN returns up to n of the most recent lines, oldest first. An
// unterminated trailing line is included.
func (r *LineRing) LastN(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, r.count+1)
	start := (r.next - r.count + len(r.lines)) % len(r.lines)
	for i := 0; i < r.count; i++ {
		out = append(out, r.lines[(start+i)%len(r.lines)])
	}
	if tail := strings.TrimSpace(string(r.partial)); tail != "" {
		out = append(out, tail)
	}
	if n >= 0 && len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}

// Reset discards all captured lines.
func (r *LineRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.lines)
	r.next, r.count = 0, 0
	r.partial = nil
}
