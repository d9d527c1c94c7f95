// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		stderr []string
		want   FailureClass
	}{
		{"oom", 1, []string{"av_malloc: Cannot allocate memory"}, ClassResourceExhaustion},
		{"killed", 137, nil, ClassResourceExhaustion},
		{"fd limit", 1, []string{"Too many open files"}, ClassResourceExhaustion},
		{"missing file", 1, []string{"/media/x.mkv: No such file or directory"}, ClassBadInput},
		{"corrupt", 1, []string{"Invalid data found when processing input"}, ClassBadInput},
		{"forbidden", 1, []string{"HTTP error 403 Forbidden", "Server returned 403 Forbidden (access denied)"}, ClassBadInput},
		{"reset", 1, []string{"Connection reset by peer"}, ClassTransientIO},
		{"upstream 5xx", 1, []string{"Server returned 502 Bad Gateway"}, ClassTransientIO},
		{"timeout", 1, []string{"Connection timed out"}, ClassTransientIO},
		{"nothing useful", 1, []string{"Conversion failed!"}, ClassUnknown},
		{"empty", 255, nil, ClassUnknown},
		{"resource wins", 1, []string{"Connection reset by peer", "No space left on device"}, ClassResourceExhaustion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.code, tt.stderr))
		})
	}
}

func TestFailureClass_Retryable(t *testing.T) {
	assert.False(t, ClassBadInput.Retryable())
	assert.True(t, ClassTransientIO.Retryable())
	assert.True(t, ClassResourceExhaustion.Retryable())
	assert.True(t, ClassUnknown.Retryable())
}
