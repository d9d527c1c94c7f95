// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildArgs_Transcode(t *testing.T) {
	cfg := Config{
		OutputFormat: "mpegts",
		Sink:         "udp://127.0.0.1:5000/{channel}",
		Width:        1280,
		Height:       720,
		Preset:       "veryfast",
		Quality:      "high",
	}
	args := cfg.BuildArgs("http://plex:32400/library/parts/1/file.mkv?X-Plex-Token=t", "42")
	joined := strings.Join(args, " ")

	assert.True(t, strings.HasPrefix(joined, "-hide_banner -loglevel error -nostdin -re -i http://plex:32400/"))
	assert.Contains(t, joined, "-vf scale=1280:720")
	assert.Contains(t, joined, "-c:v libx264 -preset veryfast -crf 18")
	assert.Contains(t, joined, "-c:a aac")
	assert.Equal(t, []string{"-f", "mpegts", "udp://127.0.0.1:5000/42"}, args[len(args)-3:])
}

func TestBuildArgs_Copy(t *testing.T) {
	cfg := Config{Preset: PresetCopy, Width: 1280, Height: 720}
	args := cfg.BuildArgs("in.mkv", "7")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-c copy")
	assert.NotContains(t, joined, "-vf")
	assert.NotContains(t, joined, "libx264")
	assert.Equal(t, []string{"-f", "mpegts", "pipe:1"}, args[len(args)-3:])
}

func TestBuildArgs_V4L2DropsAudio(t *testing.T) {
	cfg := Config{OutputFormat: "v4l2", Sink: "/dev/video{channel}", Height: 1080}
	args := cfg.BuildArgs("in.mkv", "9")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-vf scale=-2:1080")
	assert.Contains(t, joined, "-pix_fmt yuv420p -an")
	assert.Equal(t, "/dev/video9", args[len(args)-1])
}

func TestCRF(t *testing.T) {
	assert.Equal(t, 28, CRF("low"))
	assert.Equal(t, 23, CRF("MEDIUM"))
	assert.Equal(t, 18, CRF("high"))
	assert.Equal(t, 23, CRF("ultra"))
}
