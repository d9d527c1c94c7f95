// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"strings"
)

// PresetCopy passes the source streams through without re-encoding.
const PresetCopy = "copy"

// ChannelPlaceholder is replaced by the channel id in Config.Sink.
const ChannelPlaceholder = "{channel}"

var qualityCRF = map[string]int{
	"low":    28,
	"medium": 23,
	"high":   18,
}

// CRF returns the x264 constant rate factor for a quality preset.
func CRF(quality string) int {
	if crf, ok := qualityCRF[strings.ToLower(quality)]; ok {
		return crf
	}
	return qualityCRF["medium"]
}

// BuildArgs renders the ffmpeg argument list for one stream.
func (c Config) BuildArgs(input, channelID string) []string {
	c = c.withDefaults()

	args := []string{
		"-hide_banner",
		"-loglevel", c.LogLevel,
		"-nostdin",
		"-re",
		"-i", input,
	}

	if c.Preset == PresetCopy {
		args = append(args, "-c", "copy")
	} else {
		if vf := c.scaleFilter(); vf != "" {
			args = append(args, "-vf", vf)
		}
		args = append(args,
			"-c:v", "libx264",
			"-preset", c.Preset,
			"-crf", fmt.Sprint(CRF(c.Quality)),
			"-g", "30",
			"-bf", "2",
		)
		if c.OutputFormat == "v4l2" {
			args = append(args, "-pix_fmt", "yuv420p", "-an")
		} else {
			args = append(args, "-c:a", "aac", "-b:a", "160k")
		}
	}

	sink := strings.ReplaceAll(c.Sink, ChannelPlaceholder, channelID)
	return append(args, "-f", c.OutputFormat, sink)
}

func (c Config) scaleFilter() string {
	switch {
	case c.Width > 0 && c.Height > 0:
		return fmt.Sprintf("scale=%d:%d", c.Width, c.Height)
	case c.Height > 0:
		return fmt.Sprintf("scale=-2:%d", c.Height)
	case c.Width > 0:
		return fmt.Sprintf("scale=%d:-2", c.Width)
	}
	return ""
}
