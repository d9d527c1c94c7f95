// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chat

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/playback"
)

const (
	colorOK    = 0x00ff00
	colorInfo  = 0x5865f2
	colorWarn  = 0xffa500
	colorError = 0xff0000
	colorIdle  = 0x808080
)

func embed(title, description string, color int) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// RenderResult turns a playback outcome into a reply.
func RenderResult(res model.PlaybackResult) *discordgo.MessageEmbed {
	if res.Status == model.StatusStarted {
		e := embed("▶️ Now Playing", mediaLine(res.Media), colorOK)
		if res.Media != nil && res.Media.DurationSeconds > 0 {
			e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
				Name:   "Duration",
				Value:  formatDuration(time.Duration(res.Media.DurationSeconds) * time.Second),
				Inline: true,
			})
		}
		return e
	}
	return RenderError(res.Reason)
}

// RenderError explains a rejected or failed command.
func RenderError(err error) *discordgo.MessageEmbed {
	retry := model.RetryAfterOf(err)
	switch model.ReasonFor(err) {
	case model.RRateLimited:
		return embed("⏳ Slow Down", fmt.Sprintf("You're sending requests too fast. Try again in %s.", formatRetry(retry)), colorWarn)
	case model.RChannelBusy:
		return embed("🔒 Channel Busy", "Something is already playing in that channel. Use `queue` to add to it.", colorWarn)
	case model.RMediaNotFound:
		return embed("🔍 Not Found", "Nothing playable matched your search.", colorWarn)
	case model.RCircuitOpen:
		return embed("🚧 Temporarily Unavailable", fmt.Sprintf("Streaming is paused after repeated failures. Try again in %s.", formatRetry(retry)), colorError)
	case model.RQueueFull:
		return embed("📚 Queue Full", "The queue for that channel is full.", colorWarn)
	case model.RAuthFailed:
		return embed("❌ Error", "The media server rejected our credentials.", colorError)
	case model.RStreaming:
		return embed("❌ Stream Error", "The stream could not be started. Please try again.", colorError)
	case model.RCancelled:
		return embed("❌ Cancelled", "The request was cancelled.", colorIdle)
	default:
		return embed("❌ Error", "Something went wrong.", colorError)
	}
}

// RenderQueued confirms a queued request.
func RenderQueued(query string, position int) *discordgo.MessageEmbed {
	return embed("📥 Queued", fmt.Sprintf("**%s** is #%d in the queue.", query, position), colorInfo)
}

// RenderStatus lists active playbacks.
func RenderStatus(active []playback.ActivePlayback) *discordgo.MessageEmbed {
	if len(active) == 0 {
		return embed("📭 Idle", "Nothing is playing.", colorIdle)
	}
	e := embed("📺 Now Playing", "", colorInfo)
	now := time.Now()
	for _, a := range active {
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{
			Name:  a.Title,
			Value: fmt.Sprintf("<#%s> · %s · requested by <@%s>", a.ChannelID, formatDuration(now.Sub(a.StartedAt)), a.RequesterID),
		})
	}
	return e
}

// RenderCompletion announces the end of a playback.
func RenderCompletion(ev playback.CompletionEvent) *discordgo.MessageEmbed {
	switch ev.Reason {
	case playback.EndFinished:
		return embed("⏹️ Finished", fmt.Sprintf("**%s** finished after %s.", ev.Title, formatDuration(ev.Duration)), colorIdle)
	case playback.EndFailed:
		return embed("❌ Stream Ended", fmt.Sprintf("**%s** stopped unexpectedly.", ev.Title), colorError)
	case playback.EndLockLost:
		return embed("⚠️ Stream Ended", fmt.Sprintf("**%s** stopped: the channel was taken over.", ev.Title), colorWarn)
	default:
		return embed("⏹️ Stopped", fmt.Sprintf("**%s** was %s.", ev.Title, ev.Reason), colorIdle)
	}
}

// RenderHelp lists the commands.
func RenderHelp(prefix string) *discordgo.MessageEmbed {
	lines := []string{
		fmt.Sprintf("`%splay <title>` play now in your voice channel", prefix),
		fmt.Sprintf("`%squeue <title>` add to the channel queue", prefix),
		fmt.Sprintf("`%sskip` stop and play the next queued title", prefix),
		fmt.Sprintf("`%sstop` stop playback", prefix),
		fmt.Sprintf("`%sstatus` show what is playing", prefix),
	}
	return embed("📖 Commands", strings.Join(lines, "\n"), colorInfo)
}

func mediaLine(m *model.ResolvedMedia) string {
	if m == nil {
		return ""
	}
	if m.Year > 0 {
		return fmt.Sprintf("**%s** (%d)", m.Title, m.Year)
	}
	return fmt.Sprintf("**%s**", m.Title)
}

func formatRetry(d time.Duration) string {
	if d <= 0 {
		return "a moment"
	}
	return fmt.Sprintf("%ds", int(math.Ceil(d.Seconds())))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
