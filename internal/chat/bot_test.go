// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/playback"
)

type sent struct {
	channelID string
	embed     *discordgo.MessageEmbed
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []sent
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, e *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, sent{channelID: channelID, embed: e})
	return &discordgo.Message{ChannelID: channelID}, nil
}

func (f *fakeSender) last(t *testing.T) sent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.msgs)
	return f.msgs[len(f.msgs)-1]
}

type fakePlayer struct {
	result   model.PlaybackResult
	position int
	enqErr   error
	reqs     []model.PlaybackRequest
	stopped  []string
	skipped  []string
	active   []playback.ActivePlayback
}

func (f *fakePlayer) Play(_ context.Context, req model.PlaybackRequest) model.PlaybackResult {
	f.reqs = append(f.reqs, req)
	return f.result
}

func (f *fakePlayer) Enqueue(_ context.Context, req model.PlaybackRequest) (int, error) {
	f.reqs = append(f.reqs, req)
	return f.position, f.enqErr
}

func (f *fakePlayer) Stop(_ context.Context, ch string) error {
	f.stopped = append(f.stopped, ch)
	return nil
}

func (f *fakePlayer) Skip(_ context.Context, ch string) error {
	f.skipped = append(f.skipped, ch)
	return nil
}

func (f *fakePlayer) Active() []playback.ActivePlayback { return f.active }

func newTestBot(player Player, voice map[string]string) (*Bot, *fakeSender) {
	sender := &fakeSender{}
	b := newBot(player,
		WithSender(sender),
		WithVoiceLocator(func(_, userID string) string { return voice[userID] }),
	)
	return b, sender
}

func msg(author, content string) Message {
	return Message{AuthorID: author, GuildID: "g1", ChannelID: "text1", Content: content}
}

func TestNew_RequiresToken(t *testing.T) {
	_, err := New("", &fakePlayer{})
	require.Error(t, err)
}

func TestHandle_PlayTargetsVoiceChannel(t *testing.T) {
	player := &fakePlayer{result: model.Started("voice1", "s1", model.ResolvedMedia{Title: "Inception", Year: 2010})}
	b, sender := newTestBot(player, map[string]string{"u1": "voice1"})

	b.Handle(msg("u1", "!play Inception"))

	require.Len(t, player.reqs, 1)
	req := player.reqs[0]
	assert.Equal(t, "u1", req.RequesterID)
	assert.Equal(t, "g1", req.GuildID)
	assert.Equal(t, "voice1", req.TargetChannelID)
	assert.Equal(t, "Inception", req.Query)
	assert.False(t, req.RequestedAt.IsZero())

	reply := sender.last(t)
	assert.Equal(t, "text1", reply.channelID)
	assert.Contains(t, reply.embed.Title, "Now Playing")
	assert.Contains(t, reply.embed.Description, "Inception")
	assert.Contains(t, reply.embed.Description, "2010")
}

func TestHandle_PlayFallsBackToTextChannel(t *testing.T) {
	player := &fakePlayer{result: model.Started("text1", "s1", model.ResolvedMedia{Title: "Heat"})}
	b, _ := newTestBot(player, nil)

	b.Handle(msg("u1", "!play Heat"))

	require.Len(t, player.reqs, 1)
	assert.Equal(t, "text1", player.reqs[0].TargetChannelID)
}

func TestHandle_PlayRejected(t *testing.T) {
	player := &fakePlayer{result: model.Rejected("voice1", &model.RateLimitError{Subject: "u1", Limit: 5, RetryAfter: 12 * time.Second})}
	b, sender := newTestBot(player, map[string]string{"u1": "voice1"})

	b.Handle(msg("u1", "!play Heat"))

	reply := sender.last(t)
	assert.Contains(t, reply.embed.Title, "Slow Down")
	assert.Contains(t, reply.embed.Description, "12s")
}

func TestHandle_PlayWithoutQueryShowsUsage(t *testing.T) {
	player := &fakePlayer{}
	b, sender := newTestBot(player, nil)

	b.Handle(msg("u1", "!play"))

	assert.Empty(t, player.reqs)
	assert.Contains(t, sender.last(t).embed.Description, "Usage")
}

func TestHandle_Queue(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		player := &fakePlayer{position: 3}
		b, sender := newTestBot(player, map[string]string{"u1": "voice1"})
		b.Handle(msg("u1", "!queue Ronin"))
		assert.Contains(t, sender.last(t).embed.Description, "#3")
	})

	t.Run("full", func(t *testing.T) {
		player := &fakePlayer{enqErr: model.ErrQueueFull}
		b, sender := newTestBot(player, map[string]string{"u1": "voice1"})
		b.Handle(msg("u1", "!queue Ronin"))
		assert.Contains(t, sender.last(t).embed.Title, "Queue Full")
	})
}

func TestHandle_StopAndSkip(t *testing.T) {
	player := &fakePlayer{}
	b, sender := newTestBot(player, map[string]string{"u1": "voice1"})

	b.Handle(msg("u1", "!stop"))
	assert.Contains(t, sender.last(t).embed.Title, "Stopped")
	b.Handle(msg("u1", "!skip"))
	assert.Contains(t, sender.last(t).embed.Title, "Skipped")

	assert.Equal(t, []string{"voice1"}, player.stopped)
	assert.Equal(t, []string{"voice1"}, player.skipped)
}

func TestHandle_StatusHelpUnknown(t *testing.T) {
	player := &fakePlayer{active: []playback.ActivePlayback{{ChannelID: "voice1", Title: "Heat", RequesterID: "u1", StartedAt: time.Now()}}}
	b, sender := newTestBot(player, nil)

	b.Handle(msg("u1", "!status"))
	reply := sender.last(t)
	require.Len(t, reply.embed.Fields, 1)
	assert.Equal(t, "Heat", reply.embed.Fields[0].Name)

	b.Handle(msg("u1", "!help"))
	assert.Contains(t, sender.last(t).embed.Description, "!play <title>")

	b.Handle(msg("u1", "!dance"))
	assert.Contains(t, sender.last(t).embed.Title, "dance")
}

func TestHandle_IgnoresBotsAndChatter(t *testing.T) {
	player := &fakePlayer{}
	b, sender := newTestBot(player, nil)

	m := msg("bot", "!play Heat")
	m.IsBot = true
	b.Handle(m)
	b.Handle(msg("u1", "what a movie"))

	assert.Empty(t, player.reqs)
	assert.Empty(t, sender.msgs)
}

func TestAnnounce(t *testing.T) {
	player := &fakePlayer{position: 2}
	b, sender := newTestBot(player, map[string]string{"u1": "voice1"})

	// Unknown target: nothing to announce to.
	b.AnnounceQueued(model.PlaybackRequest{TargetChannelID: "voiceX"}, model.Started("voiceX", "s", model.ResolvedMedia{Title: "A"}))
	assert.Empty(t, sender.msgs)

	b.Handle(msg("u1", "!queue Ronin"))
	b.AnnounceQueued(model.PlaybackRequest{TargetChannelID: "voice1"}, model.Started("voice1", "s2", model.ResolvedMedia{Title: "Ronin"}))
	reply := sender.last(t)
	assert.Equal(t, "text1", reply.channelID)
	assert.Contains(t, reply.embed.Description, "Ronin")

	before := len(sender.msgs)
	b.AnnounceCompletion(playback.CompletionEvent{ChannelID: "voice1", Title: "Ronin", Reason: playback.EndStopped})
	assert.Len(t, sender.msgs, before)

	b.AnnounceCompletion(playback.CompletionEvent{ChannelID: "voice1", Title: "Ronin", Reason: playback.EndFinished, Duration: 90 * time.Minute})
	reply = sender.last(t)
	assert.Contains(t, reply.embed.Title, "Finished")
	assert.Contains(t, reply.embed.Description, "1:30:00")
}

func TestRenderError_Reasons(t *testing.T) {
	assert.Contains(t, RenderError(model.ErrChannelBusy).Title, "Busy")
	assert.Contains(t, RenderError(model.ErrMediaNotFound).Title, "Not Found")
	assert.Contains(t, RenderError(&model.CircuitOpenError{Dependency: "plex", RetryAfter: 30 * time.Second}).Description, "30s")
	assert.Contains(t, RenderError(model.NewStreamingError("ffmpeg", "start", nil)).Title, "Stream Error")
	assert.Contains(t, RenderError(context.Canceled).Title, "Cancelled")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0:05", formatDuration(5*time.Second))
	assert.Equal(t, "2:03", formatDuration(123*time.Second))
	assert.Equal(t, "1:00:01", formatDuration(time.Hour+time.Second))
}
