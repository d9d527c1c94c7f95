// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/plexcord/internal/log"
	"github.com/ManuGH/plexcord/internal/model"
	"github.com/ManuGH/plexcord/internal/playback"
)

// DefaultPrefix starts every command.
const DefaultPrefix = "!"

// Player runs playback commands (playback.Orchestrator).
type Player interface {
	Play(ctx context.Context, req model.PlaybackRequest) model.PlaybackResult
	Enqueue(ctx context.Context, req model.PlaybackRequest) (int, error)
	Stop(ctx context.Context, channelID string) error
	Skip(ctx context.Context, channelID string) error
	Active() []playback.ActivePlayback
}

// Sender posts replies (discordgo.Session).
type Sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// VoiceLocator returns the voice channel the user is connected to in the
// guild, or "" when none is known.
type VoiceLocator func(guildID, userID string) string

// Message is the part of an incoming chat message the bot acts on.
type Message struct {
	AuthorID  string
	IsBot     bool
	GuildID   string
	ChannelID string
	Content   string
}

// Bot answers chat commands.
type Bot struct {
	session *discordgo.Session
	sender  Sender
	voice   VoiceLocator
	player  Player
	prefix  string
	timeout time.Duration
	logger  zerolog.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	replyTo map[string]string // target channel -> text channel of the last command
}

// Option configures a Bot.
type Option func(*Bot)

// WithPrefix sets the command prefix.
func WithPrefix(p string) Option {
	return func(b *Bot) {
		if p != "" {
			b.prefix = p
		}
	}
}

// WithCommandTimeout bounds a single command.
func WithCommandTimeout(d time.Duration) Option { return func(b *Bot) { b.timeout = d } }

// WithSender replaces the reply transport.
func WithSender(s Sender) Option { return func(b *Bot) { b.sender = s } }

// WithVoiceLocator replaces the voice state lookup.
func WithVoiceLocator(v VoiceLocator) Option { return func(b *Bot) { b.voice = v } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(b *Bot) { b.logger = l } }

// New creates a bot for token. The gateway connection is opened by Run.
func New(token string, player Player, opts ...Option) (*Bot, error) {
	if token == "" {
		return nil, errors.New("discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent

	b := newBot(player, opts...)
	b.session = session
	if b.sender == nil {
		b.sender = session
	}
	if b.voice == nil {
		b.voice = stateVoiceLocator(session.State)
	}
	session.AddHandler(b.onMessageCreate)
	return b, nil
}

func newBot(player Player, opts ...Option) *Bot {
	b := &Bot{
		player:  player,
		prefix:  DefaultPrefix,
		timeout: 90 * time.Second,
		logger:  xglog.WithComponent("chat"),
		replyTo: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.voice == nil {
		b.voice = func(string, string) string { return "" }
	}
	b.baseCtx, b.baseCancel = context.WithCancel(context.Background())
	return b
}

func stateVoiceLocator(state *discordgo.State) VoiceLocator {
	return func(guildID, userID string) string {
		if guildID == "" {
			return ""
		}
		vs, err := state.VoiceState(guildID, userID)
		if err != nil || vs == nil {
			return ""
		}
		return vs.ChannelID
	}
}

// Run connects to the gateway and serves commands until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	b.logger.Info().Str("prefix", b.prefix).Msg("chat bot connected")

	<-ctx.Done()

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.baseCancel()
	b.wg.Wait()
	if err := b.session.Close(); err != nil {
		b.logger.Warn().Err(err).Msg("failed to close Discord session")
	}
	b.logger.Info().Msg("chat bot disconnected")
	return nil
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}
	b.Handle(Message{
		AuthorID:  m.Author.ID,
		IsBot:     m.Author.Bot,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
	})
}

// Handle executes one message. It blocks until the reply is sent.
func (b *Bot) Handle(msg Message) {
	if msg.IsBot {
		return
	}
	cmd, ok := ParseCommand(b.prefix, msg.Content)
	if !ok {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	ctx, cancel := context.WithTimeout(b.baseCtx, b.timeout)
	defer cancel()

	logger := b.logger.With().
		Str("command", string(cmd.Kind)).
		Str(xglog.FieldRequesterID, msg.AuthorID).
		Str("text_channel_id", msg.ChannelID).
		Logger()
	logger.Debug().Msg("chat command received")

	switch cmd.Kind {
	case KindPlay, KindQueue:
		b.handlePlay(ctx, logger, msg, cmd)
	case KindStop, KindSkip:
		b.handleStop(ctx, logger, msg, cmd)
	case KindStatus:
		b.reply(msg.ChannelID, RenderStatus(b.player.Active()))
	case KindHelp:
		b.reply(msg.ChannelID, RenderHelp(b.prefix))
	default:
		e := RenderHelp(b.prefix)
		e.Title = fmt.Sprintf("❓ Unknown command `%s`", cmd.Name)
		b.reply(msg.ChannelID, e)
	}
}

// target is the author's voice channel, or the text channel when the author
// is not in voice.
func (b *Bot) target(msg Message) string {
	if ch := b.voice(msg.GuildID, msg.AuthorID); ch != "" {
		return ch
	}
	return msg.ChannelID
}

func (b *Bot) handlePlay(ctx context.Context, logger zerolog.Logger, msg Message, cmd Command) {
	if cmd.Args == "" {
		b.reply(msg.ChannelID, embed("❌ Usage Error", fmt.Sprintf("Usage: `%s%s <title>`", b.prefix, cmd.Name), colorError))
		return
	}
	req := model.PlaybackRequest{
		RequesterID:     msg.AuthorID,
		GuildID:         msg.GuildID,
		TargetChannelID: b.target(msg),
		Query:           cmd.Args,
		RequestedAt:     time.Now().UTC(),
	}
	b.remember(req.TargetChannelID, msg.ChannelID)

	if cmd.Kind == KindPlay {
		res := b.player.Play(ctx, req)
		logger.Info().
			Str(xglog.FieldChannelID, req.TargetChannelID).
			Str("status", string(res.Status)).
			Str(xglog.FieldReason, string(res.ReasonCode())).
			Msg("play command handled")
		b.reply(msg.ChannelID, RenderResult(res))
		return
	}

	pos, err := b.player.Enqueue(ctx, req)
	switch {
	case err != nil:
		logger.Info().Err(err).Str(xglog.FieldChannelID, req.TargetChannelID).Msg("queue command rejected")
		b.reply(msg.ChannelID, RenderError(err))
	case pos == 0:
		b.reply(msg.ChannelID, embed("▶️ Now Playing", fmt.Sprintf("**%s**", req.Query), colorOK))
	default:
		b.reply(msg.ChannelID, RenderQueued(req.Query, pos))
	}
}

func (b *Bot) handleStop(ctx context.Context, logger zerolog.Logger, msg Message, cmd Command) {
	target := b.target(msg)
	var err error
	if cmd.Kind == KindSkip {
		err = b.player.Skip(ctx, target)
	} else {
		err = b.player.Stop(ctx, target)
	}
	if err != nil {
		logger.Warn().Err(err).Str(xglog.FieldChannelID, target).Msg("stop command failed")
		b.reply(msg.ChannelID, RenderError(err))
		return
	}
	title := "⏹️ Stopped"
	if cmd.Kind == KindSkip {
		title = "⏭️ Skipped"
	}
	b.reply(msg.ChannelID, embed(title, fmt.Sprintf("<#%s>", target), colorIdle))
}

func (b *Bot) remember(target, textChannel string) {
	b.mu.Lock()
	b.replyTo[target] = textChannel
	b.mu.Unlock()
}

func (b *Bot) replyChannel(target string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.replyTo[target]
	return ch, ok
}

// AnnounceQueued posts the outcome of a request started from a queue to the
// text channel it was queued from. It satisfies playback.QueueHook.
func (b *Bot) AnnounceQueued(req model.PlaybackRequest, res model.PlaybackResult) {
	if ch, ok := b.replyChannel(req.TargetChannelID); ok {
		b.reply(ch, RenderResult(res))
	}
}

// AnnounceCompletion posts the end of a playback to the text channel that
// last commanded its target channel.
func (b *Bot) AnnounceCompletion(ev playback.CompletionEvent) {
	if ev.Reason == playback.EndShutdown || ev.Reason == playback.EndStopped || ev.Reason == playback.EndSkipped {
		return // the command reply already said so
	}
	if ch, ok := b.replyChannel(ev.ChannelID); ok {
		b.reply(ch, RenderCompletion(ev))
	}
}

func (b *Bot) reply(channelID string, e *discordgo.MessageEmbed) {
	if _, err := b.sender.ChannelMessageSendEmbed(channelID, e); err != nil {
		b.logger.Warn().Err(err).Str("text_channel_id", channelID).Msg("failed to send chat reply")
	}
}
