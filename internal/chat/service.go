// Package chat turns text commands into spoken replies. It is the producer
// side of the playback queue: it renders audio and enqueues jobs but never
// plays anything itself.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-voicechat/internal/bus"
	"github.com/loqalabs/loqa-voicechat/internal/config"
	"github.com/loqalabs/loqa-voicechat/internal/history"
	"github.com/loqalabs/loqa-voicechat/internal/llm"
	"github.com/loqalabs/loqa-voicechat/internal/playback"
	"github.com/loqalabs/loqa-voicechat/internal/protocol"
	"github.com/loqalabs/loqa-voicechat/internal/speaker"
	"github.com/loqalabs/loqa-voicechat/internal/tts"
)

const (
	replyFailure      = "Something went wrong. Check logs."
	replyJoinFirst    = "Use `join` first so I can talk."
	replyStopped      = "Chill. I stopped talking."
	replyNothingToSay = "There's nothing playing right now."
	replyJoined       = "Sup, I'm here."
	replyAlreadyHere  = "I'm already in the call."
	replyNoSpeaker    = "No speaker is online for this channel. Start one and try again."
	replyLeft         = "I'm outta here."
	replyNotInCall    = "Bruh, I'm not even in the call."
	replyUsage        = "Usage: chat [style] <prompt>"
)

// Enqueuer accepts playback jobs.
type Enqueuer interface {
	Enqueue(job playback.Job) error
}

// Stopper aborts the job playing on a channel.
type Stopper interface {
	StopCurrent(channel string) (bool, error)
}

// Speakers connects and looks up channel sinks.
type Speakers interface {
	Join(channel string) error
	Leave(channel string) error
	Sink(channel string) (playback.Sink, bool)
}

// History stores the conversation of each channel.
type History interface {
	Append(ctx context.Context, channel string, msgs ...history.Message) error
	Recent(ctx context.Context, channel string, limit int) ([]history.Message, error)
	Trim(ctx context.Context, channel string, keep int) error
}

// Dependencies are the collaborators a Service drives.
type Dependencies struct {
	Bus       *bus.Client
	Queue     Enqueuer
	Stopper   Stopper
	Speakers  Speakers
	History   History
	Generator llm.Generator
	Synth     tts.Synthesizer
	// Reply overrides publishing replies on the bus.
	Reply func(protocol.ChatReply) error
}

type Service struct {
	cfg      config.ChatConfig
	llmCfg   config.LLMConfig
	ttsCfg   config.TTSConfig
	deps     Dependencies
	cooldown *Cooldown
	logger   *slog.Logger
	tracer   trace.Tracer
	commands metric.Int64Counter

	sub    *nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewService(parent context.Context, cfg config.Config, deps Dependencies, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	s := &Service{
		cfg:      cfg.Chat,
		llmCfg:   cfg.LLM,
		ttsCfg:   cfg.TTS,
		deps:     deps,
		cooldown: NewCooldown(time.Duration(cfg.Chat.CooldownMS) * time.Millisecond),
		logger:   logger.With(slog.String("component", "chat")),
		tracer:   otel.Tracer("github.com/loqalabs/loqa-voicechat/chat"),
		ctx:      ctx,
		cancel:   cancel,
		locks:    make(map[string]*sync.Mutex),
	}
	counter, err := otel.Meter("github.com/loqalabs/loqa-voicechat/chat").Int64Counter(
		"voicechat.chat.commands",
		metric.WithDescription("Chat commands handled, by command and outcome"),
	)
	if err != nil {
		s.logger.Warn("failed to create command counter", slogError(err))
	}
	s.commands = counter
	if s.deps.Reply == nil && deps.Bus != nil {
		s.deps.Reply = func(r protocol.ChatReply) error {
			return deps.Bus.PublishJSON(protocol.SubjectChatReply, r)
		}
	}
	return s
}

func (s *Service) Start() error {
	if !s.cfg.Enabled || s.deps.Bus == nil {
		return nil
	}
	sub, err := bus.Subscribe(s.deps.Bus, protocol.SubjectChatCommand, s.handleMessage)
	if err != nil {
		return fmt.Errorf("subscribe chat commands: %w", err)
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return !s.cfg.Enabled || s.deps.Bus == nil || s.sub != nil }

func (s *Service) handleMessage(cmd protocol.ChatCommand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Handle(s.ctx, cmd)
	}()
}

// Handle executes one command and sends its replies. Chat commands for the
// same channel run one at a time so history stays in order.
func (s *Service) Handle(ctx context.Context, cmd protocol.ChatCommand) {
	command := strings.ToLower(strings.TrimSpace(cmd.Command))
	if command == "" {
		command = protocol.CommandChat
	}

	ctx, span := s.tracer.Start(ctx, "chat."+command, trace.WithAttributes(
		attribute.String("chat.channel", cmd.Channel),
		attribute.String("chat.user", cmd.User),
	))
	defer span.End()

	var outcome string
	switch command {
	case protocol.CommandChat:
		outcome = s.handleChat(ctx, cmd, span)
	case protocol.CommandJoin:
		outcome = s.handleJoin(cmd)
	case protocol.CommandLeave:
		outcome = s.handleLeave(cmd)
	case protocol.CommandStop:
		outcome = s.handleStop(cmd)
	default:
		s.reply(cmd, fmt.Sprintf("Unknown command %q.", cmd.Command), true)
		outcome = "unknown"
	}
	span.SetAttributes(attribute.String("chat.outcome", outcome))
	if s.commands != nil {
		s.commands.Add(ctx, 1, metric.WithAttributes(
			attribute.String("command", command),
			attribute.String("outcome", outcome),
		))
	}
}

func (s *Service) handleChat(ctx context.Context, cmd protocol.ChatCommand, span trace.Span) string {
	if ok, wait := s.cooldown.Allow(cmd.User); !ok {
		s.reply(cmd, fmt.Sprintf("Slow down there! Try again in %.1f seconds.", wait.Seconds()), true)
		return "cooldown"
	}

	lock := s.channelLock(cmd.Channel)
	lock.Lock()
	defer lock.Unlock()

	style, prompt := ParseCommand(cmd.Text, s.cfg.DefaultStyle)
	if prompt == "" {
		s.reply(cmd, replyUsage, true)
		return "usage"
	}
	span.SetAttributes(attribute.String("chat.style", style))
	log := s.logger.With(slog.String("channel", cmd.Channel), slog.String("user", cmd.User), slog.String("style", style))

	reply, err := s.complete(ctx, cmd, prompt)
	if err != nil {
		s.fail(cmd, span, log, "completion failed", err)
		return "error"
	}
	s.reply(cmd, reply, false)

	if err := s.remember(ctx, cmd.Channel, prompt, reply); err != nil {
		log.Warn("failed to record history", slogError(err))
	}

	sink, ok := s.deps.Speakers.Sink(cmd.Channel)
	if !ok {
		s.reply(cmd, replyJoinFirst, false)
		return "no-speaker"
	}

	synthCtx, cancel := withTimeout(ctx, s.ttsCfg.TimeoutMS)
	defer cancel()
	res, err := tts.Render(synthCtx, s.deps.Synth, tts.SynthRequest{
		Channel: cmd.Channel,
		Text:    reply,
		Voice:   s.ttsCfg.Voice,
		Style:   style,
	}, s.ttsCfg.OutputDir)
	if err != nil {
		s.fail(cmd, span, log, "synthesis failed", err)
		return "error"
	}

	if err := s.deps.Queue.Enqueue(playback.Job{Channel: cmd.Channel, Resource: res, Sink: sink}); err != nil {
		_ = os.Remove(res.Path)
		s.fail(cmd, span, log, "enqueue failed", err)
		return "error"
	}
	log.Debug("reply enqueued", slog.String("path", res.Path))
	return "ok"
}

func (s *Service) complete(ctx context.Context, cmd protocol.ChatCommand, prompt string) (string, error) {
	recent, err := s.deps.History.Recent(ctx, cmd.Channel, s.cfg.MaxHistory)
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}
	messages := make([]llm.Message, 0, len(recent)+2)
	if s.cfg.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: s.cfg.SystemPrompt})
	}
	for _, m := range recent {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	req := llm.OptionsFromConfig(s.llmCfg)
	req.Channel = cmd.Channel
	req.TraceID = cmd.TraceID
	req.Messages = messages

	genCtx, cancel := withTimeout(ctx, s.llmCfg.TimeoutMS)
	defer cancel()
	reply, err := llm.Complete(genCtx, s.deps.Generator, req)
	if err != nil {
		return "", err
	}
	if reply == "" {
		return "", errors.New("empty completion")
	}
	return reply, nil
}

func (s *Service) remember(ctx context.Context, channel, prompt, reply string) error {
	if err := s.deps.History.Append(ctx, channel,
		history.Message{Role: llm.RoleUser, Content: prompt},
		history.Message{Role: llm.RoleAssistant, Content: reply},
	); err != nil {
		return err
	}
	if s.cfg.MaxHistory > 0 {
		return s.deps.History.Trim(ctx, channel, s.cfg.MaxHistory)
	}
	return nil
}

func (s *Service) handleJoin(cmd protocol.ChatCommand) string {
	err := s.deps.Speakers.Join(cmd.Channel)
	switch {
	case err == nil:
		s.reply(cmd, replyJoined, false)
		return "ok"
	case errors.Is(err, speaker.ErrAlreadyConnected):
		s.reply(cmd, replyAlreadyHere, false)
		return "noop"
	case errors.Is(err, speaker.ErrNotConnected):
		s.reply(cmd, replyNoSpeaker, true)
		return "no-speaker"
	default:
		s.logger.Warn("join failed", slog.String("channel", cmd.Channel), slogError(err))
		s.reply(cmd, replyFailure, true)
		return "error"
	}
}

func (s *Service) handleLeave(cmd protocol.ChatCommand) string {
	if err := s.deps.Speakers.Leave(cmd.Channel); err != nil {
		if errors.Is(err, speaker.ErrNotConnected) {
			s.reply(cmd, replyNotInCall, false)
			return "noop"
		}
		s.logger.Warn("leave failed", slog.String("channel", cmd.Channel), slogError(err))
		s.reply(cmd, replyFailure, true)
		return "error"
	}
	s.reply(cmd, replyLeft, false)
	return "ok"
}

func (s *Service) handleStop(cmd protocol.ChatCommand) string {
	stopped, err := s.deps.Stopper.StopCurrent(cmd.Channel)
	switch {
	case err != nil:
		s.logger.Warn("stop failed", slog.String("channel", cmd.Channel), slogError(err))
		s.reply(cmd, replyFailure, true)
		return "error"
	case stopped:
		s.reply(cmd, replyStopped, false)
		return "ok"
	default:
		s.reply(cmd, replyNothingToSay, false)
		return "noop"
	}
}

// HandlePlaybackResult surfaces playback failures to the channel. Aborts
// caused by stop or leave are expected and stay silent.
func (s *Service) HandlePlaybackResult(r playback.Result) {
	if r.Status == playback.StatusPlayed || r.Err == nil {
		return
	}
	if errors.Is(r.Err, speaker.ErrStopped) || errors.Is(r.Err, speaker.ErrNotConnected) {
		return
	}
	s.reply(protocol.ChatCommand{Channel: r.Job.Channel}, replyFailure, true)
}

func (s *Service) fail(cmd protocol.ChatCommand, span trace.Span, log *slog.Logger, msg string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	log.Warn(msg, slogError(err))
	s.reply(cmd, replyFailure, true)
}

func (s *Service) reply(cmd protocol.ChatCommand, text string, isErr bool) {
	if s.deps.Reply == nil {
		return
	}
	if err := s.deps.Reply(protocol.ChatReply{
		Channel:   cmd.Channel,
		Text:      text,
		Error:     isErr,
		TraceID:   cmd.TraceID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to send reply", slog.String("channel", cmd.Channel), slogError(err))
	}
}

func (s *Service) channelLock(channel string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	lock, ok := s.locks[channel]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[channel] = lock
	}
	return lock
}

func withTimeout(ctx context.Context, ms int) (context.Context, context.CancelFunc) {
	if ms <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
