package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-voicechat/internal/bus"
	"github.com/loqalabs/loqa-voicechat/internal/config"
	"github.com/loqalabs/loqa-voicechat/internal/playback"
	"github.com/loqalabs/loqa-voicechat/internal/protocol"
	"github.com/loqalabs/loqa-voicechat/internal/speaker"
)

var version = "0.1.0-dev"

const usage = "usage: voicechat <chat|join|leave|stop|speaker|version> [flags] [text]"

type commonFlags struct {
	servers string
	channel string
	user    string
	timeout time.Duration
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.servers, "servers", "nats://localhost:4222", "Comma separated NATS server URLs")
	fs.StringVar(&c.channel, "channel", "general", "Channel to address")
	fs.StringVar(&c.user, "user", defaultUser(), "User issuing the command")
	fs.DurationVar(&c.timeout, "timeout", 90*time.Second, "How long to wait for replies")
}

func (c *commonFlags) busConfig() config.BusConfig {
	var servers []string
	for _, s := range strings.Split(c.servers, ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}
	return config.BusConfig{Servers: servers, ConnectTimeout: 2000}
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch name := os.Args[1]; name {
	case protocol.CommandChat, protocol.CommandJoin, protocol.CommandLeave, protocol.CommandStop:
		err = runCommand(ctx, name, os.Args[2:], logger)
	case "speaker":
		err = runSpeaker(ctx, os.Args[2:], logger)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n%s\n", name, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, name string, args []string, logger *slog.Logger) error {
	var flags commonFlags
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	flags.register(fs)
	fs.Parse(args)

	text := strings.Join(fs.Args(), " ")
	if name == protocol.CommandChat && strings.TrimSpace(text) == "" {
		return errors.New("chat needs a prompt, e.g. voicechat chat \"[excited] what's the plan tonight?\"")
	}

	client, err := bus.Connect(ctx, "voicechat-cli", flags.busConfig(), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	replies := make(chan protocol.ChatReply, 8)
	traceID := uuid.NewString()
	sub, err := bus.Subscribe(client, protocol.SubjectChatReply, func(r protocol.ChatReply) {
		if r.TraceID == traceID {
			replies <- r
		}
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	if err := client.PublishJSON(protocol.SubjectChatCommand, protocol.ChatCommand{
		Channel:   flags.channel,
		User:      flags.user,
		Command:   name,
		Text:      text,
		TraceID:   traceID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("publish command: %w", err)
	}

	return printReplies(ctx, os.Stdout, replies, flags.timeout, name == protocol.CommandChat)
}

// printReplies prints replies until the first one arrives, or for chat
// until the follow-ups settle.
func printReplies(ctx context.Context, w io.Writer, replies <-chan protocol.ChatReply, timeout time.Duration, followUps bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	var idle <-chan time.Time
	var failed bool
	for {
		select {
		case r := <-replies:
			if r.Error {
				failed = true
				fmt.Fprintf(w, "! %s\n", r.Text)
			} else {
				fmt.Fprintln(w, r.Text)
			}
			if !followUps {
				return replyErr(failed)
			}
			idle = time.After(1500 * time.Millisecond)
		case <-idle:
			return replyErr(failed)
		case <-deadline.C:
			if idle != nil {
				return replyErr(failed)
			}
			return errors.New("timed out waiting for a reply")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func replyErr(failed bool) error {
	if failed {
		return errors.New("command failed")
	}
	return nil
}

func runSpeaker(ctx context.Context, args []string, logger *slog.Logger) error {
	var (
		flags   commonFlags
		id      string
		player  string
		dir     string
		mockDur time.Duration
	)
	fs := flag.NewFlagSet("speaker", flag.ExitOnError)
	flags.register(fs)
	fs.StringVar(&id, "id", "", "Speaker ID; defaults to -channel")
	fs.StringVar(&player, "player", "ffplay -nodisp -autoexit -loglevel quiet {file}", "Player command, {file} is replaced with the audio path")
	fs.StringVar(&dir, "dir", os.TempDir(), "Directory for staged audio")
	fs.DurationVar(&mockDur, "mock", 0, "Pretend to play for this long instead of running a player")
	fs.Parse(args)
	if id == "" {
		id = flags.channel
	}

	var sink playback.Sink
	if mockDur > 0 {
		sink = speaker.NewMockSink("mock:"+id, mockDur)
	} else {
		execSink, err := speaker.NewExecSink("exec:"+id, player)
		if err != nil {
			return err
		}
		sink = execSink
	}

	client, err := bus.Connect(ctx, "voicechat-speaker-"+id, flags.busConfig(), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	remote := speaker.NewRemote(id, client, sink, dir, 2*time.Second, logger)
	if err := remote.Start(ctx); err != nil {
		return err
	}
	defer remote.Close()

	fmt.Fprintf(os.Stderr, "speaker %s online using %s\n", id, sink.Name())
	<-ctx.Done()
	return nil
}

func defaultUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}
