package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loqalabs/loqa-voicechat/internal/config"
	"github.com/loqalabs/loqa-voicechat/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	configPath := flag.String("config", "", "Path to voicechat.yaml; built-in defaults and VOICECHAT_* env when empty")
	check := flag.Bool("check", false, "Validate the configuration, print the selected backends and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *check {
		printSummary(os.Stdout, cfg)
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Telemetry.SlogLevel()})).
		With(slog.String("runtime", cfg.RuntimeName), slog.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runtime.New(cfg, logger).Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func printSummary(w io.Writer, cfg config.Config) {
	bus := fmt.Sprint(cfg.Bus.Servers)
	if cfg.Bus.Embedded {
		bus = fmt.Sprintf("embedded on port %d", cfg.Bus.Port)
	}
	fmt.Fprintf(w, "runtime:  %s (%s)\n", cfg.RuntimeName, cfg.Environment)
	fmt.Fprintf(w, "bus:      %s\n", bus)
	fmt.Fprintf(w, "llm:      %s %s\n", cfg.LLM.Mode, cfg.LLM.Model)
	fmt.Fprintf(w, "tts:      %s %s @ %d Hz\n", cfg.TTS.Mode, cfg.TTS.Voice, cfg.TTS.SampleRate)
	fmt.Fprintf(w, "speaker:  %s\n", cfg.Speaker.Mode)
	fmt.Fprintf(w, "history:  %s %s\n", cfg.History.RetentionMode, cfg.History.Path)
	fmt.Fprintf(w, "http:     %s:%d\n", cfg.HTTP.Bind, cfg.HTTP.Port)
}
