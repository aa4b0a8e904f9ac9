package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"basegraph.app/parley/common/clock"
	"basegraph.app/parley/common/logger"
	"basegraph.app/parley/core/config"
	"basegraph.app/parley/internal/platform/local"
	"basegraph.app/parley/internal/service"
)

// ask runs the conversation pipeline against the terminal. Every line is a
// mention, so each one gets a reply.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// stdout is the conversation; logs go to stderr.
	if os.Getenv("ASK_VERBOSE") != "" {
		logger.SetupOutput(cfg, os.Stderr)
	} else {
		slog.SetDefault(slog.New(logger.NewTraceHandler(
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
		)))
	}

	chat := local.New(os.Stdout)
	services, err := service.NewServices(ctx, cfg, chat, clock.Real())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer services.Close()

	fmt.Fprintf(os.Stderr, "parley ask ready (provider=%s, model=%s)\n", cfg.LLM.Provider, cfg.LLM.Model)
	fmt.Fprintln(os.Stderr, "Type a message (or 'quit' to exit):")

	responder := services.Responder()
	scanner := bufio.NewScanner(os.Stdin)
	for ctx.Err() == nil {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" || line == "q" {
			break
		}

		responder.OnInboundMessage(ctx, chat.Post(line))
		fmt.Println()
	}

	slog.DebugContext(ctx, "ask session ended")
	fmt.Fprintln(os.Stderr, "Goodbye!")
}
