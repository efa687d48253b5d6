package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"log/slog"

	"livewatch-client/internal/auth"
	"livewatch-client/internal/config"
	"livewatch-client/internal/lifecycle"
	"livewatch-client/internal/livewatch"
	"livewatch-client/internal/protocol"
	"livewatch-client/internal/session"
	"livewatch-client/internal/transport"
)

func main() {
	contentID := flag.Int64("content", 1, "content ID to join the live-watch room for")
	userID := flag.Int64("user", 1, "user ID for dev token minting")
	userName := flag.String("name", "viewer", "user name for dev token minting")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	tokens := auth.NewManager()
	rest := livewatch.NewClient(cfg.API.BaseURL, tokens, slog.Default())

	token := cfg.Chat.Token
	if token == "" {
		// no token configured, fall back to the dev server's minting endpoint
		token, err = rest.DevToken(context.Background(), *userID, *userName)
		if err != nil {
			slog.Error("Failed to obtain token", "error", err)
			os.Exit(1)
		}
	}
	tokens.SetToken(token)

	adapter := transport.NewAdapter(transport.Options{
		URL:               cfg.WebSocket.URL,
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		PongWait:          cfg.WebSocket.PongWait,
		WriteWait:         cfg.WebSocket.WriteWait,
		ReconnectAttempts: cfg.WebSocket.ReconnectAttempts,
		ReconnectDelay:    cfg.WebSocket.ReconnectDelay,
	}, tokens)

	coord := session.NewCoordinator(adapter, rest, cfg.Chat.PageSize, slog.Default())
	coord.SetEventSink(printEvent)

	alert := func(msg string) {
		fmt.Fprintf(os.Stderr, "\n!! %s\n", msg)
	}
	runner := lifecycle.NewRunner(adapter, coord, rest, *contentID, alert, slog.Default())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner.Start(ctx)
	defer runner.Stop()

	go readInput(ctx, stop, coord)

	<-ctx.Done()
	// tab-close analog: best-effort leave before teardown
	runner.NotifyUnload()
	slog.Info("Shutting down")
}

func readInput(ctx context.Context, stop context.CancelFunc, coord *session.Coordinator) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue

		case line == "/quit" || line == "/leave":
			stop()
			return

		case line == "/more":
			if err := coord.LoadMore(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "load more failed: %v\n", err)
			}

		case line == "/who":
			view := coord.Snapshot()
			fmt.Printf("-- %d watching --\n", view.ParticipantCount)
			for _, p := range view.Participants {
				fmt.Printf("   %s\n", p.UserName)
			}

		default:
			if err := coord.Send(line); err != nil {
				view := coord.Snapshot()
				fmt.Fprintf(os.Stderr, "send failed: %s\n", view.Err)
				coord.ClearError()
			}
		}
	}
}

func printEvent(ev protocol.ChatEvent) {
	ts := ev.SentAt.Format("15:04:05")
	switch ev.Type {
	case protocol.MessageKindJoin:
		fmt.Printf("[%s] * %s joined\n", ts, ev.UserName)
	case protocol.MessageKindLeave:
		fmt.Printf("[%s] * %s left\n", ts, ev.UserName)
	default:
		fmt.Printf("[%s] %s: %s\n", ts, ev.UserName, ev.Content)
	}
}
