// conntest connects to a WebSocket endpoint through the connection
// manager and streams state changes and inbound frames to the console.
// Lines typed on stdin are sent to the endpoint.
//
// Usage: go run ./cmd/conntest --url wss://echo.example.com/ws
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mvisser/tether/internal/manager"
	"github.com/mvisser/tether/internal/transport"
)

func main() {
	url := flag.String("url", "", "ws:// or wss:// endpoint to connect to")
	verbose := flag.Bool("verbose", false, "log at debug level")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "conntest: --url is required")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	wsCfg := transport.DefaultWebSocketConfig()
	wsCfg.URL = *url
	dial := func() transport.Socket {
		return transport.NewWebSocket(wsCfg, logger)
	}

	mgr := manager.NewManager(manager.DefaultConfig(), dial, logger)
	if err := mgr.Start(ctx); err != nil {
		logger.Error("failed to start connection manager", "error", err)
		os.Exit(1)
	}

	mgr.Subscribe(manager.EventStateChanged, func(event any) {
		change, ok := event.(manager.StateChange)
		if !ok {
			return
		}
		fmt.Printf("[state] %s -> %s", change.From, change.To)
		if change.To == manager.StateDisconnected {
			fmt.Printf(" (%s)", change.Reason)
		}
		if change.Err != nil {
			fmt.Printf(" err=%v", change.Err)
		}
		fmt.Println()
	})

	mgr.Subscribe(manager.EventMessageReceived, func(event any) {
		msg, ok := event.(manager.Inbound)
		if !ok {
			return
		}
		fmt.Printf("[recv] %s\n", msg.Data)
	})

	mgr.Connect()

	// Forward stdin lines to the endpoint
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := mgr.Send([]byte(line)); err != nil {
				fmt.Printf("[send failed] %v\n", err)
			}
		}
	}()

	<-ctx.Done()

	mgr.Disconnect()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	mgr.Stop(stopCtx)
}
