// streamtest connects to the gateway and streams typed message events to the console.
// Usage: go run ./cmd/streamtest --config configs/chatgate.local.yaml
//
// The token is read from the config file, which expands ${VAR} references:
//
//	gateway:
//	  token: ${CHATGATE_TOKEN}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hehbot/chatgate/internal/cache"
	"github.com/hehbot/chatgate/internal/config"
	"github.com/hehbot/chatgate/internal/dispatch"
	"github.com/hehbot/chatgate/internal/gateway"
	"github.com/hehbot/chatgate/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/chatgate.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	msgCache, err := cache.New[int64, model.Message](cfg.Cache.Capacity)
	if err != nil {
		logger.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	// Dispatcher printing every event
	dispatcher := dispatch.New(dispatch.DefaultConfig(), msgCache, printer(*verbose), logger)
	if err := dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Error("failed to start dispatcher", "error", err)
		os.Exit(1)
	}

	gwCfg := gateway.DefaultConfig()
	gwCfg.URL = cfg.Gateway.URL
	gwCfg.Token = cfg.Gateway.Token
	gw := gateway.New(gwCfg, dispatcher, logger)

	logger.Info("starting gateway")
	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st := gw.State()
				ds := dispatcher.Stats()
				cs := msgCache.Stats()
				logger.Info("stats",
					"phase", st.Phase,
					"sequence", st.Sequence,
					"creates", ds.Creates,
					"updates", ds.Updates,
					"deletes", ds.Deletes,
					"parse_errors", ds.ParseErrors,
					"queued", ds.Queue.Count,
					"cached", cs.Len,
					"cache_hits", cs.Hits,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown or a terminal gateway error
	select {
	case <-ctx.Done():
	case <-gw.Done():
		if err := gw.Err(); err != nil {
			logger.Error("gateway stopped", "error", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	gw.Stop(shutdownCtx)
	dispatcher.Stop(shutdownCtx)

	logger.Info("shutdown complete")
}

func printer(verbose bool) dispatch.Handler {
	return dispatch.HandlerFuncs{
		Create: func(ctx context.Context, m model.Message) {
			if verbose {
				printJSON("CREATE", m)
				return
			}
			fmt.Printf("[CREATE] channel=%d id=%d author=%s content=%q attachments=%d\n",
				m.ChannelID, m.ID, m.AuthorName, m.Content, len(m.Attachments))
		},
		Update: func(ctx context.Context, u model.MessageUpdate) {
			if verbose {
				printJSON("UPDATE", u)
				return
			}
			fmt.Printf("[UPDATE] channel=%d id=%d before=%s after=%s\n",
				u.ChannelID, u.ID, quoteOrUnknown(u.Before), quoteOrUnknown(u.After))
		},
		Delete: func(ctx context.Context, d model.MessageDelete) {
			if verbose {
				printJSON("DELETE", d)
				return
			}
			fmt.Printf("[DELETE] channel=%d id=%d content=%s\n",
				d.ChannelID, d.ID, quoteOrUnknown(d.Content))
		},
	}
}

func printJSON(tag string, v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Printf("[%s] %s\n", tag, data)
}

func quoteOrUnknown(s *string) string {
	if s == nil {
		return "<unknown>"
	}
	return fmt.Sprintf("%q", *s)
}
