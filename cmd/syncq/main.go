package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/opjournal"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/opqueue"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/wsdelivery"
)

func main() {
	configPath := flag.String("config", "", "path to sync profile yaml")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	scopeID, err := idwrap.NewText(cfg.Workspace)
	if err != nil {
		log.Fatalf("invalid workspace id %q: %v", cfg.Workspace, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)

	client, err := wsdelivery.Dial(ctx, cfg.Endpoint, wsdelivery.WithLogger(logger))
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	opts := []opqueue.Option{
		opqueue.WithLogger(logger),
		opqueue.WithTuning(cfg.QueueTuning()),
	}
	if cfg.JournalPath != "" {
		journal, err := opjournal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatal(err)
		}
		defer journal.Close()
		opts = append(opts, opqueue.WithJournal(journal))
	}

	queue := opqueue.New(client, scopeID, opts...)
	client.Bind(queue)

	logger.Info("sync queue ready",
		"endpoint", cfg.Endpoint,
		"workspace", scopeID,
		"session", client.SessionID())

	<-sc
	logger.Info("shutting down", "pending", queue.Len())
}
