// Document Tracker Client
//
// Command-line client for the document service with:
// - Stale-while-revalidate document cache (one per process)
// - Upload, rename, delete with optimistic cache updates
// - Search and health check
// - Watch mode with periodic revalidation and offline detection
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/events"
	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/pkg/client"
	"github.com/healthdocs/doctracker/pkg/doccache"
)

const usage = `Usage: doctracker [flags] <command> [args]

Commands:
  list                  List documents (served from cache, revalidated when stale)
  refresh               Fetch the document list now
  watch                 Keep the list fresh and print changes until interrupted;
                        commands typed on stdin run against the watched list
  upload <file>         Upload a document
  rename <id> <name>    Change a document's display name
  delete <id>           Delete a document
  search <query>        Search documents
  health                Check the server

Flags:
`

func main() {
	serverURL := flag.String("server", envOr("DOCTRACKER_SERVER", "http://localhost:8080"), "Server URL (env DOCTRACKER_SERVER)")
	userID := flag.String("user", envOr("DOCTRACKER_USER", "test-user-001"), "User identity sent as X-User-Id (env DOCTRACKER_USER)")
	ttl := flag.Duration("ttl", doccache.DefaultTTL, "How long a fetched document list stays fresh")
	interval := flag.Duration("interval", 30*time.Second, "Revalidation interval for watch")
	jsonEvents := flag.Bool("json", false, "Print watch events as JSON lines")
	timeout := flag.Duration("timeout", 30*time.Second, "HTTP request timeout")
	verbosity := flag.Int("v", 1, "Verbosity level: 0=quiet, 1=info, 2=debug")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	var level string
	switch *verbosity {
	case 0:
		level = "error"
	case 1:
		level = "info"
	default:
		level = "debug"
	}
	if err := logging.Init(logging.Config{Level: level, Format: "console", OutputPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: logging init: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := client.New(client.Config{
		BaseURL: *serverURL,
		UserID:  *userID,
		Timeout: *timeout,
	})
	broadcaster := events.NewBroadcaster()
	cache := doccache.New(c,
		doccache.WithTTL(*ttl),
		doccache.WithLogger(logging.Named("doccache")),
		doccache.WithBroadcaster(broadcaster),
	)

	a := &app{
		client:   c,
		cache:    cache,
		in:       os.Stdin,
		out:      os.Stdout,
		interval: *interval,
		json:     *jsonEvents,
	}

	err := a.run(ctx, flag.Arg(0), flag.Args()[1:])
	cache.Wait()
	if err != nil {
		logging.L().Debug("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
