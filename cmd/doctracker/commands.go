package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/healthdocs/doctracker/internal/events"
	"github.com/healthdocs/doctracker/internal/logging"
	"github.com/healthdocs/doctracker/pkg/client"
	"github.com/healthdocs/doctracker/pkg/doccache"
)

var errUsage = errors.New("invalid arguments")

// app wires the single cache instance to the commands that read and mutate it.
type app struct {
	client   *client.Client
	cache    *doccache.Cache
	in       io.Reader // commands for watch, one per line
	out      io.Writer
	interval time.Duration
	json     bool // watch prints raw events
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "list":
		return a.list(ctx)
	case "refresh":
		if err := a.cache.RefreshDocuments(ctx); err != nil {
			return err
		}
		return a.printDocuments()
	case "watch":
		return a.watch(ctx)
	case "upload":
		if len(args) != 1 {
			return fmt.Errorf("%w: upload <file>", errUsage)
		}
		return a.upload(ctx, args[0])
	case "rename":
		if len(args) < 2 {
			return fmt.Errorf("%w: rename <id> <name>", errUsage)
		}
		return a.rename(ctx, args[0], strings.Join(args[1:], " "))
	case "delete":
		if len(args) != 1 {
			return fmt.Errorf("%w: delete <id>", errUsage)
		}
		return a.delete(ctx, args[0])
	case "search":
		if len(args) != 1 {
			return fmt.Errorf("%w: search <query>", errUsage)
		}
		return a.search(ctx, args[0])
	case "health":
		return a.health(ctx)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) list(ctx context.Context) error {
	if err := a.cache.GetDocuments(ctx, false); err != nil {
		return err
	}
	return a.printDocuments()
}

func (a *app) printDocuments() error {
	snap := a.cache.Snapshot()
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tSIZE\tUPLOADED")
	for _, d := range snap.Documents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			d.ID, d.DisplayName, d.ContentType, d.FileSize, d.UploadedAt.Local().Format(time.DateTime))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	status := "fresh"
	if snap.Stale {
		status = "stale, refreshing"
	}
	if !snap.LastFetchedAt.IsZero() {
		fmt.Fprintf(a.out, "%d document(s), fetched %s (%s)\n",
			len(snap.Documents), snap.LastFetchedAt.Local().Format(time.TimeOnly), status)
	}
	return nil
}

func (a *app) upload(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	doc, err := a.client.UploadDocument(ctx, name, mime.TypeByExtension(filepath.Ext(name)), f)
	if err != nil {
		return err
	}
	a.cache.AddDocument(*doc)
	fmt.Fprintf(a.out, "Uploaded %s as %s\n", name, doc.ID)
	return nil
}

func (a *app) rename(ctx context.Context, id, name string) error {
	doc, err := a.client.RenameDocument(ctx, id, name)
	if err != nil {
		return err
	}
	a.cache.UpdateDocument(*doc)
	fmt.Fprintf(a.out, "Renamed %s to %q\n", id, doc.DisplayName)
	return nil
}

func (a *app) delete(ctx context.Context, id string) error {
	if err := a.client.DeleteDocument(ctx, id); err != nil {
		return err
	}
	a.cache.RemoveDocument(id)
	fmt.Fprintf(a.out, "Deleted %s\n", id)
	return nil
}

func (a *app) search(ctx context.Context, query string) error {
	resp, err := a.client.Search(ctx, query, 0)
	if err != nil {
		return err
	}
	if !resp.ResultsFound {
		fmt.Fprintf(a.out, "No documents match %q\n", query)
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tNAME")
	for _, r := range resp.Results {
		fmt.Fprintf(tw, "%.2f\t%s\t%s\n", r.Score, r.Document.ID, r.Document.DisplayName)
	}
	return tw.Flush()
}

func (a *app) health(ctx context.Context) error {
	h, err := a.client.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %s\n", h.Service, h.Status)
	return nil
}

// watch keeps the cache warm until ctx ends. Each tick is an ordinary read,
// so a fetch only happens once the list has gone stale. While the server is
// unreachable the cache keeps serving what it has. Lines read from a.in run
// as commands against the same cache.
func (a *app) watch(ctx context.Context) error {
	log := logging.Named("watch")
	ch := a.cache.Subscribe()
	defer a.cache.Unsubscribe(ch)

	var lines chan []string
	if a.in != nil {
		lines = make(chan []string)
		go readCommands(ctx, a.in, lines)
	}

	if err := a.cache.GetDocuments(ctx, false); err != nil {
		return err
	}
	if err := a.printDocuments(); err != nil {
		return err
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !a.client.IsOnline() {
				if _, err := a.client.Ping(ctx); err != nil {
					log.Debug("server still offline", zap.Error(err))
					continue
				}
			}
			if err := a.cache.GetDocuments(ctx, false); err != nil {
				log.Warn("document refresh failed", zap.Error(err))
			}
		case args, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if args[0] == "watch" {
				fmt.Fprintln(a.out, "already watching")
				continue
			}
			if err := a.run(ctx, args[0], args[1:]); err != nil {
				fmt.Fprintf(a.out, "error: %v\n", err)
			}
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			a.printEvent(ev)
		}
	}
}

// readCommands sends each non-blank line of r, split into fields, until r
// is exhausted or ctx ends.
func readCommands(ctx context.Context, r io.Reader, out chan<- []string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		args := strings.Fields(sc.Text())
		if len(args) == 0 {
			continue
		}
		select {
		case out <- args:
		case <-ctx.Done():
			return
		}
	}
}

func (a *app) printEvent(ev events.Event) {
	if a.json {
		data, err := events.MarshalEvent(ev)
		if err == nil {
			fmt.Fprintf(a.out, "%s\n", data)
		}
		return
	}
	switch ev.Type {
	case events.EventFetched:
		a.printDocuments()
	case events.EventFetchFailed:
		fmt.Fprintln(a.out, "refresh failed, showing cached documents")
	case events.EventAdded:
		fmt.Fprintf(a.out, "+ %s\n", ev.DocumentID)
	case events.EventUpdated:
		fmt.Fprintf(a.out, "~ %s\n", ev.DocumentID)
	case events.EventRemoved:
		fmt.Fprintf(a.out, "- %s\n", ev.DocumentID)
	}
}
