package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/members-filter/pkg/engine"
	logutil "github.com/Sriram-PR/members-filter/pkg/log"
	"github.com/Sriram-PR/members-filter/pkg/monitor"
	"github.com/Sriram-PR/members-filter/pkg/page"
	"github.com/Sriram-PR/members-filter/pkg/tab"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults when empty)")
	pageURL := fs.String("url", "", "Address the page was rendered at (required)")
	inPath := fs.String("in", "", "Rendered page HTML file, reloaded whenever it changes (required)")
	outPath := fs.String("out", "", "Where to keep writing the filtered HTML (optional)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: members-filter watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  members-filter watch -url https://www.youtube.com/ -in live.html -out live.filtered.html\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *pageURL == "" || *inPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -url and -in are required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := signalContext(setupLogger("error", os.Stderr))
	defer cancel()
	os.Exit(doWatch(ctx, *configFile, *pageURL, *inPath, *outPath, *logLevel, os.Stderr))
}

// doWatch filters the page in inPath until ctx is cancelled, reloading it when the
// file changes and rewriting outPath when the filtered markup changes.
// Returns exit code (0 = success, 1 = error).
func doWatch(ctx context.Context, configPath, pageURL, inPath, outPath, logLevel string, stderr io.Writer) int {
	a, code := openFromFlags(configPath, logLevel, stderr)
	if a == nil {
		return code
	}
	defer a.Close()
	a.startGC(ctx)

	data, err := os.ReadFile(inPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", fmt.Errorf("%w: %w", utils.ErrFilesystem, err))
		return 1
	}
	log := logutil.Component(a.log, "watch")
	doc, err := page.NewDocument(pageURL, bytes.NewReader(data), a.catalog, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	t := tab.New(tab.Deps{
		Page:     doc,
		Catalog:  a.catalog,
		Resolver: a.resolver,
		Bus:      a.bus,
		Titles:   a.store,
		Engine: engine.Options{
			TitleCacheCapacity:   a.cfg.TitleCacheCapacity,
			MaxConcurrentFetches: a.cfg.MaxConcurrentFetches,
		},
		Monitor: monitor.Options{
			Interval:        a.cfg.ScanInterval,
			NavigationDelay: a.cfg.NavigationDelay,
		},
	}, log)
	log.Infof("Watching %s as %s (tab %s)", inPath, pageURL, t.ID())

	w := &fileWatcher{doc: doc, inPath: inPath, outPath: outPath, log: log}
	if fi, err := os.Stat(inPath); err == nil {
		w.modTime = fi.ModTime()
	}
	w.inputHash = utils.ContentSHA256(data)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.Run(gctx) })
	g.Go(func() error { return w.run(gctx, a.cfg.ScanInterval) })
	if err := g.Wait(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if outPath != "" {
		w.flush()
	}
	log.Info("Watch stopped")
	return 0
}

// fileWatcher feeds file changes into a page and mirrors the filtered page to disk
type fileWatcher struct {
	doc     *page.Document
	inPath  string
	outPath string
	log     *logrus.Entry

	modTime     time.Time
	inputHash   string
	writtenHash string
}

func (w *fileWatcher) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.reload()
			if w.outPath != "" {
				w.flush()
			}
		}
	}
}

// reload replaces the page when the input file's modification time moved
func (w *fileWatcher) reload() {
	fi, err := os.Stat(w.inPath)
	if err != nil {
		w.log.Warnf("Cannot stat %s: %v", w.inPath, err)
		return
	}
	if !fi.ModTime().After(w.modTime) {
		return
	}
	data, err := os.ReadFile(w.inPath)
	if err != nil {
		w.log.Warnf("Cannot read %s: %v", w.inPath, err)
		return
	}
	w.modTime = fi.ModTime()
	hash := utils.ContentSHA256(data)
	if hash == w.inputHash {
		w.log.Debugf("%s touched without changes", w.inPath)
		return
	}
	if err := w.doc.Load("", bytes.NewReader(data)); err != nil {
		w.log.Warnf("Reload failed: %v", err)
		return
	}
	w.inputHash = hash
	w.log.Infof("Reloaded %s", w.inPath)
}

// flush writes the filtered page when it differs from the last write
func (w *fileWatcher) flush() {
	out, err := w.doc.HTML()
	if err != nil {
		w.log.Warnf("Cannot render page: %v", err)
		return
	}
	hash := utils.StringSHA256(out)
	if hash == w.writtenHash {
		return
	}
	if err := os.WriteFile(w.outPath, []byte(out), 0644); err != nil {
		w.log.WithField("error_category", utils.CategorizeError(fmt.Errorf("%w: %w", utils.ErrFilesystem, err))).
			Warnf("Cannot write %s: %v", w.outPath, err)
		return
	}
	w.writtenHash = hash
}
