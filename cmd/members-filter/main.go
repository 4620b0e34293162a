package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/members-filter/pkg/bus"
	"github.com/Sriram-PR/members-filter/pkg/channel"
	"github.com/Sriram-PR/members-filter/pkg/config"
	"github.com/Sriram-PR/members-filter/pkg/engine"
	"github.com/Sriram-PR/members-filter/pkg/fetch"
	logutil "github.com/Sriram-PR/members-filter/pkg/log"
	"github.com/Sriram-PR/members-filter/pkg/page"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/settings"
	"github.com/Sriram-PR/members-filter/pkg/storage"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "filter":
		runFilter(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "whitelist":
		runWhitelist(os.Args[2:])
	case "toggle":
		runToggle(os.Args[2:])
	case "cache":
		runCache(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("members-filter %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `members-filter - Hide members-only videos from rendered video pages

Usage:
  members-filter <command> [options]

Commands:
  filter      Run one filter pass over a saved page
  watch       Keep filtering a page file as it changes
  whitelist   List, add or remove whitelisted channels
  toggle      Turn filtering on or off
  cache       List, search or clear cached blocked titles
  stats       Show block counters
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'members-filter <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file. An empty path yields the built-in defaults.
func loadConfig(path string) (*config.AppConfig, error) {
	var cfg config.AppConfig
	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) (*config.AppConfig, error) {
	if configFile != "" {
		log.Infof("Loading configuration from %s", configFile)
	}
	appCfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	return appCfg, nil
}

// setupLogger creates the process logger writing to out
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	return logutil.New(logLevelStr, out)
}

// app holds the long-lived collaborators shared by the subcommands
type app struct {
	cfg      *config.AppConfig
	log      *logrus.Logger
	store    *storage.BadgerStore
	bus      *bus.Bus
	catalog  *selectors.Catalog
	fetcher  *fetch.Fetcher
	resolver *channel.Resolver
	settings *settings.Service
}

// openApp opens the state DB and wires the settings service onto a fresh bus
func openApp(appCfg *config.AppConfig, log *logrus.Logger) (*app, error) {
	catalog, err := selectors.New(appCfg.Selectors)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBadgerStore(appCfg.StateDir, appCfg.Profile, logutil.Component(log, "storage"))
	if err != nil {
		return nil, err
	}

	b := bus.New(logutil.Component(log, "bus"))

	client := fetch.NewClient(appCfg.HTTPClientSettings, logutil.Component(log, "fetch"))
	fetcher := fetch.NewFetcher(client, fetch.RetryPolicy{
		MaxRetries:        appCfg.MaxRetries,
		InitialRetryDelay: appCfg.InitialRetryDelay,
		MaxRetryDelay:     appCfg.MaxRetryDelay,
	}, logutil.Component(log, "fetch"))

	userAgent := config.GetEffectiveUserAgent(*appCfg)
	var robots *fetch.RobotsGate
	if appCfg.RespectRobotsTxt {
		robots = fetch.NewRobotsGate(fetcher, userAgent, logutil.Component(log, "robots"))
	}
	resolver := channel.NewResolver(catalog, fetcher, channel.Options{
		BaseURL:        appCfg.ChannelBaseURL,
		UserAgent:      userAgent,
		AcceptLanguage: appCfg.AcceptLanguage,
		FetchDelay:     appCfg.ChannelFetchDelay,
		Robots:         robots,
	}, logutil.Component(log, "channel"))

	svc := settings.NewService(store, b, resolver, appCfg.TitleCacheCapacity, logutil.Component(log, "settings"))
	svc.Register()
	if err := svc.Seed(*appCfg); err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      appCfg,
		log:      log,
		store:    store,
		bus:      b,
		catalog:  catalog,
		fetcher:  fetcher,
		resolver: resolver,
		settings: svc,
	}, nil
}

// Close waits for in-flight notifications and closes the state DB
func (a *app) Close() {
	a.bus.Wait()
	if err := a.store.Close(); err != nil {
		a.log.Errorf("Error closing state DB: %v", err)
	}
}

// startGC runs value-log GC until ctx is done
func (a *app) startGC(ctx context.Context) {
	go a.store.RunGC(ctx, a.cfg.DBGCInterval)
}

// openFromFlags is the common prologue of every stateful subcommand
func openFromFlags(configPath, logLevel string, stderr io.Writer) (*app, int) {
	log := setupLogger(logLevel, stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	a, err := openApp(appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, 1
	}
	return a, 0
}

// signalContext returns a context cancelled on SIGINT/SIGTERM
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal %v, shutting down...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// --- filter ---

// runFilter handles the filter subcommand
func runFilter(args []string) {
	fs := flag.NewFlagSet("filter", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults when empty)")
	pageURL := fs.String("url", "", "Address the page was rendered at (required)")
	inPath := fs.String("in", "-", "Rendered page HTML file, '-' for stdin")
	outPath := fs.String("out", "-", "Where to write the filtered HTML, '-' for stdout")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: members-filter filter [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  members-filter filter -url https://www.youtube.com/ -in home.html -out home.filtered.html\n")
		fmt.Fprintf(os.Stderr, "  curl -s ... | members-filter filter -url https://www.youtube.com/@somecreator/videos\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *pageURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -url is required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, cancel := signalContext(setupLogger("error", os.Stderr))
	defer cancel()
	os.Exit(doFilter(ctx, *configFile, *pageURL, *inPath, *outPath, *logLevel, os.Stdin, os.Stdout, os.Stderr))
}

// doFilter runs one pass over the page read from inPath and writes the result.
// Returns exit code (0 = success, 1 = error).
func doFilter(ctx context.Context, configPath, pageURL, inPath, outPath, logLevel string,
	stdin io.Reader, stdout, stderr io.Writer) int {
	a, code := openFromFlags(configPath, logLevel, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	var in io.Reader = stdin
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", fmt.Errorf("%w: %w", utils.ErrFilesystem, err))
			return 1
		}
		defer f.Close()
		in = f
	}

	log := logutil.Component(a.log, "filter")
	doc, err := page.NewDocument(pageURL, in, a.catalog, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	eng := engine.New(doc, a.catalog, a.resolver, a.bus, a.store, engine.Options{
		TabID:                "cli",
		TitleCacheCapacity:   a.cfg.TitleCacheCapacity,
		MaxConcurrentFetches: a.cfg.MaxConcurrentFetches,
	}, log)
	if !eng.Init(ctx) {
		fmt.Fprintln(stderr, "Filtering is disabled; page written unchanged")
	}
	res, err := eng.Scan(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if err := writeDocument(doc, outPath, stdout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stderr, "Scanned %d items: %d hidden, %d whitelisted, %d from title cache, %d skipped\n",
		res.Scanned, res.Hidden, res.Whitelisted, res.CacheHits, res.Skipped)
	return 0
}

// writeDocument renders doc to path, or to stdout when path is "-"
func writeDocument(doc *page.Document, path string, stdout io.Writer) error {
	out, err := doc.HTML()
	if err != nil {
		return fmt.Errorf("%w: render HTML: %w", utils.ErrParsing, err)
	}
	if path == "-" {
		_, err = io.WriteString(stdout, out)
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return fmt.Errorf("%w: %w", utils.ErrFilesystem, err)
	}
	return nil
}

// --- whitelist ---

// runWhitelist handles the whitelist subcommand
func runWhitelist(args []string) {
	fs := flag.NewFlagSet("whitelist", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults when empty)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: members-filter whitelist [options] <list|add|remove> [entry]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  members-filter whitelist list\n")
		fmt.Fprintf(os.Stderr, "  members-filter whitelist add @SomeCreator\n")
		fmt.Fprintf(os.Stderr, "  members-filter whitelist remove \"Some Creator\"\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	action := "list"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}
	entry := strings.Join(fs.Args()[min(1, fs.NArg()):], " ")

	os.Exit(doWhitelist(context.Background(), *configFile, *logLevel, action, entry, os.Stdout, os.Stderr))
}

// doWhitelist lists or edits the whitelist.
// Returns exit code (0 = success, 1 = error).
func doWhitelist(ctx context.Context, configPath, logLevel, action, entry string, stdout, stderr io.Writer) int {
	a, code := openFromFlags(configPath, logLevel, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	switch action {
	case "list":
		list, err := a.settings.Whitelist()
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		printWhitelist(stdout, list)
	case "add":
		added, list, err := a.settings.AddChannel(ctx, entry)
		if errors.Is(err, utils.ErrInvalidHandle) {
			fmt.Fprintf(stderr, "Error: '%s' is not a channel handle (must start with @)\n", entry)
			return 1
		}
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if added {
			fmt.Fprintf(stdout, "Added %s\n", entry)
		} else {
			fmt.Fprintf(stdout, "%s is already whitelisted\n", entry)
		}
		printWhitelist(stdout, list)
	case "remove":
		if entry == "" {
			fmt.Fprintln(stderr, "Error: remove needs the entry to remove")
			return 1
		}
		removed, list, err := a.settings.RemoveChannel(entry)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if !removed {
			fmt.Fprintf(stderr, "Error: '%s' is not in the whitelist\n", entry)
			return 1
		}
		fmt.Fprintf(stdout, "Removed %s\n", entry)
		printWhitelist(stdout, list)
	default:
		fmt.Fprintf(stderr, "Error: unknown whitelist action '%s' (list, add, remove)\n", action)
		return 1
	}
	return 0
}

func printWhitelist(w io.Writer, list []string) {
	if len(list) == 0 {
		fmt.Fprintln(w, "Whitelist is empty.")
		return
	}
	fmt.Fprintf(w, "Whitelisted channels (%d):\n", len(list))
	for _, e := range list {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// --- toggle ---

// runToggle handles the toggle subcommand
func runToggle(args []string) {
	fs := flag.NewFlagSet("toggle", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults when empty)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: members-filter toggle [options] [on|off]\n\nWithout an argument the current state is flipped.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doToggle(*configFile, *logLevel, fs.Arg(0), os.Stdout, os.Stderr))
}

// doToggle sets or flips the enabled flag.
// Returns exit code (0 = success, 1 = error).
func doToggle(configPath, logLevel, state string, stdout, stderr io.Writer) int {
	a, code := openFromFlags(configPath, logLevel, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	current, err := a.settings.Enabled()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var enabled bool
	switch strings.ToLower(state) {
	case "":
		enabled = !current
	case "on", "true", "enable":
		enabled = true
	case "off", "false", "disable":
		enabled = false
	default:
		fmt.Fprintf(stderr, "Error: unknown state '%s' (on, off)\n", state)
		return 1
	}

	if err := a.settings.SetEnabled(enabled); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if enabled {
		fmt.Fprintln(stdout, "Filtering enabled")
	} else {
		fmt.Fprintln(stdout, "Filtering disabled")
	}
	return 0
}

// --- cache ---

// runCache handles the cache subcommand
func runCache(args []string) {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults when empty)")
	query := fs.String("query", "", "Case-insensitive title filter for list")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: members-filter cache [options] <list|clear>\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	action := "list"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	os.Exit(doCache(context.Background(), *configFile, *logLevel, action, *query, os.Stdout, os.Stderr))
}

// doCache lists or clears the blocked-title cache.
// Returns exit code (0 = success, 1 = error).
func doCache(ctx context.Context, configPath, logLevel, action, query string, stdout, stderr io.Writer) int {
	a, code := openFromFlags(configPath, logLevel, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	switch action {
	case "list":
		titles, err := a.settings.CachedTitles(query)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if len(titles) == 0 {
			fmt.Fprintln(stdout, "No cached titles.")
			return 0
		}
		fmt.Fprintf(stdout, "Cached titles (%d):\n\n", len(titles))
		for _, e := range titles {
			fmt.Fprintf(stdout, "  %s\n", e.Title)
			fmt.Fprintf(stdout, "    Channel: %s\n", e.Channel)
			fmt.Fprintf(stdout, "    Blocked: %s\n", e.BlockedAt().Format(time.RFC3339))
		}
	case "clear":
		if err := a.settings.ClearCache(ctx); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "Title cache cleared")
	default:
		fmt.Fprintf(stderr, "Error: unknown cache action '%s' (list, clear)\n", action)
		return 1
	}
	return 0
}

// --- stats ---

// runStats handles the stats subcommand
func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in defaults when empty)")
	logLevel := fs.String("loglevel", "warn", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: members-filter stats [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doStats(*configFile, *logLevel, os.Stdout, os.Stderr))
}

// doStats prints the stored counters.
// Returns exit code (0 = success, 1 = error).
func doStats(configPath, logLevel string, stdout, stderr io.Writer) int {
	a, code := openFromFlags(configPath, logLevel, stderr)
	if a == nil {
		return code
	}
	defer a.Close()

	enabled, err := a.settings.Enabled()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	stats, err := a.settings.Stats("")
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	whitelist, err := a.settings.Whitelist()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	state := "on"
	if !enabled {
		state = "off"
	}
	fmt.Fprintf(stdout, "Filtering:      %s\n", state)
	fmt.Fprintf(stdout, "Total blocked:  %d\n", stats.TotalCount)
	fmt.Fprintf(stdout, "Cached titles:  %d\n", stats.CacheSize)
	fmt.Fprintf(stdout, "Whitelisted:    %d\n", len(whitelist))
	return 0
}

// --- validate ---

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: members-filter validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: profile '%s', state in %s\n", appCfg.Profile, appCfg.StateDir)
	fmt.Fprintf(stdout, "OK: channel pages from %s (robots.txt respected: %t)\n", appCfg.ChannelBaseURL, appCfg.RespectRobotsTxt)
	fmt.Fprintf(stdout, "OK: scan every %v, navigation delay %v, title cache %d\n",
		appCfg.ScanInterval, appCfg.NavigationDelay, appCfg.TitleCacheCapacity)
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}
