// Package main is the bulksearch CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/bulksearch/internal/cli"
	"github.com/hyperjump/bulksearch/internal/config"
	"github.com/hyperjump/bulksearch/internal/extract"
	"github.com/hyperjump/bulksearch/internal/models"
	"github.com/hyperjump/bulksearch/internal/papi"
	"github.com/hyperjump/bulksearch/internal/poller"
	"github.com/hyperjump/bulksearch/internal/query"
	"github.com/hyperjump/bulksearch/internal/search"
	"github.com/hyperjump/bulksearch/internal/searcherr"
	"github.com/hyperjump/bulksearch/internal/server"
	"github.com/hyperjump/bulksearch/internal/watcher"
	"github.com/hyperjump/bulksearch/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	exitError = 1
	exitUsage = 2
)

// usageError marks bad command-line input; it exits with status 2.
type usageError struct{ msg string }

func (e *usageError) Error() string { return e.msg }

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(exitUsage)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command := os.Args[1]; command {
	case "search":
		err = runSearch(ctx, os.Args[2:], os.Stdout, os.Stderr)
	case "serve", "server":
		err = runServe(ctx, os.Args[2:], os.Stderr)
	case "version", "--version":
		fmt.Printf("bulksearch version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		// "bulksearch --behavior origin" is shorthand for the search command.
		if strings.HasPrefix(command, "-") {
			err = runSearch(ctx, os.Args[1:], os.Stdout, os.Stderr)
			break
		}
		err = &usageError{msg: "unknown command: " + command}
	}
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

// exitCode reports err on stderr and returns the process status for it.
func exitCode(err error, stderr io.Writer) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return 0
	}
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(stderr, "error: %v\n", err)
		fmt.Fprintln(stderr, "Run 'bulksearch help' for usage.")
		return exitUsage
	}
	fmt.Fprintf(stderr, "error [%s]: %v\n", searcherr.KindOf(err), err)
	return exitError
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: bulksearch <command> [flags]

Commands:
  search    run a bulk rules search and print the matched values
  serve     run a local stand-in for the rules search service over fixture files
  version   print the version
  help      show this help

Run 'bulksearch search -h' or 'bulksearch serve -h' for command flags.
`)
}

// searchOptions are the parsed flags of the search command.
type searchOptions struct {
	behavior   string
	parameter  string
	value      string
	jsonFile   string
	output     string
	format     string
	accountKey string
	section    string
	edgerc     string
	configPath string
	baseURL    string
	verbose    bool
	workers    int
	interval   time.Duration
	maxWait    time.Duration
	attempts   int
}

func newSearchFlags(opts *searchOptions, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(output)
	for _, name := range []string{"behavior", "behaviour"} {
		fs.StringVar(&opts.behavior, name, "", "behavior to search for, e.g. origin")
	}
	fs.StringVar(&opts.parameter, "parameter", "", "option of the behavior to report, e.g. hostname")
	fs.StringVar(&opts.value, "value", "", "only match where parameter equals this value (needs --parameter)")
	fs.StringVar(&opts.jsonFile, "json", "", "JSON file holding a raw bulk search query")
	for _, name := range []string{"output", "out"} {
		fs.StringVar(&opts.output, name, "", "also write results to this file (.csv appended unless .csv or .xlsx)")
	}
	fs.StringVar(&opts.format, "format", "text", "console format: text, json or csv")
	for _, name := range []string{"switchkey", "account-key", "accountkey"} {
		fs.StringVar(&opts.accountKey, name, "", "account switch key")
	}
	fs.StringVar(&opts.section, "section", "", "section of the .edgerc file (default from config, else \"default\")")
	fs.StringVar(&opts.edgerc, "edgerc", "", "path to the .edgerc file (default ~/.edgerc)")
	fs.StringVar(&opts.configPath, "config", "", "config file path (default "+config.DefaultPath()+")")
	fs.StringVar(&opts.baseURL, "base-url", "", "API root to use without EdgeGrid signing, e.g. a local 'bulksearch serve'")
	fs.BoolVar(&opts.verbose, "verbose", false, "log progress and print match locations")
	fs.BoolVar(&opts.verbose, "v", false, "shorthand for --verbose")
	fs.IntVar(&opts.workers, "workers", 0, "rule trees fetched at once (default from config, else 4)")
	fs.DurationVar(&opts.interval, "interval", 0, "time between status checks (default from config, else 5s)")
	fs.DurationVar(&opts.maxWait, "max-wait", 0, "give up on the job after this long (default from config, else 30m)")
	fs.IntVar(&opts.attempts, "max-attempts", 0, "give up on the job after this many status checks")
	fs.Usage = func() { printSearchUsage(fs) }
	return fs
}

func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: bulksearch search [flags]\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Either --behavior or --json is required.

Examples:
  bulksearch search --behavior origin --parameter hostname
  bulksearch search --behavior caching --parameter behavior --value MAX_AGE --output caching.csv
  bulksearch search --json query.json --switchkey 1-ABCDE --format json
`)
}

// parseSearchFlags parses args. Positional arguments are rejected.
func parseSearchFlags(args []string, output io.Writer) (*searchOptions, error) {
	opts := &searchOptions{}
	fs := newSearchFlags(opts, output)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &usageError{msg: err.Error()}
	}
	if fs.NArg() > 0 {
		return nil, &usageError{msg: "unexpected arguments: " + strings.Join(fs.Args(), " ")}
	}
	if opts.jsonFile == "" && opts.behavior == "" {
		return nil, &usageError{msg: "specify a behavior with --behavior, or a query file with --json"}
	}
	return opts, nil
}

// searchConfig resolves settings: config file, then .env and BULKSEARCH_*
// variables, then flags.
func searchConfig(opts *searchOptions) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	path, required := opts.configPath, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.LoadOrDefault(path, required)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if opts.edgerc != "" {
		cfg.Edgerc.Path = opts.edgerc
	}
	if opts.section != "" {
		cfg.Edgerc.Section = opts.section
	}
	if opts.accountKey != "" {
		cfg.AccountSwitchKey = opts.accountKey
	}
	if opts.workers != 0 {
		cfg.Extract.Workers = opts.workers
	}
	if opts.interval != 0 {
		cfg.Poll.Interval = opts.interval
	}
	if opts.maxWait != 0 {
		cfg.Poll.MaxDuration = opts.maxWait
	}
	if opts.attempts != 0 {
		cfg.Poll.MaxAttempts = opts.attempts
	}
	if opts.verbose {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, &usageError{msg: err.Error()}
	}
	return cfg, nil
}

func buildQuery(opts *searchOptions) (models.SearchQuery, error) {
	if opts.jsonFile != "" {
		return query.LoadFile(opts.jsonFile)
	}
	return search.ProcessQuery(query.Params{
		Behavior:  opts.behavior,
		Parameter: opts.parameter,
		Value:     opts.value,
	})
}

// newClient returns a job client for the configured account. With baseURL set
// requests go unsigned to that root; otherwise .edgerc credentials are loaded.
func newClient(cfg *config.Config, baseURL string, logger *zap.Logger) (*papi.Client, error) {
	accountKey := cfg.AccountSwitchKey
	var doer papi.Doer
	if baseURL != "" {
		doer = &http.Client{Timeout: cfg.HTTP.Timeout}
	} else {
		creds, err := papi.LoadCredentials(cfg.Edgerc.Path, cfg.Edgerc.Section)
		if err != nil {
			return nil, err
		}
		if accountKey == "" {
			accountKey = creds.AccountKey
		}
		baseURL = creds.BaseURL()
		doer = papi.NewHTTPClient(creds, cfg.HTTP.Timeout)
	}
	logger.Debug("API endpoint", zap.String("base_url", baseURL), zap.Bool("account_switch", accountKey != ""))
	return papi.NewClient(doer, baseURL,
		papi.WithAccountSwitchKey(accountKey),
		papi.WithLogger(logger),
	)
}

// openSinks returns the console writer, plus the file writer when --output is set.
func openSinks(opts *searchOptions, stdout io.Writer) (cli.ResultWriter, string, error) {
	format, err := cli.ParseFormat(opts.format)
	if err != nil {
		return nil, "", &usageError{msg: err.Error()}
	}
	console, err := cli.NewConsoleWriter(stdout, format, opts.parameter, opts.verbose)
	if err != nil {
		return nil, "", &usageError{msg: err.Error()}
	}
	if opts.output == "" {
		return console, "", nil
	}
	file, path, err := cli.OpenFile(opts.output, opts.parameter)
	if err != nil {
		return nil, "", err
	}
	return cli.MultiWriter{console, file}, path, nil
}

func runSearch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseSearchFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := searchConfig(opts)
	if err != nil {
		return err
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = utils.NewLogger(true)
	} else {
		logger, err = utils.NewQuietLogger()
	}
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	q, err := buildQuery(opts)
	if err != nil {
		return err
	}
	logger.Debug("Search query", zap.String("syntax", string(q.Syntax)), zap.String("match", q.Match))

	client, err := newClient(cfg, opts.baseURL, logger)
	if err != nil {
		return err
	}
	waiter, err := poller.New(client, poller.Options{
		Interval:         cfg.Poll.Interval,
		MaxAttempts:      cfg.Poll.MaxAttempts,
		MaxDuration:      cfg.Poll.MaxDuration,
		TransientRetries: cfg.Poll.TransientRetriesOrDefault(),
	}, poller.WithLogger(logger))
	if err != nil {
		return &usageError{msg: err.Error()}
	}
	extractor := extract.NewExtractor(client,
		extract.WithWorkers(cfg.Extract.Workers),
		extract.WithLogger(logger),
	)
	engine := search.NewEngine(client, waiter, extractor, search.WithLogger(logger))

	sink, outPath, err := openSinks(opts, stdout)
	if err != nil {
		return err
	}
	report, err := engine.Search(ctx, q, sink)
	if cerr := sink.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("write output: %w", cerr)
	}
	if err != nil {
		// A failed run leaves no partial output file behind.
		if outPath != "" {
			if rerr := os.Remove(outPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				logger.Warn("Failed to remove output file", zap.String("path", outPath), zap.Error(rerr))
			}
		}
		return err
	}

	if report.Stats.Results == 0 && report.Stats.Skipped == 0 {
		fmt.Fprintln(stderr, "No matches found.")
	}
	if outPath != "" {
		fmt.Fprintf(stderr, "Results written to %s\n", outPath)
	}
	logger.Info("Search finished",
		zap.Int("entities", report.Summaries),
		zap.Int("results", report.Stats.Results),
		zap.Int("skipped", report.Stats.Skipped),
		zap.Duration("elapsed", report.Elapsed))
	return nil
}

func runServe(ctx context.Context, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file path (default "+config.DefaultPath()+")")
	fixtures := fs.String("fixtures", "", "directory of rule tree fixtures (*.json)")
	host := fs.String("host", "", "listen host (default from config, else localhost)")
	port := fs.Int("port", 0, "listen port (default from config, else 8085)")
	completeAfter := fs.Int("complete-after", 0, "status checks before a job completes (default from config, else 2)")
	accountKey := fs.String("account-key", "", "require this accountSwitchKey on every request")
	watch := fs.Bool("watch", false, "reload fixtures when files change")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return &usageError{msg: err.Error()}
	}

	path, required := *configPath, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.LoadOrDefault(path, required)
	if err != nil {
		return err
	}
	if *fixtures != "" {
		cfg.Server.FixturesDir = *fixtures
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *completeAfter != 0 {
		cfg.Server.CompleteAfter = *completeAfter
	}
	cfg.Server.Watch = cfg.Server.Watch || *watch
	if cfg.Server.FixturesDir == "" {
		return &usageError{msg: "serve needs a fixture directory (--fixtures or server.fixtures_dir)"}
	}

	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	catalog := server.NewCatalog()
	n, err := catalog.LoadDir(cfg.Server.FixturesDir)
	if err != nil {
		return err
	}
	logger.Info("fixtures loaded", zap.String("dir", cfg.Server.FixturesDir), zap.Int("entities", n))

	if cfg.Server.Watch {
		w := watcher.NewWatcher(cfg.Server.FixturesDir, ".json",
			func(path string) {
				if e, err := catalog.LoadFile(path); err != nil {
					logger.Warn("fixture reload failed", zap.String("path", path), zap.Error(err))
				} else {
					logger.Info("fixture reloaded", zap.String("path", path), zap.Stringer("entity", e.Ref))
				}
			},
			func(path string) {
				if catalog.RemoveFile(path) {
					logger.Info("fixture removed", zap.String("path", path))
				}
			},
			watcher.WithLogger(logger),
		)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("watch fixtures: %w", err)
		}
		defer w.Stop()
	}

	var opts []server.ServerOption
	if *accountKey != "" {
		opts = append(opts, server.WithAccountKey(*accountKey))
	}
	srv := server.NewServer(catalog, &cfg.Server, logger, opts...)
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
