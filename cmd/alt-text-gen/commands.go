package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/alt-text-gen/pkg/models"
	"github.com/Sriram-PR/alt-text-gen/pkg/queue"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

// commonFlags registers the flags every stateful subcommand accepts
func commonFlags(fs *flag.FlagSet) (configFile, logLevel *string) {
	configFile = fs.String("config", "config.yaml", "Path to config file")
	logLevel = fs.String("loglevel", "info", "Log level (debug, info, warn, error)")
	return configFile, logLevel
}

// withApp loads config, builds the app and runs fn. Logs go to stderr so stdout stays parseable.
func withApp(configPath, logLevel string, stdout, stderr io.Writer, fn func(ctx context.Context, a *app) error) int {
	log := setupLogger(logLevel, stderr)
	cfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", utils.RedactError(err))
		return 1
	}
	defer a.Close()

	if err := fn(ctx, a); err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", utils.RedactError(err))
		return exitCodeFor(err)
	}
	return 0
}

// --- generate ---

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configFile, logLevel := commonFlags(fs)
	ids := fs.String("ids", "", "Comma-separated asset IDs (required)")
	dryRun := fs.Bool("dry-run", false, "Build and print the prompt without calling the provider")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: alt-text-gen generate -ids 12,15 [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	parsed, err := parseIDs(*ids)
	if err != nil || len(parsed) == 0 {
		fmt.Fprintln(os.Stderr, "Error: -ids must list one or more positive asset IDs")
		fs.Usage()
		os.Exit(1)
	}
	os.Exit(doGenerate(*configFile, *logLevel, parsed, *dryRun, os.Stdout, os.Stderr))
}

// doGenerate runs the generate-and-review pipeline for ids and prints one JSON line per asset
func doGenerate(configPath, logLevel string, ids []int64, dryRun bool, stdout, stderr io.Writer) int {
	return withApp(configPath, logLevel, stdout, stderr, func(ctx context.Context, a *app) error {
		if dryRun {
			g := a.genCfg.Current()
			g.DryRun = true
			a.genCfg.Update(g)
		}

		var firstErr error
		for _, item := range a.pipeline.GenerateBulk(ctx, ids, models.SourceCLI) {
			line := map[string]interface{}{"asset_id": item.AssetID}
			switch {
			case item.Err == nil:
				line["alt_text"] = item.Outcome.AltText
				line["retried"] = item.Outcome.Retried
				if qa := item.Outcome.Assessment; qa != nil {
					line["score"] = qa.Score
					line["status"] = qa.Status
				}
			case utils.IsDryRun(item.Err):
				ge, _ := utils.AsGenError(item.Err)
				line["dry_run"] = true
				line["prompt"] = ge.Prompt
			default:
				line["error"] = utils.RedactError(item.Err)
				line["category"] = utils.CategorizeError(item.Err)
				if firstErr == nil {
					firstErr = item.Err
				}
			}
			if err := writeJSON(stdout, line); err != nil {
				return err
			}
		}
		return firstErr
	})
}

func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid asset id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// --- queue ---

func runQueue(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: alt-text-gen queue <start|cancel|tick|status> [options]")
		os.Exit(1)
	}
	action := args[0]

	fs := flag.NewFlagSet("queue "+action, flag.ExitOnError)
	configFile, logLevel := commonFlags(fs)
	scope := fs.String("scope", string(models.ScopeMissing), "Queue scope for start: missing or all")
	batch := fs.Int("batch", 0, "Images per tick for start (1-20, default from config)")
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	os.Exit(doQueue(*configFile, *logLevel, action, models.QueueScope(*scope), *batch, os.Stdout, os.Stderr))
}

// doQueue performs one queue action and prints the resulting state
func doQueue(configPath, logLevel, action string, scope models.QueueScope, batch int, stdout, stderr io.Writer) int {
	switch action {
	case "start", "cancel", "tick", "status":
	default:
		fmt.Fprintf(stderr, "Error: unknown queue action %q (start, cancel, tick, status)\n", action)
		return 1
	}

	return withApp(configPath, logLevel, stdout, stderr, func(ctx context.Context, a *app) error {
		var err error
		switch action {
		case "start":
			_, err = a.queue.Start(ctx, scope, batch)
		case "cancel":
			err = a.queue.Cancel(ctx)
		case "tick":
			_, err = a.queue.Tick(ctx)
		}
		if err != nil {
			return err
		}
		state, err := a.queue.State(ctx)
		if err != nil {
			return err
		}
		printQueueState(stdout, state, time.Now())
		return nil
	})
}

func printQueueState(w io.Writer, q *models.QueueState, now time.Time) {
	fmt.Fprintf(w, "Status:    %s\n", q.Status)
	if q.RunID == "" {
		return
	}
	fmt.Fprintf(w, "Run:       %s (scope %s, batch %d)\n", q.RunID, q.Scope, q.BatchSize)
	fmt.Fprintf(w, "Progress:  %d of %d processed, %d errors\n", q.Processed, q.Total, q.Errors)
	if q.Scope == models.ScopeAll {
		fmt.Fprintf(w, "Cursor:    %d\n", q.Cursor)
	}
	if q.Active {
		fmt.Fprintf(w, "Next tick: %s\n", queue.Until(q.NextRunAt, now))
	}
	if q.RetryCount > 0 {
		fmt.Fprintf(w, "Retries:   %d\n", q.RetryCount)
	}
	for _, m := range q.Messages {
		fmt.Fprintf(w, "  - %s\n", m)
	}
}

// --- usage / stats ---

func runUsage(args []string) {
	fs := flag.NewFlagSet("usage", flag.ExitOnError)
	configFile, logLevel := commonFlags(fs)
	reset := fs.Bool("reset", false, "Zero the counters and re-arm the usage alert")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doUsage(*configFile, *logLevel, *reset, os.Stdout, os.Stderr))
}

func doUsage(configPath, logLevel string, reset bool, stdout, stderr io.Writer) int {
	return withApp(configPath, logLevel, stdout, stderr, func(ctx context.Context, a *app) error {
		if reset {
			if err := a.ledger.Reset(ctx); err != nil {
				return err
			}
		}
		return writeJSON(stdout, a.ledger.Snapshot(ctx))
	})
}

func runStats(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configFile, logLevel := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	os.Exit(doStats(*configFile, *logLevel, os.Stdout, os.Stderr))
}

func doStats(configPath, logLevel string, stdout, stderr io.Writer) int {
	return withApp(configPath, logLevel, stdout, stderr, func(ctx context.Context, a *app) error {
		stats, err := a.store.MediaStats(ctx)
		if err != nil {
			return err
		}
		return writeJSON(stdout, stats)
	})
}

// --- import ---

// importFile is the on-disk asset list. JSON is accepted as a YAML subset.
type importFile struct {
	Assets []models.ImageAsset `yaml:"assets"`
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configFile, logLevel := commonFlags(fs)
	file := fs.String("file", "", "YAML or JSON file with an 'assets' list (required)")
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "Error: -file is required")
		os.Exit(1)
	}
	os.Exit(doImport(*configFile, *logLevel, *file, os.Stdout, os.Stderr))
}

// doImport upserts every asset in path into the asset store
func doImport(configPath, logLevel, path string, stdout, stderr io.Writer) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: read import file: %v\n", err)
		return 1
	}
	var in importFile
	if err := yaml.Unmarshal(data, &in); err != nil {
		fmt.Fprintf(stderr, "Error: parse import file: %v\n", err)
		return 1
	}

	return withApp(configPath, logLevel, stdout, stderr, func(ctx context.Context, a *app) error {
		imported := 0
		for i := range in.Assets {
			asset := &in.Assets[i]
			if asset.UploadedAt.IsZero() {
				asset.UploadedAt = time.Now().UTC()
			}
			if err := a.store.PutAsset(ctx, asset); err != nil {
				return fmt.Errorf("asset %d: %w", asset.ID, err)
			}
			imported++
		}
		fmt.Fprintf(stdout, "Imported %d assets.\n", imported)
		return nil
	})
}
