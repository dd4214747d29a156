package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/alt-text-gen/pkg/config"
	applog "github.com/Sriram-PR/alt-text-gen/pkg/log"
	"github.com/Sriram-PR/alt-text-gen/pkg/utils"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "generate":
		runGenerate(os.Args[2:])
	case "queue":
		runQueue(os.Args[2:])
	case "usage":
		runUsage(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("alt-text-gen %s\n", version)
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
	fmt.Fprintln(w, `alt-text-gen - AI alt text generation for image libraries

Usage:
  alt-text-gen <command> [options]

Commands:
  serve       Run the HTTP API, queue runner and watchdog
  generate    Generate alt text for one or more assets
  queue       Control the background queue (start, cancel, tick, status)
  usage       Show (or reset) cumulative token usage
  stats       Show alt text coverage across the library
  import      Load image assets from a YAML or JSON file
  validate    Validate configuration file
  mcp-server  Start MCP server for AI tool integration
  version     Show version info

Run 'alt-text-gen <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadAndValidateConfig loads, overlays the environment and validates. Warnings go to log.
func loadAndValidateConfig(path string, log *logrus.Logger) (*config.AppConfig, error) {
	log.Infof("Loading configuration from %s", path)
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	warnings, err := cfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		return nil, err
	}
	patterns, _ := utils.CompileRegexPatterns(cfg.RedactPatterns)
	utils.SetExtraRedactionPatterns(patterns)
	return cfg, nil
}

// setupLogger creates the process logger. Every entry passes through the redaction hook.
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)
	log.AddHook(applog.RedactHook{})

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: alt-text-gen validate [options]\n\nOptions:\n")
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
	appCfg.ApplyEnv()

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	g := appCfg.Generation
	fmt.Fprintf(stdout, "OK: model=%s review_model=%s language=%s max_words=%d threshold=%d\n",
		g.Model, g.EffectiveReviewModel(), g.Language, g.MaxWords, g.QualityThreshold)
	fmt.Fprintf(stdout, "OK: state_backend=%s state_dir=%s batch_size=%d\n",
		appCfg.StateBackend, appCfg.StateDir, appCfg.Queue.BatchSize)
	if appCfg.Generation.APIKey != "" {
		fmt.Fprintf(stdout, "OK: api_key=%s\n", utils.MaskSecret(appCfg.Generation.APIKey))
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// writeJSON prints v as indented JSON
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitCodeFor maps a command error to a process exit code; fatal configuration errors get 2
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, utils.ErrMissingCredential) || errors.Is(err, utils.ErrConfigValidation) {
		return 2
	}
	return 1
}
