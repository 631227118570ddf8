package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/gmlindex"
	"github.com/jward/gmlindex/internal/config"
)

var (
	flagFormat   string
	flagLogLevel string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "gmlindex",
	Short:         "Reference index for GameMaker Language projects",
	Long:          "gmlindex indexes the GML sources of a GameMaker Studio project into cross-file symbol tables and answers definition, reference, hover and completion queries.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text|yaml")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (default: log_level from .gmlindex.toml)")
	rootCmd.PersistentFlags().StringVar(&flagScriptsDir, "scripts-dir", "", "directory of Risor fact scripts (overrides scripts_dir)")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(watchCmd)
}

var (
	flagForce      bool
	flagScriptsDir string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a GameMaker project",
	Long:  "Restores the cache, re-indexes every GML file that changed since it was written and saves it again.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "discard the cache and reindex from scratch")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}
	root := findProjectRoot(targetDir)

	engine, err := openEngine(root)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := cmd.Context()
	if flagForce {
		err = engine.ForceReindex(ctx)
	} else {
		err = engine.Load(ctx)
	}
	if err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	if err := engine.SaveCache(); err != nil {
		return err
	}

	st := engine.Stats()
	fmt.Fprintf(stderr, "Indexed %s in %s (%d files, %d objects, %d scripts)\n",
		root, time.Since(start).Round(time.Millisecond), st.Files, st.Objects, st.Scripts)
	return nil
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Keep the index current while files change",
	Long:  "Indexes the project, then re-indexes files as they change on disk until interrupted. The cache is saved on exit.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	targetDir, err := resolveTargetDir(args)
	if err != nil {
		return err
	}
	root := findProjectRoot(targetDir)

	engine, err := openEngine(root)
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := engine.Load(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: %s\n", err)
	}
	fmt.Fprintf(stderr, "Watching %s\n", root)

	return engine.Watch(ctx, func(b gmlindex.WatchBatch) {
		fmt.Fprintf(stderr, "%s indexed %d, removed %d\n", time.Now().Format(time.TimeOnly), len(b.Indexed), len(b.Removed))
		if b.Err != nil {
			fmt.Fprintf(stderr, "Warning: %s\n", b.Err)
		}
	})
}

// openEngine loads the project config and creates an Engine with a logger
// at the configured level.
func openEngine(root string) (*gmlindex.Engine, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	opts := []gmlindex.Option{gmlindex.WithConfig(cfg), gmlindex.WithLogger(logger)}
	if flagScriptsDir != "" {
		dir, err := filepath.Abs(flagScriptsDir)
		if err != nil {
			return nil, fmt.Errorf("resolving scripts dir: %w", err)
		}
		opts = append(opts, gmlindex.WithScriptsDir(dir))
	}

	engine, err := gmlindex.New(root, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, nil
}

// newLogger returns a text logger on stderr. --log-level wins over the
// config file.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		if err := level.UnmarshalText([]byte(flagLogLevel)); err != nil {
			return nil, fmt.Errorf("invalid log level %q", flagLogLevel)
		}
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})), nil
}

// resolveTargetDir returns the absolute path of the directory to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findProjectRoot walks up from startDir looking for a directory holding a
// .yyp manifest. Returns startDir if none is found.
func findProjectRoot(startDir string) string {
	dir := startDir
	for {
		if matches, _ := filepath.Glob(filepath.Join(dir, "*.yyp")); len(matches) > 0 {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}
