package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/schemacanon"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	variant    string
	language   string
	topK       int
	enrich     bool

	cfg schemacanon.Config

	rootCmd = &cobra.Command{
		Use:   "schemacanon",
		Short: "Map open relation labels onto a canonical relation schema",
		Long: `schemacanon retrieves the schema relations closest to an open relation's
definition and asks a language model which of them, if any, means the same.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	oneCmd = &cobra.Command{
		Use:   "one",
		Short: "Canonicalize a single triplet given on the command line",
		RunE:  runOne,
	}

	runCmd = &cobra.Command{
		Use:   "run [batch file]",
		Short: "Canonicalize every triplet of a JSONL or XLSX batch file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatchCommand,
	}

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Show recent canonicalizations from the audit log",
		RunE:  runHistory,
	}
)

var (
	oneText       string
	oneSubject    string
	oneRelation   string
	oneObject     string
	oneDefinition string

	outputPath   string
	docWorkers   int
	passageChars int
	metricsAddr  string

	historyLimit int
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	pf.StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	pf.StringVar(&variant, "variant", "", "override verification variant (plain, cot)")
	pf.StringVar(&language, "lang", "", "override template language (zh, en)")
	pf.IntVar(&topK, "top-k", 0, "override the number of candidates")
	pf.BoolVar(&enrich, "enrich", false, "add unmatched relations to the schema")

	oneCmd.Flags().StringVar(&oneText, "text", "", "source sentence or passage")
	oneCmd.Flags().StringVar(&oneSubject, "subject", "", "triplet subject")
	oneCmd.Flags().StringVar(&oneRelation, "relation", "", "open relation label")
	oneCmd.Flags().StringVar(&oneObject, "object", "", "triplet object")
	oneCmd.Flags().StringVar(&oneDefinition, "definition", "", "meaning of the open relation")
	oneCmd.MarkFlagRequired("relation")

	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "JSONL output file (default stdout)")
	runCmd.Flags().IntVar(&docWorkers, "doc-workers", 4, "parallel document readers")
	runCmd.Flags().IntVar(&passageChars, "passage-chars", 2000, "narrow document text to this many characters around the triplet (0 keeps the whole document)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show")

	rootCmd.AddCommand(oneCmd, runCmd, historyCmd)
}

// setup installs the logger on stderr and resolves the configuration:
// defaults, then the config file, then SCHEMACANON_* variables, then flags.
func setup(cmd *cobra.Command, args []string) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(newLogHandler(os.Stderr, level)))

	cfg = schemacanon.DefaultConfig()
	if configPath != "" {
		cfg, err = schemacanon.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}
	cfg.ApplyEnv(os.Getenv)

	if variant != "" {
		cfg.Variant = schemacanon.Variant(variant)
	}
	if language != "" {
		cfg.Language = language
	}
	if topK > 0 {
		cfg.TopK = topK
	}
	return nil
}

// newLogHandler writes text to an interactive terminal and JSON otherwise.
func newLogHandler(f *os.File, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return slog.NewTextHandler(f, opts)
	}
	return slog.NewJSONHandler(f, opts)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}
