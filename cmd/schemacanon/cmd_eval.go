package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brunobiangulo/schemacanon"
	"github.com/brunobiangulo/schemacanon/eval"
)

var (
	evalSample bool
	evalJSON   string

	evalCmd = &cobra.Command{
		Use:   "eval [dataset file]",
		Short: "Score canonicalization against a labelled dataset",
		Long: `eval canonicalizes every case of a YAML or JSON dataset without enrichment
and reports accuracy, precision, recall, abstention and confidence
calibration. A schema embedded in the dataset replaces the configured one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runEval,
	}
)

func init() {
	evalCmd.Flags().BoolVar(&evalSample, "sample", false, "use the built-in sample dataset")
	evalCmd.Flags().StringVar(&evalJSON, "json", "", "also write the full report as JSON to this file")
	rootCmd.AddCommand(evalCmd)
}

func runEval(cmd *cobra.Command, args []string) error {
	var (
		ds  eval.Dataset
		err error
	)
	switch {
	case evalSample:
		ds = eval.SampleDataset()
	case len(args) == 1:
		ds, err = eval.LoadDataset(args[0])
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("eval needs a dataset file or --sample")
	}

	runCfg := cfg
	if len(ds.Schema) > 0 {
		path, err := writeDatasetSchema(ds)
		if err != nil {
			return err
		}
		defer os.Remove(path)
		runCfg.SchemaPath = path
	}

	ctx := cmd.Context()
	c, err := schemacanon.NewFromConfig(ctx, runCfg)
	if err != nil {
		return err
	}
	defer c.Close()

	slog.Info("eval: starting", "dataset", ds.Name, "cases", len(ds.Tests), "variant", c.Variant())
	report, err := eval.NewEvaluator(c).Run(ctx, ds)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), eval.FormatReport(report))

	if evalJSON != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		if err := os.WriteFile(evalJSON, data, 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		slog.Info("eval: report written", "path", evalJSON)
	}
	return nil
}

// writeDatasetSchema stores the dataset's schema in a temporary YAML file so
// it loads through the same path as a configured schema.
func writeDatasetSchema(ds eval.Dataset) (string, error) {
	data, err := yaml.Marshal(ds.Schema)
	if err != nil {
		return "", fmt.Errorf("encoding dataset schema: %w", err)
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("schemacanon-eval-%d.yaml", os.Getpid()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing dataset schema: %w", err)
	}
	return path, nil
}
