package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/schemacanon/store"
)

func runHistory(cmd *cobra.Command, args []string) error {
	dim := cfg.Cache.EmbeddingDim
	if dim == 0 {
		dim = 768
	}
	s, err := store.New(cfg.Cache.ResolvedDBPath(), dim)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	ctx := cmd.Context()
	entries, err := s.RecentCanonicalizations(ctx, historyLimit)
	if err != nil {
		return err
	}
	counts, err := s.StateCounts(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSTATE\tOPEN\tCANONICAL\tOPTION\tRULE\tCONFIDENCE")
	for _, e := range entries {
		state := e.State
		if e.Cause != "" {
			state += " (" + e.Cause + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\n",
			e.CreatedAt, state, e.OpenRelation, dash(e.CanonicalRelation), dash(e.SelectedOption),
			dash(e.ExtractRule), e.Confidence)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	states := make([]string, 0, len(counts))
	for st := range counts {
		states = append(states, st)
	}
	sort.Strings(states)
	fmt.Fprintln(cmd.OutOrStdout())
	for _, st := range states {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", st, counts[st])
	}
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
