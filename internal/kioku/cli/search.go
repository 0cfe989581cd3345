package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kioku/internal/kioku/agent"
	"github.com/bdobrica/Kioku/internal/kioku/memory"
)

func init() {
	archivalCmd := &cobra.Command{
		Use:   "archival",
		Short: "Read and write archival memory",
	}

	insertCmd := &cobra.Command{
		Use:   "insert [content]",
		Short: "Save content to archival memory",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runArchivalInsert,
	}
	insertCmd.Flags().String("meta", "", `Metadata as a JSON object, e.g. '{"type":"travel_plan"}'`)

	archivalSearchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search archival memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args, (*agent.Session).SearchArchival)
		},
	}
	archivalSearchCmd.Flags().IntP("page", "p", 1, "Results page (1-indexed)")

	archivalCmd.AddCommand(insertCmd, archivalSearchCmd)

	recallCmd := &cobra.Command{
		Use:   "recall",
		Short: "Search past conversation",
	}
	recallSearchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search every recorded message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args, (*agent.Session).SearchRecall)
		},
	}
	recallSearchCmd.Flags().IntP("page", "p", 1, "Results page (1-indexed)")
	recallCmd.AddCommand(recallSearchCmd)

	RootCmd.AddCommand(archivalCmd, recallCmd)
}

func runArchivalInsert(cmd *cobra.Command, args []string) error {
	var meta map[string]any
	if raw, _ := cmd.Flags().GetString("meta"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return fmt.Errorf("invalid --meta: %w", err)
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Sessions().Get(cmd.Context(), userID)
	if err != nil {
		return err
	}
	id, err := s.Archive(cmd.Context(), strings.Join(args, " "), meta)
	if err != nil {
		return err
	}
	if formatFlag == "json" {
		return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
	return err
}

type searchFunc func(s *agent.Session, ctx context.Context, query string, page int) ([]memory.SearchResult, error)

func runSearch(cmd *cobra.Command, args []string, search searchFunc) error {
	page, _ := cmd.Flags().GetInt("page")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.Sessions().Get(cmd.Context(), userID)
	if err != nil {
		return err
	}
	results, err := search(s, cmd.Context(), strings.Join(args, " "), page)
	if err != nil {
		return err
	}
	if formatFlag == "json" {
		if results == nil {
			results = []memory.SearchResult{}
		}
		return printJSON(cmd.OutOrStdout(), results)
	}
	return writeResults(cmd.OutOrStdout(), results)
}

func writeResults(w io.Writer, results []memory.SearchResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	for i, r := range results {
		fmt.Fprintf(w, "%d. [%.3f] %s  (%s)\n", i+1, r.Score, r.Content, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
