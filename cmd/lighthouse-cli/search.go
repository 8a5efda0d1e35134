package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lighthouse-coord/lighthouse/internal/eventstore"
	"github.com/lighthouse-coord/lighthouse/internal/projectaggregate"
)

var (
	searchPrefix   string
	searchSuffix   string
	searchPageSize int
	searchAsOf     uint64
)

var searchCmd = &cobra.Command{
	Use:   "shadow-search",
	Short: "shadow.search — bounded path-first search over the shadow tree (§4.6, §6)",
	Long: `Rebuilds the project aggregate by folding the event log up to --as-of
(0 means the current head) and runs one bounded, early-terminating
Search call — the same projectaggregate.Aggregate.Search the core uses,
not a reimplementation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStoreReadPath()
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		agg, err := projectaggregate.Rebuild(context.Background(), store, eventstore.Sequence(searchAsOf), callerIdentity())
		if err != nil {
			return fmt.Errorf("shadow.search: rebuild: %w", err)
		}

		result := agg.Search(projectaggregate.SearchQuery{
			PathPrefix: searchPrefix,
			Suffix:     searchSuffix,
			PageSize:   searchPageSize,
		})

		if jsonOutput {
			return printJSON(result)
		}
		for _, f := range result.Files {
			fmt.Printf("%s\t%s\t%d\n", f.Path, f.ContentHash, f.LatestSequence)
		}
		if result.HasMore {
			fmt.Println("-- more matches exist past this page")
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().StringVar(&searchPrefix, "prefix", "", "shadow path prefix predicate")
	searchCmd.Flags().StringVar(&searchSuffix, "suffix", "", "file-type suffix predicate, e.g. .go")
	searchCmd.Flags().IntVar(&searchPageSize, "page-size", projectaggregate.DefaultPageSize, "bounded page size")
	searchCmd.Flags().Uint64Var(&searchAsOf, "as-of", 0, "time-travel: fold only events with sequence <= as-of (0 = current head)")
	rootCmd.AddCommand(searchCmd)
}
