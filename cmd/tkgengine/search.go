package tkgengine

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundprediction/tkgengine/pkg/config"
	"github.com/soundprediction/tkgengine/pkg/types"
)

var (
	searchLimit       int
	searchGraphExpand bool
	searchExpandHops  int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the knowledge graph for nodes relevant to query",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().BoolVar(&searchGraphExpand, "graph-expand", false, "expand results via graph traversal")
	searchCmd.Flags().IntVar(&searchExpandHops, "expand-hops", 1, "hops for graph expansion")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close(context.Background())

	results, err := eng.Search(cmd.Context(), types.SearchParams{
		Query:       args[0],
		GroupID:     viper.GetString("group_id"),
		Limit:       searchLimit,
		GraphExpand: searchGraphExpand,
		ExpandHops:  searchExpandHops,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	for _, r := range results {
		fmt.Printf("%.4f\t%s\t%s\n", r.Score, r.Node.Label(), r.Node.UUID())
	}
	return nil
}
