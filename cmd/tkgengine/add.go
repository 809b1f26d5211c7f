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
	addEpisodeType string
)

var addCmd = &cobra.Command{
	Use:   "add [content]",
	Short: "Ingest one episode of content into the knowledge graph",
	Args:  cobra.ExactArgs(1),
	RunE:  runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
	addCmd.Flags().StringVar(&addEpisodeType, "type", "text", "episode type (message, json, text)")
}

func runAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close(context.Background())

	episode, err := eng.AddEpisode(cmd.Context(), types.AddEpisodeParams{
		Content:     args[0],
		EpisodeType: types.EpisodeType(addEpisodeType),
		GroupID:     viper.GetString("group_id"),
	})
	if err != nil {
		return fmt.Errorf("add episode: %w", err)
	}

	fmt.Printf("added episode %s (group %s)\n", episode.Uuid, episode.GroupID)
	return nil
}
