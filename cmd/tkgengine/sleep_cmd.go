package tkgengine

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/soundprediction/tkgengine/pkg/config"
	"github.com/soundprediction/tkgengine/pkg/types"
)

var (
	sleepSTMGroup string
	sleepLTMGroup string
	sleepDryRun   bool
	sleepAuto     bool
)

var sleepCmd = &cobra.Command{
	Use:   "sleep",
	Short: "Run (or schedule) a consolidation/pruning/community-detection cycle",
	RunE:  runSleep,
}

func init() {
	rootCmd.AddCommand(sleepCmd)
	sleepCmd.Flags().StringVar(&sleepSTMGroup, "stm-group-id", "", "short-term memory group id (tiered mode)")
	sleepCmd.Flags().StringVar(&sleepLTMGroup, "ltm-group-id", "", "long-term memory group id (tiered mode)")
	sleepCmd.Flags().BoolVar(&sleepDryRun, "dry-run", false, "report what would change without writing")
	sleepCmd.Flags().BoolVar(&sleepAuto, "auto", false, "run forever on the configured daily schedule instead of once")
}

func runSleep(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close(context.Background())

	target := types.SleepTarget{GroupID: viper.GetString("group_id")}
	if sleepSTMGroup != "" && sleepLTMGroup != "" {
		target = types.SleepTarget{STMGroupID: sleepSTMGroup, LTMGroupID: sleepLTMGroup}
	}

	options := types.SleepOptions{
		DryRun:              sleepDryRun,
		CooldownMinutes:     cfg.Sleep.CooldownMinutes,
		MinEpisodes:         cfg.Sleep.MinEpisodes,
		MaxEntities:         cfg.Sleep.MaxEntities,
		SimilarityThreshold: cfg.Sleep.SimilarityThresh,
		MinGraphSize:        cfg.Sleep.MinGraphSize,
		RebuildThreshold:    cfg.Sleep.RebuildThreshold,
		MinCommunitySize:    cfg.Sleep.MinCommunitySize,
	}

	if !sleepAuto {
		report, err := eng.Sleep(cmd.Context(), target, options)
		if err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
		printSleepReport(report)
		return nil
	}

	eng.StartAutoSleep(types.AutoSleepConfig{
		Hour:    cfg.Sleep.Hour,
		Minute:  cfg.Sleep.Minute,
		Target:  target,
		Options: options,
		OnComplete: func(r types.SleepReport) {
			printSleepReport(r)
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "sleep cycle failed: %v\n", err)
		},
	})
	defer eng.StopAutoSleep()

	fmt.Printf("auto sleep scheduled for %02d:%02d local time; press ctrl-c to stop\n", cfg.Sleep.Hour, cfg.Sleep.Minute)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return nil
}

func printSleepReport(r types.SleepReport) {
	fmt.Printf("sleep(%s) duration=%dms\n", r.GroupID, r.DurationMs)
	fmt.Printf("  phase1: entities_refreshed=%d episodes_consolidated=%d\n", r.Phase1.EntitiesRefreshed, r.Phase1.EpisodesConsolidated)
	fmt.Printf("  phase2: entities_merged=%d edges_pruned=%d\n", r.Phase2.EntitiesMerged, r.Phase2.EdgesPruned)
	if r.Phase3.Skipped {
		fmt.Printf("  phase3: skipped (%s)\n", r.Phase3.Reason)
	} else {
		fmt.Printf("  phase3: communities_built=%d communities_removed=%d\n", r.Phase3.CommunitiesBuilt, r.Phase3.CommunitiesRemoved)
	}
}
