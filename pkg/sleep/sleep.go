// Package sleep implements the sleep engine: the offline
// consolidation/pruning/community-detection maintenance cycle, run via
// the single Sleep entrypoint and optionally scheduled daily via
// Scheduler.
package sleep

import (
	"context"
	"log/slog"
	"time"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/embedder"
	"github.com/soundprediction/tkgengine/pkg/llm"
	"github.com/soundprediction/tkgengine/pkg/types"
)

// Engine implements the sleep engine.
type Engine struct {
	graph    driver.GraphDriver
	embedder embedder.Client
	llmc     llm.Client
	audit    *AuditWriter // nil disables audit export
	log      *slog.Logger
}

// New constructs an Engine. audit may be nil to disable report export.
func New(graph driver.GraphDriver, emb embedder.Client, llmClient llm.Client, audit *AuditWriter, log *slog.Logger) *Engine {
	return &Engine{graph: graph, embedder: emb, llmc: llmClient, audit: audit, log: log}
}

// Sleep runs the full maintenance cycle against target. Phases run
// strictly in order (1 -> 2 -> 3); dry_run computes every count without
// writing anything to the graph.
func (e *Engine) Sleep(ctx context.Context, target types.SleepTarget, options types.SleepOptions) (types.SleepReport, error) {
	opts := options.WithDefaults()
	started := time.Now()

	report := types.SleepReport{
		GroupID:    effectiveGroupID(target),
		LTMGroupID: target.LTMGroupID,
		DryRun:     opts.DryRun,
		StartedAt:  started,
	}

	runPhase1 := options.RunPhase1 || (!options.RunPhase1 && !options.RunPhase2 && !options.RunPhase3)
	runPhase2 := options.RunPhase2 || (!options.RunPhase1 && !options.RunPhase2 && !options.RunPhase3)
	runPhase3 := options.RunPhase3 || (!options.RunPhase1 && !options.RunPhase2 && !options.RunPhase3)

	if runPhase1 {
		phase1, err := e.runPhase1(ctx, target, opts)
		if err != nil {
			return report, err
		}
		report.Phase1 = phase1
	}

	if runPhase2 {
		pruneGroupID := effectiveGroupID(target)
		if target.Tiered() {
			pruneGroupID = target.LTMGroupID
		}
		phase2, err := e.runPhase2(ctx, pruneGroupID, opts)
		if err != nil {
			return report, err
		}
		report.Phase2 = phase2
	}

	if runPhase3 {
		communityGroupID := effectiveGroupID(target)
		if target.Tiered() {
			communityGroupID = target.LTMGroupID
		}
		phase3, err := e.runPhase3(ctx, communityGroupID, opts)
		if err != nil {
			return report, err
		}
		report.Phase3 = phase3
	}

	completed := time.Now()
	report.CompletedAt = completed
	report.DurationMs = completed.Sub(started).Milliseconds()

	if e.audit != nil {
		if err := e.audit.Write(report); err != nil {
			e.log.Warn("sleep: audit export failed", "error", err)
		}
	}

	return report, nil
}

func effectiveGroupID(target types.SleepTarget) string {
	if target.Tiered() {
		return target.STMGroupID
	}
	return target.GroupID
}
