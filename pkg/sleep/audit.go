package sleep

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/soundprediction/tkgengine/pkg/types"
)

// AuditWriter appends one row per sleep() run to a Parquet file for
// offline analysis, writing one file per call.
type AuditWriter struct {
	dir string
}

// NewAuditWriter creates the audit directory if needed and returns a
// writer rooted at it.
func NewAuditWriter(dir string) (*AuditWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sleep: audit dir: %w", err)
	}
	return &AuditWriter{dir: dir}, nil
}

// sleepReportRow is the Parquet schema for one SleepReport.
type sleepReportRow struct {
	GroupID              string  `parquet:"group_id"`
	LTMGroupID           string  `parquet:"ltm_group_id"`
	DryRun               bool    `parquet:"dry_run"`
	StartedAt            int64   `parquet:"started_at"`
	CompletedAt          int64   `parquet:"completed_at"`
	DurationMs           int64   `parquet:"duration_ms"`
	EntitiesRefreshed    int     `parquet:"entities_refreshed"`
	EpisodesConsolidated int     `parquet:"episodes_consolidated"`
	TokensUsed           int     `parquet:"tokens_used"`
	EntitiesMerged       int     `parquet:"entities_merged"`
	EdgesPruned          int     `parquet:"edges_pruned"`
	CommunitiesBuilt     int     `parquet:"communities_built"`
	CommunitiesRemoved   int     `parquet:"communities_removed"`
	Phase3Skipped        bool    `parquet:"phase3_skipped"`
	Phase3SkipReason     string  `parquet:"phase3_skip_reason"`
	MergedPairsJSON      string  `parquet:"merged_pairs"` // JSON-encoded []MergedPair
}

// Write appends one row for report. A distinct file per call mirrors the
// teacher's write-one-file-per-episode pattern, trading compaction for
// simplicity.
func (w *AuditWriter) Write(report types.SleepReport) error {
	pairs, err := json.Marshal(report.Phase2.MergedPairs)
	if err != nil {
		return fmt.Errorf("sleep: audit: marshal merged pairs: %w", err)
	}

	row := sleepReportRow{
		GroupID:              report.GroupID,
		LTMGroupID:           report.LTMGroupID,
		DryRun:               report.DryRun,
		StartedAt:            report.StartedAt.UnixNano(),
		CompletedAt:          report.CompletedAt.UnixNano(),
		DurationMs:           report.DurationMs,
		EntitiesRefreshed:    report.Phase1.EntitiesRefreshed,
		EpisodesConsolidated: report.Phase1.EpisodesConsolidated,
		TokensUsed:           report.Phase1.TokensUsed,
		EntitiesMerged:       report.Phase2.EntitiesMerged,
		EdgesPruned:          report.Phase2.EdgesPruned,
		CommunitiesBuilt:     report.Phase3.CommunitiesBuilt,
		CommunitiesRemoved:   report.Phase3.CommunitiesRemoved,
		Phase3Skipped:        report.Phase3.Skipped,
		Phase3SkipReason:     report.Phase3.Reason,
		MergedPairsJSON:      string(pairs),
	}

	filename := fmt.Sprintf("sleep_%s_%d.parquet", report.GroupID, time.Now().UnixNano())
	path := filepath.Join(w.dir, filename)
	return parquet.WriteFile(path, []sleepReportRow{row})
}
