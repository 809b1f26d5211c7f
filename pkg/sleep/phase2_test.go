package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/tkgengine/pkg/types"
)

func TestPhase2MergesHighSimilarityNameContainmentPair(t *testing.T) {
	g := newFakeGraph()
	now := time.Now()
	canonical := &types.EntityNode{Uuid: "b", GroupID: "g1", Name: "Acme Corporation", SummaryEmbedding: []float32{1, 0}, CreatedAt: now}
	duplicate := &types.EntityNode{Uuid: "a", GroupID: "g1", Name: "Acme", SummaryEmbedding: []float32{1, 0}, CreatedAt: now}
	g.entities["a"] = duplicate
	g.entities["b"] = canonical
	g.entitiesByName["Acme"] = duplicate
	g.entitiesByName["Acme Corporation"] = canonical
	// canonical has an extra relation giving it higher degree.
	g.relatesTo["r1"] = &types.EntityEdge{Uuid: "r1", GroupID: "g1", SourceNodeUUID: "b", TargetNodeUUID: "other", Name: "PARTNERS_WITH", ValidAt: now}

	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, testLogger())
	report, err := eng.runPhase2(context.Background(), "g1", types.SleepOptions{}.WithDefaults())
	require.NoError(t, err)

	assert.Equal(t, 1, report.EntitiesMerged)
	require.Len(t, report.MergedPairs, 1)
	assert.Equal(t, "Acme Corporation", report.MergedPairs[0].Canonical)
	assert.Equal(t, "Acme", report.MergedPairs[0].Duplicate)
	_, stillPresent := g.entities["a"]
	assert.False(t, stillPresent)
}

func TestPhase2SkipsPairsBelowThreshold(t *testing.T) {
	g := newFakeGraph()
	now := time.Now()
	a := &types.EntityNode{Uuid: "a", GroupID: "g1", Name: "Acme", SummaryEmbedding: []float32{1, 0}, CreatedAt: now}
	b := &types.EntityNode{Uuid: "b", GroupID: "g1", Name: "Acme Worldwide Holdings International", SummaryEmbedding: []float32{0, 1}, CreatedAt: now}
	g.entities["a"] = a
	g.entities["b"] = b

	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, testLogger())
	report, err := eng.runPhase2(context.Background(), "g1", types.SleepOptions{}.WithDefaults())
	require.NoError(t, err)
	assert.Equal(t, 0, report.EntitiesMerged)
}

func TestPhase2DryRunDoesNotMergeOrPrune(t *testing.T) {
	g := newFakeGraph()
	now := time.Now()
	a := &types.EntityNode{Uuid: "a", GroupID: "g1", Name: "Acme", SummaryEmbedding: []float32{1, 0}, CreatedAt: now}
	b := &types.EntityNode{Uuid: "b", GroupID: "g1", Name: "Acme Corporation", SummaryEmbedding: []float32{1, 0}, CreatedAt: now}
	g.entities["a"] = a
	g.entities["b"] = b

	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, testLogger())
	report, err := eng.runPhase2(context.Background(), "g1", types.SleepOptions{DryRun: true}.WithDefaults())
	require.NoError(t, err)
	assert.Equal(t, 1, report.EntitiesMerged)
	assert.Contains(t, g.entities, "a")
	assert.Contains(t, g.entities, "b")
}
