package ingestion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/resolver"
	"github.com/soundprediction/tkgengine/pkg/types"
)

type fakeGraph struct {
	driver.GraphDriver
	entitiesByName map[string]*types.EntityNode
	edges          map[string]*types.EntityEdge // keyed by src|tgt|name
	episodes       []*types.EpisodicNode
	episodicEdges  []*types.EpisodicEdge
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{entitiesByName: map[string]*types.EntityNode{}, edges: map[string]*types.EntityEdge{}}
}

func edgeKey(src, tgt, name string) string { return src + "|" + tgt + "|" + name }

func (f *fakeGraph) FetchEntityByName(ctx context.Context, name, groupID string) (*types.EntityNode, error) {
	return f.entitiesByName[name], nil
}
func (f *fakeGraph) UpsertEntity(ctx context.Context, n *types.EntityNode) error {
	f.entitiesByName[n.Name] = n
	return nil
}
func (f *fakeGraph) UpsertEpisode(ctx context.Context, n *types.EpisodicNode) error {
	f.episodes = append(f.episodes, n)
	return nil
}
func (f *fakeGraph) UpsertEpisodicEdge(ctx context.Context, e *types.EpisodicEdge) error {
	f.episodicEdges = append(f.episodicEdges, e)
	return nil
}
func (f *fakeGraph) UpsertEntityEdge(ctx context.Context, e *types.EntityEdge) error {
	f.edges[edgeKey(e.SourceNodeUUID, e.TargetNodeUUID, e.Name)] = e
	return nil
}
func (f *fakeGraph) FetchRelatesToEdge(ctx context.Context, src, tgt, name, groupID string) (*types.EntityEdge, error) {
	return f.edges[edgeKey(src, tgt, name)], nil
}
func (f *fakeGraph) SimilaritySearch(ctx context.Context, groupID string, q []float32, labels []types.NodeLabel, limit int, w *driver.DateWindow) ([]types.ScoredNode, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1}
	}
	return out, nil
}
func (fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) { return []float32{0.1}, nil }
func (fakeEmbedder) Dimensions() int                                                 { return 1 }
func (fakeEmbedder) Close() error                                                    { return nil }

// fakeLLM returns a single fixed extraction on the first call and an empty
// result on the reflexion follow-up, so tests exercise step 4-8 without
// depending on reflexion behavior.
type fakeLLM struct {
	extraction types.ExtractionResult
	calls      int
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, prompt string, schema interface{}, out interface{}) error {
	f.calls++
	if result, ok := out.(*types.ExtractionResult); ok {
		if f.calls == 1 {
			*result = f.extraction
		}
		return nil
	}
	if result, ok := out.(*types.MergeResult); ok {
		result.MergedSummary = "merged"
		return nil
	}
	return nil
}
func (f *fakeLLM) Close() error { return nil }

func newPipeline(extraction types.ExtractionResult) (*Pipeline, *fakeGraph) {
	g := newFakeGraph()
	emb := fakeEmbedder{}
	l := &fakeLLM{extraction: extraction}
	res := resolver.New(g, emb, l)
	return New(g, emb, l, res), g
}

func TestAddEpisodeCreatesEntitiesAndRelation(t *testing.T) {
	p, g := newPipeline(types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{Name: "Alice", EntityType: types.EntityPerson, Summary: "A person.", Confidence: 0.9},
			{Name: "Acme", EntityType: types.EntityOrganization, Summary: "A company.", Confidence: 0.9},
		},
		Relations: []types.ExtractedRelationship{
			{SourceName: "Alice", TargetName: "Acme", RelationName: "WORKS_AT", Confidence: 0.9, TemporalValidity: types.TemporalCurrent},
		},
	})

	episode, err := p.AddEpisode(context.Background(), types.AddEpisodeParams{Content: "Alice works at Acme.", GroupID: "g1"})
	require.NoError(t, err)
	assert.NotEmpty(t, episode.Uuid)
	assert.Len(t, g.entitiesByName, 2)
	assert.Len(t, g.episodicEdges, 2)

	edge := g.edges[edgeKey(g.entitiesByName["Alice"].Uuid, g.entitiesByName["Acme"].Uuid, "WORKS_AT")]
	require.NotNil(t, edge)
	assert.Nil(t, edge.InvalidAt)
	assert.Contains(t, edge.Episodes, episode.Uuid)
}

func TestAddEpisodeDropsLowConfidenceEntities(t *testing.T) {
	p, g := newPipeline(types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{Name: "Alice", EntityType: types.EntityPerson, Summary: "A person.", Confidence: 0.2},
		},
	})
	_, err := p.AddEpisode(context.Background(), types.AddEpisodeParams{Content: "Alice.", GroupID: "g1"})
	require.NoError(t, err)
	assert.Empty(t, g.entitiesByName)
}

func TestAddEpisodeHistoricalRelationIsImmediatelyInvalid(t *testing.T) {
	p, g := newPipeline(types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{Name: "Alice", EntityType: types.EntityPerson, Summary: "A.", Confidence: 0.9},
			{Name: "Acme", EntityType: types.EntityOrganization, Summary: "B.", Confidence: 0.9},
		},
		Relations: []types.ExtractedRelationship{
			{SourceName: "Alice", TargetName: "Acme", RelationName: "WORKED_AT", Confidence: 0.9, TemporalValidity: types.TemporalHistorical},
		},
	})
	_, err := p.AddEpisode(context.Background(), types.AddEpisodeParams{Content: "Alice used to work at Acme.", GroupID: "g1"})
	require.NoError(t, err)

	edge := g.edges[edgeKey(g.entitiesByName["Alice"].Uuid, g.entitiesByName["Acme"].Uuid, "WORKED_AT")]
	require.NotNil(t, edge)
	require.NotNil(t, edge.InvalidAt)
	assert.True(t, edge.InvalidAt.Equal(edge.ValidAt))
}

func TestAddEpisodeNegatedRelationDisputesExistingEdge(t *testing.T) {
	p, g := newPipeline(types.ExtractionResult{})

	now := time.Now()
	alice := &types.EntityNode{Uuid: "alice", GroupID: "g1", Name: "Alice", CreatedAt: now}
	acme := &types.EntityNode{Uuid: "acme", GroupID: "g1", Name: "Acme", CreatedAt: now}
	g.entitiesByName["Alice"] = alice
	g.entitiesByName["Acme"] = acme
	existingEdge := &types.EntityEdge{
		Uuid: "edge1", GroupID: "g1", SourceNodeUUID: alice.Uuid, TargetNodeUUID: acme.Uuid,
		Name: "WORKS_AT", Episodes: []string{"ep-old"}, ValidAt: now, CreatedAt: now,
	}
	g.edges[edgeKey(alice.Uuid, acme.Uuid, "WORKS_AT")] = existingEdge

	p.llmc.(*fakeLLM).extraction = types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{Name: "Alice", Confidence: 0.9, EntityType: types.EntityPerson, Summary: "A."},
			{Name: "Acme", Confidence: 0.9, EntityType: types.EntityOrganization, Summary: "B."},
		},
		Relations: []types.ExtractedRelationship{
			{SourceName: "Alice", TargetName: "Acme", RelationName: "WORKS_AT", Confidence: 0.9, IsNegated: true},
		},
	}

	episode, err := p.AddEpisode(context.Background(), types.AddEpisodeParams{Content: "Alice no longer works at Acme.", GroupID: "g1"})
	require.NoError(t, err)

	assert.Contains(t, existingEdge.DisputedBy, episode.Uuid)
	assert.Contains(t, episode.DisputedBy, "ep-old")
}
