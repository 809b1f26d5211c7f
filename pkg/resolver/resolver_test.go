package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/types"
)

// fakeGraph implements the slice of driver.GraphDriver Resolve needs;
// embedding all other methods lets it satisfy the full interface while
// panicking if something unexpected is called.
type fakeGraph struct {
	driver.GraphDriver
	entitiesByName map[string]*types.EntityNode
	upserted       []*types.EntityNode
	similarity     []types.ScoredNode
}

func (f *fakeGraph) FetchEntityByName(ctx context.Context, name, groupID string) (*types.EntityNode, error) {
	return f.entitiesByName[name], nil
}

func (f *fakeGraph) UpsertEntity(ctx context.Context, n *types.EntityNode) error {
	f.upserted = append(f.upserted, n)
	if f.entitiesByName == nil {
		f.entitiesByName = map[string]*types.EntityNode{}
	}
	f.entitiesByName[n.Name] = n
	return nil
}

func (f *fakeGraph) SimilaritySearch(ctx context.Context, groupID string, queryEmbedding []float32, labels []types.NodeLabel, limit int, window *driver.DateWindow) ([]types.ScoredNode, error) {
	return f.similarity, nil
}

type fakeEmbedder struct{ dims int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (f *fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Close() error    { return nil }

type fakeLLM struct{ mergedSummary string }

func (f *fakeLLM) GenerateStructured(ctx context.Context, prompt string, schema interface{}, out interface{}) error {
	result := out.(*types.MergeResult)
	result.MergedSummary = f.mergedSummary
	return nil
}
func (f *fakeLLM) Close() error { return nil }

func TestResolveCreatesNewEntity(t *testing.T) {
	g := &fakeGraph{}
	r := New(g, &fakeEmbedder{}, &fakeLLM{})

	entity, err := r.Resolve(context.Background(), types.ExtractedEntity{
		Name: "Alice", EntityType: types.EntityPerson, Summary: "A person.", Confidence: 0.9,
	}, "group1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, "Alice", entity.Name)
	assert.Equal(t, types.EntityPerson, entity.EntityType)
	assert.Len(t, g.upserted, 1)
}

func TestResolveMergesExistingEntity(t *testing.T) {
	existing := &types.EntityNode{
		Uuid: "e1", GroupID: "group1", Name: "Alice",
		EntityType: types.EntityUnknown, Summary: "Old summary.", CreatedAt: time.Now(),
	}
	g := &fakeGraph{entitiesByName: map[string]*types.EntityNode{"Alice": existing}}
	r := New(g, &fakeEmbedder{}, &fakeLLM{mergedSummary: "Merged summary."})

	entity, err := r.Resolve(context.Background(), types.ExtractedEntity{
		Name: "Alice", EntityType: types.EntityPerson, Summary: "New info.",
	}, "group1", time.Now())

	require.NoError(t, err)
	assert.Equal(t, "Merged summary.", entity.Summary)
	// entity_type replaced: existing was Unknown.
	assert.Equal(t, types.EntityPerson, entity.EntityType)
	assert.Len(t, g.upserted, 1)
}

func TestResolveKeepsExistingEntityTypeWhenSet(t *testing.T) {
	existing := &types.EntityNode{
		Uuid: "e1", GroupID: "group1", Name: "Acme",
		EntityType: types.EntityOrganization, Summary: "A company.", CreatedAt: time.Now(),
	}
	g := &fakeGraph{entitiesByName: map[string]*types.EntityNode{"Acme": existing}}
	r := New(g, &fakeEmbedder{}, &fakeLLM{mergedSummary: "A bigger company."})

	entity, err := r.Resolve(context.Background(), types.ExtractedEntity{
		Name: "Acme", EntityType: types.EntityProduct, Summary: "Also makes products.",
	}, "group1", time.Now())

	require.NoError(t, err)
	// entity_type NOT replaced: existing was already set to a non-Unknown value.
	assert.Equal(t, types.EntityOrganization, entity.EntityType)
}

func TestCandidateContextFiltersByThresholdAndReranks(t *testing.T) {
	now := time.Now()
	recent := &types.EntityNode{Uuid: "r", Name: "Recent", CreatedAt: now}
	old := &types.EntityNode{Uuid: "o", Name: "Old", CreatedAt: now.Add(-100 * 24 * time.Hour)}
	belowThreshold := &types.EntityNode{Uuid: "b", Name: "Below"}

	g := &fakeGraph{similarity: []types.ScoredNode{
		{Node: recent, Score: 0.7},
		{Node: old, Score: 0.9},
		{Node: belowThreshold, Score: 0.5}, // below 0.65, excluded
	}}
	r := New(g, &fakeEmbedder{}, &fakeLLM{})

	candidates, err := r.CandidateContext(context.Background(), "group1", []float32{0.1, 0.2}, now)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	// Recent (lower semantic score but fresh) should outrank an old high-similarity entity
	// once recency is folded in, since recency decays fast (exp(-0.1*100) ~ 0).
	assert.Equal(t, "Recent", candidates[0].Name)
}
