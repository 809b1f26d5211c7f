package tkgengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/types"
)

// fakeGraph is a minimal in-memory driver.GraphDriver double exercising
// enough of the surface for add_episode, search, get_node, delete_node,
// and sleep to run end to end through the Engine façade.
type fakeGraph struct {
	driver.GraphDriver
	entitiesByName map[string]*types.EntityNode
	entities       map[string]*types.EntityNode
	edges          map[string]*types.EntityEdge
	episodes       []*types.EpisodicNode
	episodicEdges  []*types.EpisodicEdge
	mentions       map[string][]string
	communities    []*types.CommunityNode
	deletedNodes   []string
}

func newFakeGraph() *fakeGraph {
	return &fakeGraph{
		entitiesByName: map[string]*types.EntityNode{},
		entities:       map[string]*types.EntityNode{},
		edges:          map[string]*types.EntityEdge{},
		mentions:       map[string][]string{},
	}
}

func edgeKey(src, tgt, name string) string { return src + "|" + tgt + "|" + name }

func (f *fakeGraph) FetchEntityByName(ctx context.Context, name, groupID string) (*types.EntityNode, error) {
	return f.entitiesByName[name], nil
}
func (f *fakeGraph) UpsertEntity(ctx context.Context, n *types.EntityNode) error {
	f.entitiesByName[n.Name] = n
	f.entities[n.Uuid] = n
	return nil
}
func (f *fakeGraph) UpsertEpisode(ctx context.Context, n *types.EpisodicNode) error {
	f.episodes = append(f.episodes, n)
	return nil
}
func (f *fakeGraph) UpsertEpisodicEdge(ctx context.Context, e *types.EpisodicEdge) error {
	f.episodicEdges = append(f.episodicEdges, e)
	f.mentions[e.TargetNodeUUID] = append(f.mentions[e.TargetNodeUUID], e.SourceNodeUUID)
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
	var out []types.ScoredNode
	for _, n := range f.entities {
		out = append(out, types.ScoredNode{Node: n, Score: 0.5})
	}
	return out, nil
}
func (f *fakeGraph) GetNode(ctx context.Context, uuid, groupID string) (types.Node, error) {
	if n, ok := f.entities[uuid]; ok {
		return n, nil
	}
	return nil, nil
}
func (f *fakeGraph) GetEdge(ctx context.Context, uuid, groupID string) (types.Edge, error) {
	for _, e := range f.edges {
		if e.Uuid == uuid {
			return e, nil
		}
	}
	return nil, nil
}
func (f *fakeGraph) DeleteNode(ctx context.Context, uuid, groupID string) error {
	delete(f.entities, uuid)
	f.deletedNodes = append(f.deletedNodes, uuid)
	return nil
}
func (f *fakeGraph) DeleteEdge(ctx context.Context, uuid, groupID string) error {
	for k, e := range f.edges {
		if e.Uuid == uuid {
			delete(f.edges, k)
			return nil
		}
	}
	return nil
}
func (f *fakeGraph) GetEntityNodesByGroup(ctx context.Context, groupID string) ([]*types.EntityNode, error) {
	var out []*types.EntityNode
	for _, e := range f.entities {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeGraph) GetMentioningEpisodes(ctx context.Context, entityUUID, groupID string) ([]*types.EpisodicNode, error) {
	byUUID := make(map[string]*types.EpisodicNode, len(f.episodes))
	for _, ep := range f.episodes {
		byUUID[ep.Uuid] = ep
	}
	var out []*types.EpisodicNode
	for _, epUUID := range f.mentions[entityUUID] {
		if ep, ok := byUUID[epUUID]; ok {
			out = append(out, ep)
		}
	}
	return out, nil
}
func (f *fakeGraph) GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error) {
	return f.communities, nil
}
func (f *fakeGraph) Close(ctx context.Context) error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}
func (fakeEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (fakeEmbedder) Dimensions() int { return 2 }
func (fakeEmbedder) Close() error    { return nil }

type fakeLLM struct {
	extraction types.ExtractionResult
	calls      int
}

func (f *fakeLLM) GenerateStructured(ctx context.Context, prompt string, schema interface{}, out interface{}) error {
	f.calls++
	switch v := out.(type) {
	case *types.ExtractionResult:
		if f.calls == 1 {
			*v = f.extraction
		}
	case *types.MergeResult:
		v.MergedSummary = "merged"
	case *types.ConsolidationResult:
		v.Summary = "consolidated"
		v.Confidence = 0.9
	}
	return nil
}
func (f *fakeLLM) Close() error { return nil }

func TestEngineAddEpisodeThenSearchFindsTheResultingEntity(t *testing.T) {
	g := newFakeGraph()
	llmc := &fakeLLM{extraction: types.ExtractionResult{
		Entities: []types.ExtractedEntity{
			{Name: "Alice", EntityType: types.EntityPerson, Summary: "A person.", Confidence: 0.9},
		},
	}}
	eng := New(g, fakeEmbedder{}, llmc, nil, nil)

	episode, err := eng.AddEpisode(context.Background(), types.AddEpisodeParams{
		Content: "Alice joined the team.",
		GroupID: "g1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, episode.Uuid)

	results, err := eng.Search(context.Background(), types.SearchParams{Query: "Alice", GroupID: "g1", Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
}

func TestEngineAddEpisodeDefaultsGroupID(t *testing.T) {
	g := newFakeGraph()
	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, nil)

	episode, err := eng.AddEpisode(context.Background(), types.AddEpisodeParams{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, DefaultGroupID, episode.GroupID)
}

func TestEngineGetNodeAndDeleteNode(t *testing.T) {
	g := newFakeGraph()
	now := time.Now()
	alice := &types.EntityNode{Uuid: "alice", GroupID: "g1", Name: "Alice", CreatedAt: now}
	g.entities["alice"] = alice
	g.entitiesByName["Alice"] = alice

	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, nil)

	node, err := eng.GetNode(context.Background(), "alice", "g1")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "alice", node.UUID())

	require.NoError(t, eng.DeleteNode(context.Background(), "alice", "g1"))
	node, err = eng.GetNode(context.Background(), "alice", "g1")
	require.NoError(t, err)
	assert.Nil(t, node)
}

func TestEngineSleepDelegatesToSleepEngine(t *testing.T) {
	g := newFakeGraph()
	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, nil)

	report, err := eng.Sleep(context.Background(), types.SleepTarget{GroupID: "g1"}, types.SleepOptions{})
	require.NoError(t, err)
	assert.Equal(t, "g1", report.GroupID)
}

func TestEngineStartStopAutoSleep(t *testing.T) {
	g := newFakeGraph()
	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, nil)

	eng.StartAutoSleep(types.AutoSleepConfig{Hour: 23, Minute: 59, Target: types.SleepTarget{GroupID: "g1"}})
	eng.StopAutoSleep()
}
