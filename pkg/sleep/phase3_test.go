package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/tkgengine/pkg/types"
)

func entitiesOfSize(n int, groupID string) map[string]*types.EntityNode {
	out := make(map[string]*types.EntityNode, n)
	now := time.Now()
	for i := 0; i < n; i++ {
		uuid := string(rune('a' + i))
		out[uuid] = &types.EntityNode{Uuid: uuid, GroupID: groupID, Name: uuid, CreatedAt: now}
	}
	return out
}

func TestPhase3SkipsWhenGraphTooSmall(t *testing.T) {
	g := newFakeGraph()
	g.entities = entitiesOfSize(5, "g1")

	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, testLogger())
	report, err := eng.runPhase3(context.Background(), "g1", types.SleepOptions{}.WithDefaults())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, 5, report.EntityCount)
}

func TestPhase3BuildsCommunitiesForTwoDenseClusters(t *testing.T) {
	g := newFakeGraph()
	now := time.Now()
	g.entities = entitiesOfSize(20, "g1")

	// Two dense clusters of 10 entities each (an arbitrary split of the 20
	// uuids, in map iteration order), with no edges between them.
	names := make([]string, 0, 20)
	for uuid := range g.entities {
		names = append(names, uuid)
	}
	clusterA := names[:10]
	clusterB := names[10:]
	addEdge := func(src, tgt string) {
		uuid := src + tgt
		g.relatesTo[uuid] = &types.EntityEdge{Uuid: uuid, GroupID: "g1", SourceNodeUUID: src, TargetNodeUUID: tgt, Name: "RELATES_TO", ValidAt: now}
	}
	for i := 0; i < len(clusterA); i++ {
		for j := i + 1; j < len(clusterA); j++ {
			addEdge(clusterA[i], clusterA[j])
		}
	}
	for i := 0; i < len(clusterB); i++ {
		for j := i + 1; j < len(clusterB); j++ {
			addEdge(clusterB[i], clusterB[j])
		}
	}

	eng := New(g, fakeEmbedder{}, &fakeLLM{communitySummary: types.CommunitySummaryResult{
		Name: "Cluster", Summary: "A dense cluster.", DomainHints: []string{"test"}, ImportanceScore: 0.5,
	}}, nil, testLogger())

	report, err := eng.runPhase3(context.Background(), "g1", types.SleepOptions{}.WithDefaults())
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.GreaterOrEqual(t, report.CommunitiesBuilt, 1)
	assert.Len(t, g.communities, report.CommunitiesBuilt)
}

func TestJaccardOverlap(t *testing.T) {
	a := map[string]bool{"1": true, "2": true, "3": true}
	b := map[string]bool{"2": true, "3": true, "4": true}
	assert.InDelta(t, 0.5, jaccard(a, b), 0.0001)
}

func TestChooseCommunityUUIDReusesHighOverlap(t *testing.T) {
	existing := []*types.CommunityNode{
		{Uuid: "old1", MemberEntityIDs: []string{"1", "2", "3"}},
	}
	members := []*types.EntityNode{{Uuid: "1"}, {Uuid: "2"}, {Uuid: "3"}}
	claimed := map[string]bool{}

	uuid := chooseCommunityUUID(members, existing, claimed)
	assert.Equal(t, "old1", uuid)
	assert.True(t, claimed["old1"])
}

func TestChooseCommunityUUIDAllocatesFreshWhenNoOverlap(t *testing.T) {
	existing := []*types.CommunityNode{
		{Uuid: "old1", MemberEntityIDs: []string{"1", "2", "3"}},
	}
	members := []*types.EntityNode{{Uuid: "9"}, {Uuid: "10"}}
	claimed := map[string]bool{}

	uuid := chooseCommunityUUID(members, existing, claimed)
	assert.NotEqual(t, "old1", uuid)
}
