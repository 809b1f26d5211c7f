// Package driver is the graph store facade: the minimum vocabulary
// of upsert/fetch/search/traverse/delete operations that pkg/resolver,
// pkg/ingestion, pkg/retrieval, and pkg/sleep are built against, plus the
// handful of group-scoped read operations those components need to do
// their own application-side scoring and graph algorithms. Every consumer
// package needs nearly all of the vocabulary, and a neo4j-go-driver session
// is shared across the calls within a single ingestion/sleep step anyway,
// so it is one GraphDriver interface rather than several narrower ones.
package driver

import (
	"context"
	"time"

	"github.com/soundprediction/tkgengine/pkg/types"
)

// DateWindow bounds a similarity_search call to episodes valid within
// [From, To]. The temporal window only constrains Episodic nodes, never
// Entity/Community.
type DateWindow struct {
	From *time.Time
	To *time.Time
}

// CandidatePair is one name-containment candidate considered for merging
// during sleep Phase 2.
type CandidatePair struct {
	A, B *types.EntityNode
}

// GraphDriver is the graph store facade. Implementations own all
// backend-specific query dialect and row marshalling; callers work
// entirely in terms of pkg/types values. Cosine similarity is always
// computed application-side after fetching raw embedding rows,
// never pushed into the backend's query language, so the facade behaves
// identically regardless of which graph engine sits behind it.
type GraphDriver interface {
	// Upserts merge by uuid, replacing the full property set.
	UpsertEntity(ctx context.Context, n *types.EntityNode) error
	UpsertEpisode(ctx context.Context, n *types.EpisodicNode) error
	UpsertCommunity(ctx context.Context, n *types.CommunityNode) error
	UpsertEntityEdge(ctx context.Context, e *types.EntityEdge) error
	UpsertEpisodicEdge(ctx context.Context, e *types.EpisodicEdge) error
	UpsertCommunityEdge(ctx context.Context, e *types.CommunityEdge) error

	// FetchEntityByName looks up the unique (name, group_id) Entity node.
	// Returns (nil, nil) when absent.
	FetchEntityByName(ctx context.Context, name, groupID string) (*types.EntityNode, error)

	// FetchRelatesToEdge looks up the unique (source, target, name, group_id)
	// RELATES_TO edge. Returns (nil, nil) when absent.
	FetchRelatesToEdge(ctx context.Context, sourceUUID, targetUUID, name, groupID string) (*types.EntityEdge, error)

	// GetNode/GetEdge resolve by uuid regardless of label/type. Return
	// (nil, nil) when absent.
	GetNode(ctx context.Context, uuid, groupID string) (types.Node, error)
	GetEdge(ctx context.Context, uuid, groupID string) (types.Edge, error)

	// DeleteNode/DeleteEdge remove by uuid. DeleteNode detaches (removes
	// incident edges).
	DeleteNode(ctx context.Context, uuid, groupID string) error
	DeleteEdge(ctx context.Context, uuid, groupID string) error

	// SimilaritySearch ranks nodes carrying any of labels by cosine
	// similarity to queryEmbedding, computed application-side, returning
	// the top limit. window, when non-nil, restricts Episodic candidates
	// to those whose valid_at falls inside it; Entity/Community candidates
	// are never date-filtered.
	SimilaritySearch(ctx context.Context, groupID string, queryEmbedding []float32, labels []types.NodeLabel, limit int, window *DateWindow) ([]types.ScoredNode, error)

	// VariableLengthMatch returns the distinct nodes reachable from any of
	// startUUIDs within maxHops RELATES_TO hops in direction, capped at
	// limit.
	VariableLengthMatch(ctx context.Context, startUUIDs []string, maxHops int, direction types.Direction, groupID string, limit int) ([]*types.EntityNode, error)

	// InducedRelatesToEdges returns every RELATES_TO edge whose endpoints
	// are both in nodeUUIDs, for building the traverse subgraph.
	InducedRelatesToEdges(ctx context.Context, nodeUUIDs []string, groupID string) ([]*types.EntityEdge, error)

	// CommunityMembers returns the Entity nodes that are HAS_MEMBER targets
	// of any of communityUUIDs.
	CommunityMembers(ctx context.Context, communityUUIDs []string, groupID string) ([]*types.EntityNode, error)

	// DeleteOrphanEdges removes RELATES_TO/MENTIONS edges whose endpoint(s)
	// no longer exist, returning the count removed (sleep Phase 2 cleanup).
	DeleteOrphanEdges(ctx context.Context, groupID string) (int, error)

	// GetEntityNodesByGroup returns every Entity node in groupID, used by
	// sleep Phase 2/3 to build their working sets.
	GetEntityNodesByGroup(ctx context.Context, groupID string) ([]*types.EntityNode, error)

	// GetMentioningEpisodes returns the Episodic nodes with a MENTIONS edge
	// to entityUUID, used by sleep Phase 1 clustering and tiered T2 lookup.
	GetMentioningEpisodes(ctx context.Context, entityUUID, groupID string) ([]*types.EpisodicNode, error)

	// GetActiveRelatesToEdges returns up to maxOut active (invalid_at IS
	// NULL) outgoing and maxIn active incoming RELATES_TO edges incident to
	// entityUUID, for the tiered T2 neighbourhood fetch.
	GetActiveRelatesToEdges(ctx context.Context, entityUUID, groupID string, maxOut, maxIn int) (outgoing, incoming []*types.EntityEdge, err error)

	// IncidentDegree counts RELATES_TO and MENTIONS edges touching
	// entityUUID, used as the Phase 2 canonical-selection tiebreaker.
	IncidentDegree(ctx context.Context, entityUUID, groupID string) (int, error)

	// MergeEntities redirects every RELATES_TO/MENTIONS edge incident to
	// duplicate onto canonical, then detach-deletes duplicate. Edge
	// redirection that would create a duplicate (canonical, target, name)
	// triple is skipped, not errored.
	MergeEntities(ctx context.Context, duplicate, canonical *types.EntityNode) error

	// GetCommunities returns every Community node in groupID.
	GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error)

	// ReplaceCommunityMembers deletes all HAS_MEMBER edges out of
	// communityUUID and creates one fresh edge per memberUUID.
	ReplaceCommunityMembers(ctx context.Context, communityUUID, groupID string, memberUUIDs []string) error

	// Close releases backend resources.
	Close(ctx context.Context) error
}
