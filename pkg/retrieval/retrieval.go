// Package retrieval implements the retrieval engine: a
// similarity/community/graph-expansion/temporal-rerank search pipeline,
// and traverse for induced-subgraph neighbourhood queries.
package retrieval

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/embedder"
	"github.com/soundprediction/tkgengine/pkg/types"
	"github.com/soundprediction/tkgengine/pkg/utils"
)

const (
	// defaultTemporalAlpha is the re-ranking weight applied
	// when a search call doesn't set TemporalAlpha explicitly.
	defaultTemporalAlpha = 0.3

	// defaultHalfLifeDays controls how fast the temporal-proximity term
	// decays with distance from query_time.
	defaultHalfLifeDays = 30.0

	// contemporaneityDivisorDays controls how fast the contemporaneity
	// term decays with how long after valid_at the fact was recorded.
	contemporaneityDivisorDays = 30.0

	// graphExpansionLimitMultiplier caps graph-expansion fan-out at
	// 2x the caller's requested limit.
	graphExpansionLimitMultiplier = 2
)

// Engine implements the retrieval engine.
type Engine struct {
	graph    driver.GraphDriver
	embedder embedder.Client
}

// New constructs an Engine.
func New(graph driver.GraphDriver, emb embedder.Client) *Engine {
	return &Engine{graph: graph, embedder: emb}
}

// Search implements the search pipeline.
func (e *Engine) Search(ctx context.Context, params types.SearchParams) ([]types.ScoredNode, error) {
	if params.Query == "" {
		return nil, types.NewValidationError("query", "must not be empty")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	// Step 1: embed the query.
	queryEmbedding, err := e.embedder.EmbedSingle(ctx, params.Query)
	if err != nil {
		return nil, types.NewEmbedderError("Search.embed", err)
	}

	// Step 2: similarity search across Entity/Episodic/Community, with the
	// temporal window constraining only Episodic candidates.
	var window *driver.DateWindow
	if params.ValidFrom != nil || params.ValidTo != nil {
		window = &driver.DateWindow{From: params.ValidFrom, To: params.ValidTo}
	}
	labels := []types.NodeLabel{types.LabelEntity, types.LabelEpisodic, types.LabelCommunity}
	results, err := e.graph.SimilaritySearch(ctx, params.GroupID, queryEmbedding, labels, limit, window)
	if err != nil {
		return nil, types.NewDriverError("Search.similarity", err)
	}

	// Step 3: community-guided expansion. If any Community node made the
	// top-limit cut, pull in its member entities as additional candidates.
	var communityUUIDs []string
	for _, r := range results {
		if c, ok := r.Node.(*types.CommunityNode); ok {
			communityUUIDs = append(communityUUIDs, c.Uuid)
		}
	}
	if len(communityUUIDs) > 0 {
		members, err := e.graph.CommunityMembers(ctx, communityUUIDs, params.GroupID)
		if err != nil {
			return nil, types.NewDriverError("Search.communityExpand", err)
		}
		results = appendScoredEntities(results, members, queryEmbedding)
	}

	// Step 4: graph expansion via RELATES_TO, only when requested.
	if params.GraphExpand {
		hops := params.ExpandHops
		if hops <= 0 {
			hops = 1
		}
		seedUUIDs := entityUUIDs(results)
		if len(seedUUIDs) > 0 {
			expanded, err := e.graph.VariableLengthMatch(ctx, seedUUIDs, hops, types.DirectionBoth, params.GroupID, limit*graphExpansionLimitMultiplier)
			if err != nil {
				return nil, types.NewDriverError("Search.graphExpand", err)
			}
			results = appendScoredEntities(results, expanded, queryEmbedding)
		}
	}

	// Step 5 (implicit): de-duplicate by uuid, keeping the highest score
	// seen for each node across the similarity/community/graph passes.
	results = dedupeByScore(results)

	// Step 6: temporal re-ranking, only when query_time is supplied.
	if params.QueryTime != nil {
		alpha := defaultTemporalAlpha
		if params.TemporalAlpha != nil {
			alpha = *params.TemporalAlpha
		}
		halfLife := defaultHalfLifeDays
		if params.HalfLifeDays != nil {
			halfLife = *params.HalfLifeDays
		}
		queryTime := *params.QueryTime
		for i := range results {
			results[i].Score = temporalAdjust(results[i], queryTime, alpha, halfLife)
		}
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
		// Re-ranking may surface more than limit candidates above the
		// original cutoff; the result is allowed to exceed limit here.
		return results, nil
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// temporalAdjust applies the temporal re-ranking formula. Non-Episodic
// nodes are returned unchanged: only Episodic carries a valid_at and
// retroactive_days that can be compared against query_time.
func temporalAdjust(r types.ScoredNode, queryTime time.Time, alpha, halfLifeDays float64) float64 {
	ep, ok := r.Node.(*types.EpisodicNode)
	if !ok {
		return r.Score
	}
	distanceDays := math.Abs(queryTime.Sub(ep.ValidAt).Hours() / 24)
	proximity := math.Exp(-distanceDays / halfLifeDays)
	contemporaneity := math.Exp(-float64(ep.RetroactiveDays) / contemporaneityDivisorDays)
	return r.Score * (1 + alpha*proximity*contemporaneity)
}

func entityUUIDs(results []types.ScoredNode) []string {
	var out []string
	for _, r := range results {
		if e, ok := r.Node.(*types.EntityNode); ok {
			out = append(out, e.Uuid)
		}
	}
	return out
}

// appendScoredEntities scores newly fetched entity nodes against
// queryEmbedding and appends them to results.
func appendScoredEntities(results []types.ScoredNode, entities []*types.EntityNode, queryEmbedding []float32) []types.ScoredNode {
	for _, ent := range entities {
		var score float64
		if len(ent.SummaryEmbedding) > 0 {
			score = utils.CosineSimilarity(queryEmbedding, ent.SummaryEmbedding)
		}
		results = append(results, types.ScoredNode{Node: ent, Score: score})
	}
	return results
}

func dedupeByScore(results []types.ScoredNode) []types.ScoredNode {
	best := make(map[string]types.ScoredNode, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		uuid := r.Node.UUID()
		if existing, ok := best[uuid]; !ok {
			best[uuid] = r
			order = append(order, uuid)
		} else if r.Score > existing.Score {
			best[uuid] = r
		}
	}
	out := make([]types.ScoredNode, 0, len(order))
	for _, uuid := range order {
		out = append(out, best[uuid])
	}
	return out
}

// Traverse implements the traverse operation: resolve the start
// entity, then return the induced subgraph within max_hops.
func (e *Engine) Traverse(ctx context.Context, params types.TraverseParams) (*types.Subgraph, error) {
	if params.StartEntityUUID == nil && params.StartEntityName == nil {
		return nil, types.ErrNoStartEntity
	}
	groupID := params.GroupID
	maxHops := params.MaxHops
	if maxHops <= 0 {
		maxHops = 1
	}
	direction := params.Direction
	if direction == "" {
		direction = types.DirectionBoth
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	start, err := e.resolveStart(ctx, params, groupID)
	if err != nil {
		return nil, err
	}
	if start == nil {
		return nil, types.ErrNodeNotFound
	}

	neighbours, err := e.graph.VariableLengthMatch(ctx, []string{start.Uuid}, maxHops, direction, groupID, limit)
	if err != nil {
		return nil, types.NewDriverError("Traverse.match", err)
	}

	nodeUUIDs := []string{start.Uuid}
	nodes := []types.Node{start}
	seen := map[string]bool{start.Uuid: true}
	for _, n := range neighbours {
		if seen[n.Uuid] {
			continue
		}
		seen[n.Uuid] = true
		nodeUUIDs = append(nodeUUIDs, n.Uuid)
		nodes = append(nodes, n)
	}

	edges, err := e.graph.InducedRelatesToEdges(ctx, nodeUUIDs, groupID)
	if err != nil {
		return nil, types.NewDriverError("Traverse.induced", err)
	}

	return &types.Subgraph{Start: start, Nodes: nodes, Edges: edges}, nil
}

func (e *Engine) resolveStart(ctx context.Context, params types.TraverseParams, groupID string) (*types.EntityNode, error) {
	if params.StartEntityUUID != nil {
		node, err := e.graph.GetNode(ctx, *params.StartEntityUUID, groupID)
		if err != nil {
			return nil, types.NewDriverError("Traverse.resolveStart", err)
		}
		if node == nil {
			return nil, nil
		}
		entity, ok := node.(*types.EntityNode)
		if !ok {
			return nil, types.NewValidationError("start_entity_uuid", "does not refer to an Entity node")
		}
		return entity, nil
	}
	return e.graph.FetchEntityByName(ctx, *params.StartEntityName, groupID)
}
