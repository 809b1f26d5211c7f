// Package ingestion implements the ingestion pipeline: the eight-step
// add_episode flow that embeds an episode, extracts entities and
// relations from it via a bounded reflexion loop, resolves those
// entities against the existing graph, and links everything with
// MENTIONS/RELATES_TO edges.
package ingestion

import (
	"context"
	"time"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/embedder"
	"github.com/soundprediction/tkgengine/pkg/llm"
	"github.com/soundprediction/tkgengine/pkg/resolver"
	"github.com/soundprediction/tkgengine/pkg/types"
	"github.com/soundprediction/tkgengine/pkg/utils"
)

const (
	// confidenceFloor drops extracted entities/relations below this
	// confidence.
	confidenceFloor = 0.5

	// maxReflexionIterations bounds the reflexion follow-up pass that asks
	// the LLM whether it missed anything. Attribution relations
	// (NAMED_AFTER, FOUNDED_BY, DESCRIBED_BY, DISCOVERED_BY, DEDICATED_TO)
	// are the most common miss on a single pass, hence the explicit
	// reflexion prompt below.
	maxReflexionIterations = 2
)

var mandatoryRelations = []string{"NAMED_AFTER", "FOUNDED_BY", "DESCRIBED_BY", "DISCOVERED_BY", "DEDICATED_TO"}

// Pipeline implements the ingestion pipeline.
type Pipeline struct {
	graph    driver.GraphDriver
	embedder embedder.Client
	llmc     llm.Client
	resolver *resolver.Resolver
}

// New constructs a Pipeline.
func New(graph driver.GraphDriver, emb embedder.Client, llmClient llm.Client, res *resolver.Resolver) *Pipeline {
	return &Pipeline{graph: graph, embedder: emb, llmc: llmClient, resolver: res}
}

// AddEpisode runs the full pipeline for one episode.
func (p *Pipeline) AddEpisode(ctx context.Context, params types.AddEpisodeParams) (*types.EpisodicNode, error) {
	if params.Content == "" {
		return nil, types.NewValidationError("content", "must not be empty")
	}
	groupID := params.GroupID
	if groupID == "" {
		groupID = "default"
	}
	episodeType := params.EpisodeType
	if episodeType == "" {
		episodeType = types.EpisodeText
	}

	now := time.Now()
	validAt := now
	if params.ValidAt != nil {
		validAt = *params.ValidAt
	}

	// Step 1: embed.
	embedding, err := p.embedder.EmbedSingle(ctx, params.Content)
	if err != nil {
		return nil, types.NewEmbedderError("AddEpisode.embed", err)
	}

	// Step 2: create + upsert the episode immediately so MENTIONS can target it.
	episode := &types.EpisodicNode{
		Uuid:            utils.GenerateUUID(),
		GroupID:         groupID,
		Name:            types.DisplayName(params.Content),
		EpisodeType:     episodeType,
		Content:         params.Content,
		Embedding:       embedding,
		ValidAt:         validAt,
		CreatedAt:       now,
		ReferenceID:     params.ReferenceID,
		RetroactiveDays: types.RetroactiveDaysOf(now, validAt),
	}
	if err := p.graph.UpsertEpisode(ctx, episode); err != nil {
		return nil, types.NewDriverError("AddEpisode.upsertEpisode", err)
	}

	// Step 3: existing-entity context for the extraction prompt.
	candidates, err := p.resolver.CandidateContext(ctx, groupID, embedding, now)
	if err != nil {
		return nil, err
	}

	// Step 4: LLM extraction, with a bounded reflexion follow-up.
	extraction, err := p.extract(ctx, params.Content, candidates)
	if err != nil {
		return nil, types.NewLLMError("AddEpisode.extract", err)
	}

	// Step 5: filter low-confidence entities.
	filteredEntities := make([]types.ExtractedEntity, 0, len(extraction.Entities))
	for _, e := range extraction.Entities {
		if e.Confidence < confidenceFloor {
			continue
		}
		filteredEntities = append(filteredEntities, e)
	}

	// Step 6: resolve & upsert entities.
	resolved := make(map[string]*types.EntityNode, len(filteredEntities))
	for _, e := range filteredEntities {
		entity, err := p.resolver.Resolve(ctx, e, groupID, now)
		if err != nil {
			return nil, err
		}
		resolved[e.Name] = entity
	}

	// Step 7: link episode -> each resolved entity via MENTIONS.
	for _, entity := range resolved {
		edgeUUID := utils.GenerateUUID()
		mentionsEdge := &types.EpisodicEdge{
			Uuid: edgeUUID, GroupID: groupID,
			SourceNodeUUID: episode.Uuid, TargetNodeUUID: entity.Uuid, CreatedAt: now,
		}
		if err := p.graph.UpsertEpisodicEdge(ctx, mentionsEdge); err != nil {
			return nil, types.NewDriverError("AddEpisode.mentions", err)
		}
	}

	// Step 8: process relations.
	episodeChanged := false
	for _, rel := range extraction.Relations {
		if rel.Confidence < confidenceFloor {
			continue
		}
		source, sourceOK := resolved[rel.SourceName]
		target, targetOK := resolved[rel.TargetName]
		if !sourceOK || !targetOK {
			continue
		}

		if rel.IsNegated {
			if err := p.resolveConflict(ctx, source, target, rel.RelationName, episode); err != nil {
				return nil, err
			}
			episodeChanged = true
			continue
		}

		if err := p.upsertRelation(ctx, source, target, rel, episode.Uuid, now); err != nil {
			return nil, err
		}
	}
	if episodeChanged {
		if err := p.graph.UpsertEpisode(ctx, episode); err != nil {
			return nil, types.NewDriverError("AddEpisode.disputedBy", err)
		}
	}

	return episode, nil
}

// resolveConflict implements the "negated relation encounters a
// positive edge" conflict resolution: the positive edge is cross-marked,
// not deleted.
func (p *Pipeline) resolveConflict(ctx context.Context, source, target *types.EntityNode, relationName string, newEpisode *types.EpisodicNode) error {
	active, err := p.graph.FetchRelatesToEdge(ctx, source.Uuid, target.Uuid, relationName, source.GroupID)
	if err != nil {
		return types.NewDriverError("resolveConflict.fetch", err)
	}
	if active == nil || active.IsHistorical() {
		return nil
	}

	active.AddDisputedBy(newEpisode.Uuid)
	if err := p.graph.UpsertEntityEdge(ctx, active); err != nil {
		return types.NewDriverError("resolveConflict.upsertEdge", err)
	}
	for _, epUUID := range active.Episodes {
		newEpisode.AddDisputedBy(epUUID)
	}
	return nil
}

// upsertRelation implements the existing/historical/current/new branches
// for one non-negated relation.
func (p *Pipeline) upsertRelation(ctx context.Context, source, target *types.EntityNode, rel types.ExtractedRelationship, episodeUUID string, now time.Time) error {
	existing, err := p.graph.FetchRelatesToEdge(ctx, source.Uuid, target.Uuid, rel.RelationName, source.GroupID)
	if err != nil {
		return types.NewDriverError("upsertRelation.fetch", err)
	}

	if existing != nil {
		if rel.TemporalValidity == types.TemporalHistorical {
			if existing.InvalidAt == nil {
				existing.InvalidAt = &now
			}
		} else {
			existing.AddEpisode(episodeUUID)
			existing.ValidAt = now
		}
		if err := p.graph.UpsertEntityEdge(ctx, existing); err != nil {
			return types.NewDriverError("upsertRelation.update", err)
		}
		return nil
	}

	edge := &types.EntityEdge{
		Uuid: utils.GenerateUUID(), GroupID: source.GroupID,
		SourceNodeUUID: source.Uuid, TargetNodeUUID: target.Uuid,
		Name:      rel.RelationName,
		Episodes:  []string{episodeUUID},
		ValidAt:   now,
		CreatedAt: now,
	}
	if rel.TemporalValidity == types.TemporalHistorical {
		edge.InvalidAt = &now
	}
	if err := p.graph.UpsertEntityEdge(ctx, edge); err != nil {
		return types.NewDriverError("upsertRelation.create", err)
	}
	return nil
}
