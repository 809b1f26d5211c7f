package sleep

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soundprediction/tkgengine/pkg/types"
	"github.com/soundprediction/tkgengine/pkg/utils"
)

// cluster is one entity's set of unconsolidated mentioning episodes older
// than the cooldown window.
type cluster struct {
	entity   *types.EntityNode
	episodes []*types.EpisodicNode
}

func (e *Engine) runPhase1(ctx context.Context, target types.SleepTarget, opts types.SleepOptions) (types.Phase1Report, error) {
	if target.Tiered() {
		return e.runPhase1Tiered(ctx, target, opts)
	}
	return e.consolidate(ctx, target.GroupID, opts)
}

// consolidate implements single-graph consolidation: for each cluster,
// an LLM call synthesizes a new entity summary from its mentioning
// episodes, then both the entity and its episodes are marked consolidated.
func (e *Engine) consolidate(ctx context.Context, groupID string, opts types.SleepOptions) (types.Phase1Report, error) {
	report := types.Phase1Report{}

	clusters, err := e.findClusters(ctx, groupID, opts)
	if err != nil {
		return report, err
	}

	for _, c := range clusters {
		summary, confidence, err := e.consolidateCluster(ctx, c)
		if err != nil {
			// A failing LLM/embedder call for one cluster is swallowed;
			// other clusters still proceed.
			e.log.Warn("sleep: phase1 cluster consolidation failed", "entity", c.entity.Name, "error", err)
			continue
		}

		embedding, err := e.embedder.EmbedSingle(ctx, summary)
		if err != nil {
			e.log.Warn("sleep: phase1 re-embed failed", "entity", c.entity.Name, "error", err)
			continue
		}

		report.TokensUsed += estimateTokens(summary)
		report.EntitiesProcessed = append(report.EntitiesProcessed, c.entity.Name)

		if opts.DryRun {
			report.EntitiesRefreshed++
			report.EpisodesConsolidated += len(c.episodes)
			continue
		}

		now := time.Now()
		c.entity.Summary = summary
		c.entity.SummaryEmbedding = embedding
		c.entity.ConsolidatedAt = &now
		_ = confidence
		if err := e.graph.UpsertEntity(ctx, c.entity); err != nil {
			return report, types.NewDriverError("phase1.upsertEntity", err)
		}

		for _, ep := range c.episodes {
			ep.ConsolidatedAt = &now
			if err := e.graph.UpsertEpisode(ctx, ep); err != nil {
				return report, types.NewDriverError("phase1.upsertEpisode", err)
			}
		}

		report.EntitiesRefreshed++
		report.EpisodesConsolidated += len(c.episodes)
	}

	return report, nil
}

// findClusters collects, per entity, distinct unconsolidated episodes
// mentioning it older than cooldown_minutes, keeps clusters of size
// >= min_episodes, orders by episode count descending, and caps at
// max_entities.
func (e *Engine) findClusters(ctx context.Context, groupID string, opts types.SleepOptions) ([]cluster, error) {
	entities, err := e.graph.GetEntityNodesByGroup(ctx, groupID)
	if err != nil {
		return nil, types.NewDriverError("phase1.findClusters", err)
	}

	cooldown := time.Duration(opts.CooldownMinutes) * time.Minute
	cutoff := time.Now().Add(-cooldown)

	var clusters []cluster
	for _, entity := range entities {
		episodes, err := e.graph.GetMentioningEpisodes(ctx, entity.Uuid, groupID)
		if err != nil {
			return nil, types.NewDriverError("phase1.mentioningEpisodes", err)
		}

		var eligible []*types.EpisodicNode
		for _, ep := range episodes {
			if ep.ConsolidatedAt != nil {
				continue
			}
			if ep.CreatedAt.After(cutoff) {
				continue
			}
			eligible = append(eligible, ep)
		}

		if len(eligible) < opts.MinEpisodes {
			continue
		}
		clusters = append(clusters, cluster{entity: entity, episodes: eligible})
	}

	sort.SliceStable(clusters, func(i, j int) bool { return len(clusters[i].episodes) > len(clusters[j].episodes) })
	if len(clusters) > opts.MaxEntities {
		clusters = clusters[:opts.MaxEntities]
	}
	return clusters, nil
}

// consolidateCluster runs the LLM call for one cluster.
func (e *Engine) consolidateCluster(ctx context.Context, c cluster) (summary string, confidence float64, err error) {
	var texts []string
	for _, ep := range c.episodes {
		texts = append(texts, ep.Content)
	}

	prompt := fmt.Sprintf(
		"Consolidate the following episode texts about %q (%s) into an updated summary of 2-4 sentences. "+
			"Preserve every attribution fact from the current summary. Do not speculate beyond what the text states.\n\n"+
			"Current summary: %s\n\nEpisode texts:\n%s",
		c.entity.Name, c.entity.EntityType, c.entity.Summary, strings.Join(texts, "\n---\n"))

	var result types.ConsolidationResult
	if err := e.llmc.GenerateStructured(ctx, prompt, types.ConsolidationResult{}, &result); err != nil {
		return "", 0, types.NewLLMError("phase1.consolidateCluster", err)
	}
	return result.Summary, result.Confidence, nil
}

func estimateTokens(s string) int {
	return len(strings.Fields(s))
}

// runPhase1Tiered implements the STM->LTM tiered mode: cluster discovery
// runs against stm_group_id exactly as in single-graph mode, then each
// cluster is migrated into ltm_group_id via T1 (exact-name counterpart
// lookup), T2 (merge-with-neighbourhood), and T3 (relation migration).
func (e *Engine) runPhase1Tiered(ctx context.Context, target types.SleepTarget, opts types.SleepOptions) (types.Phase1Report, error) {
	report := types.Phase1Report{}

	clusters, err := e.findClusters(ctx, target.STMGroupID, opts)
	if err != nil {
		return report, err
	}

	for _, c := range clusters {
		summary, _, err := e.consolidateCluster(ctx, c)
		if err != nil {
			e.log.Warn("sleep: phase1 tiered cluster synthesis failed", "entity", c.entity.Name, "error", err)
			continue
		}
		report.TokensUsed += estimateTokens(summary)
		report.EntitiesProcessed = append(report.EntitiesProcessed, c.entity.Name)

		ltmEntity, err := e.migrateEntityToLTM(ctx, c.entity, summary, target.LTMGroupID, opts)
		if err != nil {
			e.log.Warn("sleep: phase1 tiered T1/T2 failed", "entity", c.entity.Name, "error", err)
			continue
		}

		if err := e.migrateRelationsToLTM(ctx, c.entity, ltmEntity, target, opts); err != nil {
			e.log.Warn("sleep: phase1 tiered T3 failed", "entity", c.entity.Name, "error", err)
		}

		if !opts.DryRun {
			now := time.Now()
			for _, ep := range c.episodes {
				ep.ConsolidatedAt = &now
				if err := e.graph.UpsertEpisode(ctx, ep); err != nil {
					return report, types.NewDriverError("phase1Tiered.upsertEpisode", err)
				}
			}
		}

		report.EntitiesRefreshed++
		report.EpisodesConsolidated += len(c.episodes)
	}

	return report, nil
}

// migrateEntityToLTM implements T1 (exact-name counterpart lookup; no
// vector lookup is done here) and T2 (merge
// with a bounded LTM neighbourhood, or create a new LTM entity).
func (e *Engine) migrateEntityToLTM(ctx context.Context, stmEntity *types.EntityNode, stmSummary, ltmGroupID string, opts types.SleepOptions) (*types.EntityNode, error) {
	existing, err := e.graph.FetchEntityByName(ctx, stmEntity.Name, ltmGroupID)
	if err != nil {
		return nil, types.NewDriverError("migrateEntityToLTM.fetch", err)
	}

	if existing == nil {
		ltmEntity := &types.EntityNode{
			Uuid:       utils.GenerateUUID(),
			GroupID:    ltmGroupID,
			Name:       stmEntity.Name,
			EntityType: stmEntity.EntityType,
			Summary:    stmSummary,
			CreatedAt:  time.Now(),
		}
		embedding, err := e.embedder.EmbedSingle(ctx, stmSummary)
		if err != nil {
			return nil, types.NewEmbedderError("migrateEntityToLTM.embed", err)
		}
		ltmEntity.SummaryEmbedding = embedding
		if opts.DryRun {
			return ltmEntity, nil
		}
		if err := e.graph.UpsertEntity(ctx, ltmEntity); err != nil {
			return nil, types.NewDriverError("migrateEntityToLTM.create", err)
		}
		return ltmEntity, nil
	}

	// T2: merge with a bounded 1-hop LTM neighbourhood.
	outgoing, incoming, err := e.graph.GetActiveRelatesToEdges(ctx, existing.Uuid, ltmGroupID, 6, 4)
	if err != nil {
		return nil, types.NewDriverError("migrateEntityToLTM.neighbourhood", err)
	}

	prompt := fmt.Sprintf(
		"Merge this long-term summary of %q with new information, accounting for its existing relationships. "+
			"Existing summary: %q. New information: %q. Existing relations: %d outgoing, %d incoming.",
		existing.Name, existing.Summary, stmSummary, len(outgoing), len(incoming))
	var result types.MergeResult
	if err := e.llmc.GenerateStructured(ctx, prompt, types.MergeResult{}, &result); err != nil {
		return nil, types.NewLLMError("migrateEntityToLTM.merge", err)
	}

	embedding, err := e.embedder.EmbedSingle(ctx, result.MergedSummary)
	if err != nil {
		return nil, types.NewEmbedderError("migrateEntityToLTM.reembed", err)
	}

	if opts.DryRun {
		existing.Summary = result.MergedSummary
		existing.SummaryEmbedding = embedding
		return existing, nil
	}

	existing.Summary = result.MergedSummary
	existing.SummaryEmbedding = embedding
	if err := e.graph.UpsertEntity(ctx, existing); err != nil {
		return nil, types.NewDriverError("migrateEntityToLTM.update", err)
	}
	return existing, nil
}

// migrateRelationsToLTM implements T3: every active RELATES_TO edge on the
// STM entity is resolved against the LTM graph by exact peer name; when
// absent, migration is deferred silently (the next cycle retries).
func (e *Engine) migrateRelationsToLTM(ctx context.Context, stmEntity, ltmEntity *types.EntityNode, target types.SleepTarget, opts types.SleepOptions) error {
	outgoing, incoming, err := e.graph.GetActiveRelatesToEdges(ctx, stmEntity.Uuid, target.STMGroupID, 1<<20, 1<<20)
	if err != nil {
		return types.NewDriverError("migrateRelationsToLTM.fetch", err)
	}

	for _, edge := range outgoing {
		if err := e.migrateOneRelation(ctx, edge, ltmEntity, true, target, opts); err != nil {
			e.log.Warn("sleep: phase1 T3 outgoing relation migration deferred", "edge", edge.Name, "error", err)
		}
	}
	for _, edge := range incoming {
		if err := e.migrateOneRelation(ctx, edge, ltmEntity, false, target, opts); err != nil {
			e.log.Warn("sleep: phase1 T3 incoming relation migration deferred", "edge", edge.Name, "error", err)
		}
	}
	return nil
}

func (e *Engine) migrateOneRelation(ctx context.Context, stmEdge *types.EntityEdge, ltmEntity *types.EntityNode, outgoing bool, target types.SleepTarget, opts types.SleepOptions) error {
	peerUUID := stmEdge.TargetNodeUUID
	if !outgoing {
		peerUUID = stmEdge.SourceNodeUUID
	}
	peer, err := e.lookupSTMEntityByUUID(ctx, peerUUID, target.STMGroupID)
	if err != nil {
		return err
	}
	if peer == nil {
		return nil
	}

	ltmPeer, err := e.graph.FetchEntityByName(ctx, peer.Name, target.LTMGroupID)
	if err != nil {
		return types.NewDriverError("migrateOneRelation.fetchPeer", err)
	}
	if ltmPeer == nil {
		// Defer silently: the next sleep cycle retries once the peer exists in LTM.
		return nil
	}

	src, tgt := ltmEntity, ltmPeer
	if !outgoing {
		src, tgt = ltmPeer, ltmEntity
	}

	existing, err := e.graph.FetchRelatesToEdge(ctx, src.Uuid, tgt.Uuid, stmEdge.Name, target.LTMGroupID)
	if err != nil {
		return types.NewDriverError("migrateOneRelation.fetchEdge", err)
	}

	if opts.DryRun {
		return nil
	}

	if existing != nil {
		for _, ep := range stmEdge.Episodes {
			existing.AddEpisode(ep)
		}
		return wrapDriverErr("migrateOneRelation.updateEdge", e.graph.UpsertEntityEdge(ctx, existing))
	}

	ltmEdge := &types.EntityEdge{
		Uuid:           stmEdge.Uuid + ":ltm",
		GroupID:        target.LTMGroupID,
		SourceNodeUUID: src.Uuid,
		TargetNodeUUID: tgt.Uuid,
		Name:           stmEdge.Name,
		Episodes:       append([]string{}, stmEdge.Episodes...),
		ValidAt:        stmEdge.ValidAt,
		CreatedAt:      time.Now(),
	}
	return wrapDriverErr("migrateOneRelation.createEdge", e.graph.UpsertEntityEdge(ctx, ltmEdge))
}

func (e *Engine) lookupSTMEntityByUUID(ctx context.Context, uuid, groupID string) (*types.EntityNode, error) {
	node, err := e.graph.GetNode(ctx, uuid, groupID)
	if err != nil {
		return nil, types.NewDriverError("lookupSTMEntityByUUID", err)
	}
	if node == nil {
		return nil, nil
	}
	entity, ok := node.(*types.EntityNode)
	if !ok {
		return nil, nil
	}
	return entity, nil
}

func wrapDriverErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return types.NewDriverError(op, err)
}
