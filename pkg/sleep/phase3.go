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

// communityUUIDReuseThreshold is the Jaccard overlap required to reuse an
// existing Community's uuid for a newly-detected community.
const communityUUIDReuseThreshold = 0.7

// maxCommunitySummaryMembers bounds how many member summaries are fed to
// the per-community LLM summarization call.
const maxCommunitySummaryMembers = 20

func (e *Engine) runPhase3(ctx context.Context, groupID string, opts types.SleepOptions) (types.Phase3Report, error) {
	report := types.Phase3Report{}

	entities, err := e.graph.GetEntityNodesByGroup(ctx, groupID)
	if err != nil {
		return report, types.NewDriverError("phase3.entities", err)
	}
	report.EntityCount = len(entities)

	if len(entities) < opts.MinGraphSize {
		report.Skipped = true
		report.Reason = fmt.Sprintf("entity_count %d below min_graph_size %d", len(entities), opts.MinGraphSize)
		return report, nil
	}

	existingCommunities, err := e.graph.GetCommunities(ctx, groupID)
	if err != nil {
		return report, types.NewDriverError("phase3.communities", err)
	}

	lastCount := 0
	for _, c := range existingCommunities {
		if c.EntityCountAtLastRebuild > lastCount {
			lastCount = c.EntityCountAtLastRebuild
		}
	}
	if len(existingCommunities) > 0 && len(entities)-lastCount < opts.RebuildThreshold {
		report.Skipped = true
		report.Reason = fmt.Sprintf("growth %d below rebuild_threshold %d", len(entities)-lastCount, opts.RebuildThreshold)
		return report, nil
	}

	nodeUUIDs := make([]string, len(entities))
	for i, ent := range entities {
		nodeUUIDs[i] = ent.Uuid
	}
	edges, err := e.graph.InducedRelatesToEdges(ctx, nodeUUIDs, groupID)
	if err != nil {
		return report, types.NewDriverError("phase3.edges", err)
	}

	g := buildWeightedGraph(entities, edges)
	assignment := louvain(g)

	communitiesBySeed := groupBySeed(entities, assignment, opts.MinCommunitySize)
	if len(communitiesBySeed) == 0 {
		report.CommunitiesBuilt = 0
		if !opts.DryRun {
			removed, err := e.removeStaleCommunities(ctx, existingCommunities, nil)
			if err != nil {
				return report, err
			}
			report.CommunitiesRemoved = removed
		}
		return report, nil
	}

	claimedExisting := make(map[string]bool, len(existingCommunities))
	reusedUUIDs := make(map[string]bool, len(communitiesBySeed))

	for _, members := range communitiesBySeed {
		uuid := chooseCommunityUUID(members, existingCommunities, claimedExisting)
		reusedUUIDs[uuid] = true

		summaryResult, err := e.summarizeCommunity(ctx, members)
		if err != nil {
			e.log.Warn("sleep: phase3 community summarization failed", "error", err)
			continue
		}

		if opts.DryRun {
			report.CommunitiesBuilt++
			continue
		}

		embedding, err := e.embedder.EmbedSingle(ctx, summaryResult.Summary)
		if err != nil {
			e.log.Warn("sleep: phase3 community embed failed", "error", err)
			continue
		}

		now := time.Now()
		community := &types.CommunityNode{
			Uuid:                     uuid,
			GroupID:                  groupID,
			Name:                     summaryResult.Name,
			Summary:                  summaryResult.Summary,
			SummaryEmbedding:         embedding,
			MemberEntityIDs:          memberUUIDs(members),
			MemberCount:              len(members),
			DomainHints:              summaryResult.DomainHints,
			ImportanceScore:          summaryResult.ImportanceScore,
			EntityCountAtLastRebuild: len(entities),
			LastFullRebuild:          &now,
			CreatedAt:                now,
		}
		if err := e.graph.UpsertCommunity(ctx, community); err != nil {
			return report, types.NewDriverError("phase3.upsertCommunity", err)
		}
		if err := e.graph.ReplaceCommunityMembers(ctx, uuid, groupID, community.MemberEntityIDs); err != nil {
			return report, types.NewDriverError("phase3.replaceMembers", err)
		}
		report.CommunitiesBuilt++
	}

	if !opts.DryRun {
		removed, err := e.removeStaleCommunities(ctx, existingCommunities, reusedUUIDs)
		if err != nil {
			return report, err
		}
		report.CommunitiesRemoved = removed
	}

	return report, nil
}

func (e *Engine) removeStaleCommunities(ctx context.Context, existing []*types.CommunityNode, reused map[string]bool) (int, error) {
	removed := 0
	for _, c := range existing {
		if reused[c.Uuid] {
			continue
		}
		if err := e.graph.DeleteNode(ctx, c.Uuid, c.GroupID); err != nil {
			return removed, types.NewDriverError("phase3.removeStale", err)
		}
		removed++
	}
	return removed, nil
}

func (e *Engine) summarizeCommunity(ctx context.Context, members []*types.EntityNode) (types.CommunitySummaryResult, error) {
	summaries := make([]string, 0, maxCommunitySummaryMembers)
	for i, m := range members {
		if i >= maxCommunitySummaryMembers {
			break
		}
		summaries = append(summaries, fmt.Sprintf("%s: %s", m.Name, m.Summary))
	}

	prompt := fmt.Sprintf(
		"Summarize this cluster of related entities with a short name, a one-paragraph summary, "+
		"a list of kebab-case domain hints, and an importance_score between 0 and 1.\n\nMembers:\n%s",
		strings.Join(summaries, "\n"))

	var result types.CommunitySummaryResult
	if err := e.llmc.GenerateStructured(ctx, prompt, types.CommunitySummaryResult{}, &result); err != nil {
		return result, types.NewLLMError("phase3.summarizeCommunity", err)
	}
	return result, nil
}

func memberUUIDs(members []*types.EntityNode) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Uuid
	}
	return out
}

// weightedGraph is an undirected, weighted adjacency representation keyed
// by entity uuid, built from RELATES_TO edges.
type weightedGraph struct {
	nodes     []string
	neighbors map[string]map[string]float64
}

func buildWeightedGraph(entities []*types.EntityNode, edges []*types.EntityEdge) *weightedGraph {
	g := &weightedGraph{neighbors: make(map[string]map[string]float64, len(entities))}
	known := make(map[string]bool, len(entities))
	for _, ent := range entities {
		g.nodes = append(g.nodes, ent.Uuid)
		g.neighbors[ent.Uuid] = make(map[string]float64)
		known[ent.Uuid] = true
	}
	for _, edge := range edges {
		if edge.SourceNodeUUID == edge.TargetNodeUUID {
			continue
		}
		if !known[edge.SourceNodeUUID] || !known[edge.TargetNodeUUID] {
			continue
		}
		g.neighbors[edge.SourceNodeUUID][edge.TargetNodeUUID]++
		g.neighbors[edge.TargetNodeUUID][edge.SourceNodeUUID]++
	}
	return g
}

// louvain runs a single-pass Louvain modularity-optimization (no
// multi-level contraction): every entity starts as its own community,
// then entities move to the neighbouring community that maximizes
// modularity gain until a full pass yields no moves.
func louvain(g *weightedGraph) map[string]string {
	assignment := make(map[string]string, len(g.nodes))
	degree := make(map[string]float64, len(g.nodes))
	sigmaTot := make(map[string]float64, len(g.nodes))

	m := 0.0
	for _, n := range g.nodes {
		assignment[n] = n
		d := 0.0
		for _, w := range g.neighbors[n] {
			d += w
		}
		degree[n] = d
		sigmaTot[n] = d
		m += d
	}
	m /= 2

	if m == 0 {
		return assignment
	}

	for {
		moved := false
		for _, n := range g.nodes {
			currentCommunity := assignment[n]
			ki := degree[n]

			neighborWeightByCommunity := make(map[string]float64)
			for neighbor, w := range g.neighbors[n] {
				neighborWeightByCommunity[assignment[neighbor]] += w
			}

			kInOld := neighborWeightByCommunity[currentCommunity]
			sigmaTot[currentCommunity] -= ki

			bestCommunity := currentCommunity
			bestGain := 0.0
			for community, kInNew := range neighborWeightByCommunity {
				gain := (kInNew-kInOld)/m - ki*(sigmaTot[community]-sigmaTot[currentCommunity]+ki)/(2*m*m)
				if community == currentCommunity {
					continue
				}
				if gain > bestGain {
					bestGain = gain
					bestCommunity = community
				}
			}

			sigmaTot[currentCommunity] += ki
			if bestCommunity != currentCommunity {
				sigmaTot[currentCommunity] -= ki
				sigmaTot[bestCommunity] += ki
				assignment[n] = bestCommunity
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	return assignment
}

// groupBySeed buckets entities by their final Louvain community label,
// dropping buckets smaller than minSize.
func groupBySeed(entities []*types.EntityNode, assignment map[string]string, minSize int) [][]*types.EntityNode {
	byCommunity := make(map[string][]*types.EntityNode)
	for _, ent := range entities {
		label := assignment[ent.Uuid]
		byCommunity[label] = append(byCommunity[label], ent)
	}

	var out [][]*types.EntityNode
	var labels []string
	for label := range byCommunity {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		members := byCommunity[label]
		if len(members) < minSize {
			continue
		}
		out = append(out, members)
	}
	return out
}

// chooseCommunityUUID reuses an existing Community's uuid when its
// member set's Jaccard overlap with the new community is >= 0.7 and that
// existing community hasn't already been claimed this cycle; otherwise
// it allocates a fresh uuid.
func chooseCommunityUUID(members []*types.EntityNode, existing []*types.CommunityNode, claimed map[string]bool) string {
	newSet := make(map[string]bool, len(members))
	for _, m := range members {
		newSet[m.Uuid] = true
	}

	bestUUID := ""
	bestJaccard := 0.0
	for _, c := range existing {
		if claimed[c.Uuid] {
			continue
		}
		oldSet := make(map[string]bool, len(c.MemberEntityIDs))
		for _, id := range c.MemberEntityIDs {
			oldSet[id] = true
		}
		j := jaccard(newSet, oldSet)
		if j > bestJaccard {
			bestJaccard = j
			bestUUID = c.Uuid
		}
	}

	if bestUUID != "" && bestJaccard >= communityUUIDReuseThreshold {
		claimed[bestUUID] = true
		return bestUUID
	}
	return utils.GenerateUUID()
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
