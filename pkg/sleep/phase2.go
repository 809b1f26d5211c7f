package sleep

import (
	"context"
	"sort"
	"strings"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/types"
	"github.com/soundprediction/tkgengine/pkg/utils"
)

// candidateScore is one Phase 2 merge candidate with its computed
// similarity.
type candidateScore struct {
	a, b       *types.EntityNode
	similarity float64
}

// fallbackSimilarityFloor discards name-containment candidates whose
// length-ratio fallback score (used when an embedding is missing) falls
// below this.
const fallbackSimilarityFloor = 0.6

func (e *Engine) runPhase2(ctx context.Context, groupID string, opts types.SleepOptions) (types.Phase2Report, error) {
	report := types.Phase2Report{}

	entities, err := e.graph.GetEntityNodesByGroup(ctx, groupID)
	if err != nil {
		return report, types.NewDriverError("phase2.entities", err)
	}

	candidates := findNameContainmentPairs(entities)
	scored := make([]candidateScore, 0, len(candidates))
	for _, c := range candidates {
		sim, ok := scoreCandidate(c.A, c.B)
		if !ok {
			continue
		}
		if sim >= opts.SimilarityThreshold {
			scored = append(scored, candidateScore{a: c.A, b: c.B, similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].similarity > scored[j].similarity })

	merged := make(map[string]bool, len(scored)*2)
	for _, c := range scored {
		if merged[c.a.Uuid] || merged[c.b.Uuid] {
			continue
		}

		degreeA, err := e.graph.IncidentDegree(ctx, c.a.Uuid, groupID)
		if err != nil {
			return report, types.NewDriverError("phase2.degree", err)
		}
		degreeB, err := e.graph.IncidentDegree(ctx, c.b.Uuid, groupID)
		if err != nil {
			return report, types.NewDriverError("phase2.degree", err)
		}

		canonical, duplicate := chooseCanonical(c.a, degreeA, c.b, degreeB)
		merged[c.a.Uuid] = true
		merged[c.b.Uuid] = true

		report.EntitiesMerged++
		report.MergedPairs = append(report.MergedPairs, types.MergedPair{
			Canonical: canonical.Name, Duplicate: duplicate.Name, Similarity: c.similarity,
		})

		if opts.DryRun {
			continue
		}
		if err := e.graph.MergeEntities(ctx, duplicate, canonical); err != nil {
			return report, types.NewDriverError("phase2.merge", err)
		}
	}

	if opts.DryRun {
		return report, nil
	}

	pruned, err := e.graph.DeleteOrphanEdges(ctx, groupID)
	if err != nil {
		return report, types.NewDriverError("phase2.prune", err)
	}
	report.EdgesPruned = pruned
	return report, nil
}

// findNameContainmentPairs returns candidate pairs (a, b) with a.uuid <
// b.uuid, distinct names, where one name case-insensitively contains the
// other.
func findNameContainmentPairs(entities []*types.EntityNode) []driver.CandidatePair {
	var pairs []driver.CandidatePair
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			if a.Uuid == b.Uuid || a.Name == b.Name {
				continue
			}
			lowA, lowB := strings.ToLower(a.Name), strings.ToLower(b.Name)
			if !strings.Contains(lowA, lowB) && !strings.Contains(lowB, lowA) {
				continue
			}
			first, second := a, b
			if first.Uuid > second.Uuid {
				first, second = second, first
			}
			pairs = append(pairs, driver.CandidatePair{A: first, B: second})
		}
	}
	return pairs
}

// scoreCandidate computes cosine similarity when both entities carry a
// summary embedding, else a length-ratio fallback discarded below
// fallbackSimilarityFloor.
func scoreCandidate(a, b *types.EntityNode) (float64, bool) {
	if len(a.SummaryEmbedding) > 0 && len(b.SummaryEmbedding) > 0 {
		return utils.CosineSimilarity(a.SummaryEmbedding, b.SummaryEmbedding), true
	}
	shortLen, longLen := len(a.Name), len(b.Name)
	if shortLen > longLen {
		shortLen, longLen = longLen, shortLen
	}
	if longLen == 0 {
		return 0, false
	}
	ratio := float64(shortLen) / float64(longLen)
	if ratio < fallbackSimilarityFloor {
		return 0, false
	}
	return ratio, true
}

// chooseCanonical picks the surviving entity: higher incident degree
// wins; ties broken by longer name.
func chooseCanonical(a *types.EntityNode, degreeA int, b *types.EntityNode, degreeB int) (canonical, duplicate *types.EntityNode) {
	if degreeA != degreeB {
		if degreeA > degreeB {
			return a, b
		}
		return b, a
	}
	if len(a.Name) >= len(b.Name) {
		return a, b
	}
	return b, a
}
