// Package resolver maps an extracted entity mention to a canonical
// EntityNode: exact-name lookup first, then candidate-pool generation
// for the ingestion prompt, then create-on-miss.
package resolver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/soundprediction/tkgengine/pkg/driver"
	"github.com/soundprediction/tkgengine/pkg/embedder"
	"github.com/soundprediction/tkgengine/pkg/llm"
	"github.com/soundprediction/tkgengine/pkg/types"
	"github.com/soundprediction/tkgengine/pkg/utils"
)

const (
	candidatePoolSize    = 50
	candidatePoolSimMin  = 0.65
	candidateContextTop  = 20
	semanticWeight       = 0.7
	recencyWeight        = 0.3
	recencyDecayPerDay   = 0.1
)

// Resolver implements entity resolution.
type Resolver struct {
	graph    driver.GraphDriver
	embedder embedder.Client
	llmc     llm.Client
}

// New constructs a Resolver.
func New(graph driver.GraphDriver, emb embedder.Client, llmClient llm.Client) *Resolver {
	return &Resolver{graph: graph, embedder: emb, llmc: llmClient}
}

// CandidateContext builds the top-20 known-entity candidate pool passed
// to the ingestion LLM extraction prompt: entities whose summary
// embedding exceeds candidatePoolSimMin cosine similarity to the episode
// embedding, re-ranked by 0.7*semantic + 0.3*recency.
func (r *Resolver) CandidateContext(ctx context.Context, groupID string, episodeEmbedding []float32, now time.Time) ([]*types.EntityNode, error) {
	scored, err := r.graph.SimilaritySearch(ctx, groupID, episodeEmbedding, []types.NodeLabel{types.LabelEntity}, candidatePoolSize, nil)
	if err != nil {
		return nil, fmt.Errorf("resolver: candidate pool: %w", err)
	}

	type ranked struct {
		entity *types.EntityNode
		score  float64
	}
	var pool []ranked
	for _, s := range scored {
		if s.Score <= candidatePoolSimMin {
			continue
		}
		entity, ok := s.Node.(*types.EntityNode)
		if !ok {
			continue
		}
		ageDays := now.Sub(entity.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-recencyDecayPerDay * ageDays)
		pool = append(pool, ranked{entity: entity, score: semanticWeight*s.Score + recencyWeight*recency})
	}

	items := make([]utils.ScoredItem[*types.EntityNode], len(pool))
	for i, p := range pool {
		items[i] = utils.ScoredItem[*types.EntityNode]{Item: p.entity, Score: p.score}
	}
	top := utils.TopKByScore(items, candidateContextTop)
	out := make([]*types.EntityNode, len(top))
	for i, t := range top {
		out[i] = t.Item
	}
	return out, nil
}

// Resolve implements the resolution order for one extracted entity
// mention: exact-name match (merge on hit) or create.
func (r *Resolver) Resolve(ctx context.Context, extracted types.ExtractedEntity, groupID string, now time.Time) (*types.EntityNode, error) {
	existing, err := r.graph.FetchEntityByName(ctx, extracted.Name, groupID)
	if err != nil {
		return nil, types.NewDriverError("Resolve.FetchEntityByName", err)
	}

	if existing == nil {
		return r.create(ctx, extracted, groupID, now)
	}
	return r.merge(ctx, existing, extracted)
}

func (r *Resolver) create(ctx context.Context, extracted types.ExtractedEntity, groupID string, now time.Time) (*types.EntityNode, error) {
	embedding, err := r.embedder.EmbedSingle(ctx, extracted.Summary)
	if err != nil {
		return nil, types.NewEmbedderError("Resolve.create", err)
	}
	uuid := utils.GenerateUUID()
	entityType := extracted.EntityType
	if entityType == "" {
		entityType = types.EntityUnknown
	}
	entity := &types.EntityNode{
		Uuid:             uuid,
		GroupID:          groupID,
		Name:             extracted.Name,
		EntityType:       entityType,
		Summary:          extracted.Summary,
		SummaryEmbedding: embedding,
		CreatedAt:        now,
	}
	if err := r.graph.UpsertEntity(ctx, entity); err != nil {
		return nil, types.NewDriverError("Resolve.create", err)
	}
	return entity, nil
}

// merge performs the summary-merge-on-match: an LLM call proposes a
// merged summary, the result is re-embedded, and entity_type is replaced
// only if the existing value is empty or Unknown.
func (r *Resolver) merge(ctx context.Context, existing *types.EntityNode, extracted types.ExtractedEntity) (*types.EntityNode, error) {
	prompt := fmt.Sprintf(
		"Merge these two summaries of the same entity %q into one concise summary that preserves every fact from both. "+
		"Existing summary: %q. New information: %q.",
		existing.Name, existing.Summary, extracted.Summary)

	var result types.MergeResult
	if err := r.llmc.GenerateStructured(ctx, prompt, types.MergeResult{}, &result); err != nil {
		return nil, types.NewLLMError("Resolve.merge", err)
	}

	embedding, err := r.embedder.EmbedSingle(ctx, result.MergedSummary)
	if err != nil {
		return nil, types.NewEmbedderError("Resolve.merge", err)
	}

	existing.Summary = result.MergedSummary
	existing.SummaryEmbedding = embedding
	if existing.EntityType == "" || existing.EntityType == types.EntityUnknown {
		if extracted.EntityType != "" {
			existing.EntityType = extracted.EntityType
		}
	}

	if err := r.graph.UpsertEntity(ctx, existing); err != nil {
		return nil, types.NewDriverError("Resolve.merge", err)
	}
	return existing, nil
}
