package ingestion

import (
	"context"
	"fmt"
	"strings"

	"github.com/soundprediction/tkgengine/pkg/types"
)

var allowedEntityTypes = []types.EntityType{
	types.EntityPerson, types.EntityOrganization, types.EntityLocation,
	types.EntityProduct, types.EntityEvent, types.EntityConcept,
	types.EntityTechnology, types.EntityOther,
}

// extract issues the structured extraction call, then runs a
// bounded reflexion follow-up: a second pass asking the model whether any
// entity or mandatory attribution relation was missed, merging any new
// findings into the result. The reflexion pass never removes anything the
// first pass found.
func (p *Pipeline) extract(ctx context.Context, content string, candidates []*types.EntityNode) (*types.ExtractionResult, error) {
	var result types.ExtractionResult
	if err := p.llmc.GenerateStructured(ctx, buildExtractionPrompt(content, candidates), types.ExtractionResult{}, &result); err != nil {
		return nil, err
	}

	for i := 0; i < maxReflexionIterations; i++ {
		missing := missingMandatoryRelations(result)
		if len(missing) == 0 {
			break
		}
		var followUp types.ExtractionResult
		prompt := buildReflexionPrompt(content, candidates, missing)
		if err := p.llmc.GenerateStructured(ctx, prompt, types.ExtractionResult{}, &followUp); err != nil {
			// Reflexion is best-effort: a failure here does not invalidate
			// the first, already-successful extraction pass.
			break
		}
		result = mergeExtraction(result, followUp)
	}

	return &result, nil
}

func buildExtractionPrompt(content string, candidates []*types.EntityNode) string {
	var sb strings.Builder
	sb.WriteString("Extract entities and relationships from the following text.\n\n")
	fmt.Fprintf(&sb, "Text:\n%s\n\n", content)

	sb.WriteString("Allowed entity_type values: ")
	for i, t := range allowedEntityTypes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(string(t))
	}
	sb.WriteString(".\n\n")

	if len(candidates) > 0 {
		sb.WriteString("Known entities already in the graph — reuse these exact names when the text refers to them:\n")
		for _, c := range candidates {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", c.Name, c.EntityType, c.Summary)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(
		"For every relationship, set temporal_validity to \"current\" unless the text explicitly describes it as " +
		"no longer true, in which case use \"historical\". Set is_negated to true only when the text explicitly " +
		"denies or retracts a relationship that would otherwise be extracted.\n")
	sb.WriteString(
		"Always extract attribution and dedication relationships when present in the text, using these exact " +
		"relation names: NAMED_AFTER, FOUNDED_BY, DESCRIBED_BY, DISCOVERED_BY, DEDICATED_TO. These must never be omitted.\n")
	return sb.String()
}

func buildReflexionPrompt(content string, candidates []*types.EntityNode, missing []string) string {
	var sb strings.Builder
	sb.WriteString("Re-read the following text once more. The previous extraction pass may have missed ")
	sb.WriteString("attribution or dedication relationships. Only return entities/relations not already found, ")
	fmt.Fprintf(&sb, "paying special attention to these relation types if present: %s.\n\n", strings.Join(missing, ", "))
	fmt.Fprintf(&sb, "Text:\n%s\n\n", content)
	if len(candidates) > 0 {
		sb.WriteString("Known entities already in the graph — reuse these exact names:\n")
		for _, c := range candidates {
			fmt.Fprintf(&sb, "- %s (%s)\n", c.Name, c.EntityType)
		}
	}
	return sb.String()
}

// missingMandatoryRelations reports which of the mandatory attribution
// relation names are absent from result, driving whether a reflexion pass
// runs at all.
func missingMandatoryRelations(result types.ExtractionResult) []string {
	seen := make(map[string]bool, len(result.Relations))
	for _, r := range result.Relations {
		seen[r.RelationName] = true
	}
	var missing []string
	for _, name := range mandatoryRelations {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// mergeExtraction folds newly found entities/relations from a reflexion
// pass into the base result, skipping anything already present by name.
func mergeExtraction(base, extra types.ExtractionResult) types.ExtractionResult {
	entityNames := make(map[string]bool, len(base.Entities))
	for _, e := range base.Entities {
		entityNames[e.Name] = true
	}
	for _, e := range extra.Entities {
		if !entityNames[e.Name] {
			base.Entities = append(base.Entities, e)
			entityNames[e.Name] = true
		}
	}

	type relKey struct{ src, tgt, name string }
	relSeen := make(map[relKey]bool, len(base.Relations))
	for _, r := range base.Relations {
		relSeen[relKey{r.SourceName, r.TargetName, r.RelationName}] = true
	}
	for _, r := range extra.Relations {
		key := relKey{r.SourceName, r.TargetName, r.RelationName}
		if !relSeen[key] {
			base.Relations = append(base.Relations, r)
			relSeen[key] = true
		}
	}
	return base
}
