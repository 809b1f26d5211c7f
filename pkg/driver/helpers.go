package driver

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/soundprediction/tkgengine/pkg/types"
)

// Embeddings are stored as JSON-encoded strings on node/edge properties
// rather than native vector properties. This keeps the property bag
// uniform across providers that don't have a native vector type, at the
// cost of doing cosine similarity application-side after a full fetch
// (see SimilaritySearch).

func encodeEmbedding(v []float32) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEmbedding(s string) []float32 {
	if s == "" {
		return nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func encodeStringSlice(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeStringSlice(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

func timeOrZero(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func getString(props map[string]interface{}, key string) string {
	if v, ok := props[key].(string); ok {
		return v
	}
	return ""
}

func getFloat64(props map[string]interface{}, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

func getOptionalString(props map[string]interface{}, key string) *string {
	v := getString(props, key)
	if v == "" {
		return nil
	}
	return &v
}

// entityProps serialises an EntityNode into a Cypher property map.
func entityProps(n *types.EntityNode) (map[string]interface{}, error) {
	emb, err := encodeEmbedding(n.SummaryEmbedding)
	if err != nil {
		return nil, err
	}
	facts, err := encodeStringSlice(n.FactIDs)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"uuid": n.Uuid,
		"group_id": n.GroupID,
		"name": n.Name,
		"entity_type": string(n.EntityType),
		"summary": n.Summary,
		"embedding": emb,
		"fact_ids": facts,
		"created_at": timeOrZero(&n.CreatedAt),
		"consolidated_at": timeOrZero(n.ConsolidatedAt),
	}, nil
}

func entityFromProps(props map[string]interface{}) *types.EntityNode {
	consolidated := getOptionalString(props, "consolidated_at")
	return &types.EntityNode{
		Uuid: getString(props, "uuid"),
		GroupID: getString(props, "group_id"),
		Name: getString(props, "name"),
		EntityType: types.EntityType(getString(props, "entity_type")),
		Summary: getString(props, "summary"),
		SummaryEmbedding: decodeEmbedding(getString(props, "embedding")),
		FactIDs: decodeStringSlice(getString(props, "fact_ids")),
		CreatedAt: parseTime(getString(props, "created_at")),
		ConsolidatedAt: parseOptionalTime(derefOr(consolidated)),
	}
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func episodeProps(n *types.EpisodicNode) (map[string]interface{}, error) {
	emb, err := encodeEmbedding(n.Embedding)
	if err != nil {
		return nil, err
	}
	disputed, err := encodeStringSlice(n.DisputedBy)
	if err != nil {
		return nil, err
	}
	refID := ""
	if n.ReferenceID != nil {
		refID = *n.ReferenceID
	}
	return map[string]interface{}{
		"uuid": n.Uuid,
		"group_id": n.GroupID,
		"name": n.Name,
		"episode_type": string(n.EpisodeType),
		"content": n.Content,
		"embedding": emb,
		"valid_at": timeOrZero(&n.ValidAt),
		"invalid_at": timeOrZero(n.InvalidAt),
		"created_at": timeOrZero(&n.CreatedAt),
		"reference_id": refID,
		"retroactive_days": n.RetroactiveDays,
		"disputed_by": disputed,
		"consolidated_at": timeOrZero(n.ConsolidatedAt),
	}, nil
}

func episodeFromProps(props map[string]interface{}) *types.EpisodicNode {
	return &types.EpisodicNode{
		Uuid: getString(props, "uuid"),
		GroupID: getString(props, "group_id"),
		Name: getString(props, "name"),
		EpisodeType: types.EpisodeType(getString(props, "episode_type")),
		Content: getString(props, "content"),
		Embedding: decodeEmbedding(getString(props, "embedding")),
		ValidAt: parseTime(getString(props, "valid_at")),
		InvalidAt: parseOptionalTime(getString(props, "invalid_at")),
		CreatedAt: parseTime(getString(props, "created_at")),
		ReferenceID: getOptionalString(props, "reference_id"),
		RetroactiveDays: int(getFloat64(props, "retroactive_days")),
		DisputedBy: decodeStringSlice(getString(props, "disputed_by")),
		ConsolidatedAt: parseOptionalTime(getString(props, "consolidated_at")),
	}
}

func communityProps(n *types.CommunityNode) (map[string]interface{}, error) {
	emb, err := encodeEmbedding(n.SummaryEmbedding)
	if err != nil {
		return nil, err
	}
	members, err := encodeStringSlice(n.MemberEntityIDs)
	if err != nil {
		return nil, err
	}
	hints, err := encodeStringSlice(n.DomainHints)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"uuid": n.Uuid,
		"group_id": n.GroupID,
		"name": n.Name,
		"community_level": n.CommunityLevel,
		"summary": n.Summary,
		"embedding": emb,
		"member_entity_ids": members,
		"member_count": n.MemberCount,
		"domain_hints": hints,
		"importance_score": n.ImportanceScore,
		"entity_count_at_last_rebuild": n.EntityCountAtLastRebuild,
		"last_full_rebuild": timeOrZero(n.LastFullRebuild),
		"created_at": timeOrZero(&n.CreatedAt),
	}, nil
}

func communityFromProps(props map[string]interface{}) *types.CommunityNode {
	return &types.CommunityNode{
		Uuid: getString(props, "uuid"),
		GroupID: getString(props, "group_id"),
		Name: getString(props, "name"),
		CommunityLevel: int(getFloat64(props, "community_level")),
		Summary: getString(props, "summary"),
		SummaryEmbedding: decodeEmbedding(getString(props, "embedding")),
		MemberEntityIDs: decodeStringSlice(getString(props, "member_entity_ids")),
		MemberCount: int(getFloat64(props, "member_count")),
		DomainHints: decodeStringSlice(getString(props, "domain_hints")),
		ImportanceScore: getFloat64(props, "importance_score"),
		EntityCountAtLastRebuild: int(getFloat64(props, "entity_count_at_last_rebuild")),
		LastFullRebuild: parseOptionalTime(getString(props, "last_full_rebuild")),
		CreatedAt: parseTime(getString(props, "created_at")),
	}
}

func entityEdgeProps(e *types.EntityEdge) (map[string]interface{}, error) {
	facts, err := encodeStringSlice(e.FactIDs)
	if err != nil {
		return nil, err
	}
	episodes, err := encodeStringSlice(e.Episodes)
	if err != nil {
		return nil, err
	}
	disputed, err := encodeStringSlice(e.DisputedBy)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"uuid": e.Uuid,
		"group_id": e.GroupID,
		"name": e.Name,
		"fact_ids": facts,
		"episodes": episodes,
		"valid_at": timeOrZero(&e.ValidAt),
		"invalid_at": timeOrZero(e.InvalidAt),
		"expired_at": timeOrZero(e.ExpiredAt),
		"disputed_by": disputed,
		"created_at": timeOrZero(&e.CreatedAt),
	}, nil
}

func entityEdgeFromProps(props map[string]interface{}, sourceUUID, targetUUID string) *types.EntityEdge {
	return &types.EntityEdge{
		Uuid: getString(props, "uuid"),
		GroupID: getString(props, "group_id"),
		SourceNodeUUID: sourceUUID,
		TargetNodeUUID: targetUUID,
		Name: getString(props, "name"),
		FactIDs: decodeStringSlice(getString(props, "fact_ids")),
		Episodes: decodeStringSlice(getString(props, "episodes")),
		ValidAt: parseTime(getString(props, "valid_at")),
		InvalidAt: parseOptionalTime(getString(props, "invalid_at")),
		ExpiredAt: parseOptionalTime(getString(props, "expired_at")),
		DisputedBy: decodeStringSlice(getString(props, "disputed_by")),
		CreatedAt: parseTime(getString(props, "created_at")),
	}
}

// nodeLabelSet turns a dbtype.Node's []string labels into a set for
// membership checks.
func nodeLabelSet(labels []string) map[string]bool {
	m := make(map[string]bool, len(labels))
	for _, l := range labels {
		m[l] = true
	}
	return m
}

// materializeNode dispatches on the Entity/Episodic/Community label to
// build the right tagged Node variant from a dbtype.Node's properties.
func materializeNode(dbNode dbtype.Node) (types.Node, error) {
	labels := nodeLabelSet(dbNode.Labels)
	props := dbNode.Props
	switch {
	case labels["Entity"]:
		return entityFromProps(props), nil
	case labels["Episodic"]:
		return episodeFromProps(props), nil
	case labels["Community"]:
		return communityFromProps(props), nil
	default:
		return nil, fmt.Errorf("driver: node %v has no recognised label", dbNode.Labels)
	}
}
