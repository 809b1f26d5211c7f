package driver

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/soundprediction/tkgengine/pkg/types"
	"github.com/soundprediction/tkgengine/pkg/utils"
)

// Neo4jDriver implements GraphDriver against a Neo4j database: one
// session per call, MERGE-by-uuid upserts, and embeddings carried as
// JSON-encoded string properties with cosine similarity computed
// application-side after a full fetch.
type Neo4jDriver struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jDriver opens a Neo4j driver against uri with basic auth.
func NewNeo4jDriver(uri, username, password, database string) (*Neo4jDriver, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("driver: neo4j: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jDriver{client: client, database: database}, nil
}

func (d *Neo4jDriver) session(ctx context.Context) neo4j.SessionWithContext {
	return d.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: d.database})
}

func (d *Neo4jDriver) Close(ctx context.Context) error {
	return d.client.Close(ctx)
}

// --- upserts ---

func (d *Neo4jDriver) UpsertEntity(ctx context.Context, n *types.EntityNode) error {
	props, err := entityProps(n)
	if err != nil {
		return types.NewDriverError("UpsertEntity", err)
	}
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (n:Entity {uuid: $uuid, group_id: $group_id})
			SET n += $props
		`, map[string]any{"uuid": n.Uuid, "group_id": n.GroupID, "props": props})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("UpsertEntity", err)
	}
	return nil
}

func (d *Neo4jDriver) UpsertEpisode(ctx context.Context, n *types.EpisodicNode) error {
	props, err := episodeProps(n)
	if err != nil {
		return types.NewDriverError("UpsertEpisode", err)
	}
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (n:Episodic {uuid: $uuid, group_id: $group_id})
			SET n += $props
		`, map[string]any{"uuid": n.Uuid, "group_id": n.GroupID, "props": props})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("UpsertEpisode", err)
	}
	return nil
}

func (d *Neo4jDriver) UpsertCommunity(ctx context.Context, n *types.CommunityNode) error {
	props, err := communityProps(n)
	if err != nil {
		return types.NewDriverError("UpsertCommunity", err)
	}
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MERGE (n:Community {uuid: $uuid, group_id: $group_id})
			SET n += $props
		`, map[string]any{"uuid": n.Uuid, "group_id": n.GroupID, "props": props})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("UpsertCommunity", err)
	}
	return nil
}

func (d *Neo4jDriver) UpsertEntityEdge(ctx context.Context, e *types.EntityEdge) error {
	props, err := entityEdgeProps(e)
	if err != nil {
		return types.NewDriverError("UpsertEntityEdge", err)
	}
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (a {uuid: $src, group_id: $group_id}), (b {uuid: $tgt, group_id: $group_id})
			MERGE (a)-[r:RELATES_TO {uuid: $uuid}]->(b)
			SET r += $props
		`, map[string]any{
			"src": e.SourceNodeUUID, "tgt": e.TargetNodeUUID,
			"uuid": e.Uuid, "group_id": e.GroupID, "props": props,
		})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("UpsertEntityEdge", err)
	}
	return nil
}

func (d *Neo4jDriver) UpsertEpisodicEdge(ctx context.Context, e *types.EpisodicEdge) error {
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (a {uuid: $src, group_id: $group_id}), (b {uuid: $tgt, group_id: $group_id})
			MERGE (a)-[r:MENTIONS {uuid: $uuid}]->(b)
			SET r.group_id = $group_id, r.created_at = $created_at
		`, map[string]any{
			"src": e.SourceNodeUUID, "tgt": e.TargetNodeUUID,
			"uuid": e.Uuid, "group_id": e.GroupID, "created_at": timeOrZero(&e.CreatedAt),
		})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("UpsertEpisodicEdge", err)
	}
	return nil
}

func (d *Neo4jDriver) UpsertCommunityEdge(ctx context.Context, e *types.CommunityEdge) error {
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (a {uuid: $src, group_id: $group_id}), (b {uuid: $tgt, group_id: $group_id})
			MERGE (a)-[r:HAS_MEMBER {uuid: $uuid}]->(b)
			SET r.group_id = $group_id, r.name = $name, r.created_at = $created_at
		`, map[string]any{
			"src": e.SourceNodeUUID, "tgt": e.TargetNodeUUID,
			"uuid": e.Uuid, "group_id": e.GroupID, "name": e.Name, "created_at": timeOrZero(&e.CreatedAt),
		})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("UpsertCommunityEdge", err)
	}
	return nil
}

// --- point lookups ---

func (d *Neo4jDriver) FetchEntityByName(ctx context.Context, name, groupID string) (*types.EntityNode, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n:Entity {name: $name, group_id: $group_id})
			RETURN n
			LIMIT 1
		`, map[string]any{"name": name, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records[0], nil
	})
	if err != nil {
		return nil, types.NewDriverError("FetchEntityByName", err)
	}
	if result == nil {
		return nil, nil
	}
	record := result.(*db.Record)
	nodeValue, _ := record.Get("n")
	dbNode, ok := nodeValue.(dbtype.Node)
	if !ok {
		return nil, nil
	}
	return entityFromProps(dbNode.Props), nil
}

func (d *Neo4jDriver) FetchRelatesToEdge(ctx context.Context, sourceUUID, targetUUID, name, groupID string) (*types.EntityEdge, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a {uuid: $src, group_id: $group_id})-[r:RELATES_TO {name: $name}]->(b {uuid: $tgt, group_id: $group_id})
			RETURN r
			LIMIT 1
		`, map[string]any{"src": sourceUUID, "tgt": targetUUID, "name": name, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records[0], nil
	})
	if err != nil {
		return nil, types.NewDriverError("FetchRelatesToEdge", err)
	}
	if result == nil {
		return nil, nil
	}
	record := result.(*db.Record)
	edgeValue, _ := record.Get("r")
	dbRel, ok := edgeValue.(dbtype.Relationship)
	if !ok {
		return nil, nil
	}
	return entityEdgeFromProps(dbRel.Props, sourceUUID, targetUUID), nil
}

func (d *Neo4jDriver) GetNode(ctx context.Context, uuid, groupID string) (types.Node, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n {uuid: $uuid, group_id: $group_id})
			RETURN n
			LIMIT 1
		`, map[string]any{"uuid": uuid, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records[0], nil
	})
	if err != nil {
		return nil, types.NewDriverError("GetNode", err)
	}
	if result == nil {
		return nil, nil
	}
	record := result.(*db.Record)
	nodeValue, _ := record.Get("n")
	dbNode, ok := nodeValue.(dbtype.Node)
	if !ok {
		return nil, nil
	}
	node, err := materializeNode(dbNode)
	if err != nil {
		return nil, types.NewDriverError("GetNode", err)
	}
	return node, nil
}

func (d *Neo4jDriver) GetEdge(ctx context.Context, uuid, groupID string) (types.Edge, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a)-[r {uuid: $uuid, group_id: $group_id}]->(b)
			RETURN r, type(r) AS rel_type, a.uuid AS src, b.uuid AS tgt
			LIMIT 1
		`, map[string]any{"uuid": uuid, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		records, err := res.Collect(ctx)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			return nil, nil
		}
		return records[0], nil
	})
	if err != nil {
		return nil, types.NewDriverError("GetEdge", err)
	}
	if result == nil {
		return nil, nil
	}
	record := result.(*db.Record)
	edgeValue, _ := record.Get("r")
	dbRel, ok := edgeValue.(dbtype.Relationship)
	if !ok {
		return nil, nil
	}
	relType, _ := record.Get("rel_type")
	srcVal, _ := record.Get("src")
	tgtVal, _ := record.Get("tgt")
	src, _ := srcVal.(string)
	tgt, _ := tgtVal.(string)

	switch relType.(string) {
	case string(types.EdgeRelatesTo):
		return entityEdgeFromProps(dbRel.Props, src, tgt), nil
	case string(types.EdgeMentions):
		return &types.EpisodicEdge{
			Uuid: getString(dbRel.Props, "uuid"), GroupID: getString(dbRel.Props, "group_id"),
			SourceNodeUUID: src, TargetNodeUUID: tgt, CreatedAt: parseTime(getString(dbRel.Props, "created_at")),
		}, nil
	case string(types.EdgeHasMember):
		return &types.CommunityEdge{
			Uuid: getString(dbRel.Props, "uuid"), GroupID: getString(dbRel.Props, "group_id"),
			SourceNodeUUID: src, TargetNodeUUID: tgt, Name: getString(dbRel.Props, "name"),
			CreatedAt: parseTime(getString(dbRel.Props, "created_at")),
		}, nil
	default:
		return nil, types.NewDriverError("GetEdge", fmt.Errorf("unrecognised relationship type %q", relType))
	}
}

// --- deletes ---

func (d *Neo4jDriver) DeleteNode(ctx context.Context, uuid, groupID string) error {
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH (n {uuid: $uuid, group_id: $group_id})
			DETACH DELETE n
		`, map[string]any{"uuid": uuid, "group_id": groupID})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("DeleteNode", err)
	}
	return nil
}

func (d *Neo4jDriver) DeleteEdge(ctx context.Context, uuid, groupID string) error {
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `
			MATCH ()-[r {uuid: $uuid, group_id: $group_id}]->()
			DELETE r
		`, map[string]any{"uuid": uuid, "group_id": groupID})
		return nil, err
	})
	if err != nil {
		return types.NewDriverError("DeleteEdge", err)
	}
	return nil
}

// --- search ---

func (d *Neo4jDriver) SimilaritySearch(ctx context.Context, groupID string, queryEmbedding []float32, labels []types.NodeLabel, limit int, window *DateWindow) ([]types.ScoredNode, error) {
	labelStrs := make([]string, len(labels))
	for i, l := range labels {
		labelStrs[i] = string(l)
	}

	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (n)
			WHERE n.group_id = $group_id AND any(l IN labels(n) WHERE l IN $labels) AND n.embedding IS NOT NULL
			RETURN n, labels(n) AS node_labels
		`, map[string]any{"group_id": groupID, "labels": labelStrs})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, types.NewDriverError("SimilaritySearch", err)
	}

	records := result.([]*db.Record)
	scored := make([]types.ScoredNode, 0, len(records))
	for _, record := range records {
		nodeValue, _ := record.Get("n")
		dbNode, ok := nodeValue.(dbtype.Node)
		if !ok {
			continue
		}
		node, err := materializeNode(dbNode)
		if err != nil {
			continue
		}
		if ep, isEp := node.(*types.EpisodicNode); isEp && window != nil {
			if window.From != nil && ep.ValidAt.Before(*window.From) {
				continue
			}
			if window.To != nil && ep.ValidAt.After(*window.To) {
				continue
			}
		}
		nodeEmbedding := decodeEmbedding(getString(dbNode.Props, "embedding"))
		if nodeEmbedding == nil {
			continue
		}
		score := float64(utils.CosineSimilarity32(queryEmbedding, nodeEmbedding))
		scored = append(scored, types.ScoredNode{Node: node, Score: score})
	}

	if limit <= 0 || len(scored) == 0 {
		return scored, nil
	}
	wrapped := make([]utils.ScoredItem[types.Node], len(scored))
	for i, s := range scored {
		wrapped[i] = utils.ScoredItem[types.Node]{Item: s.Node, Score: s.Score}
	}
	top := utils.TopKByScore(wrapped, limit)
	out := make([]types.ScoredNode, len(top))
	for i, s := range top {
		out[i] = types.ScoredNode{Node: s.Item, Score: s.Score}
	}
	return out, nil
}

func (d *Neo4jDriver) VariableLengthMatch(ctx context.Context, startUUIDs []string, maxHops int, direction types.Direction, groupID string, limit int) ([]*types.EntityNode, error) {
	if len(startUUIDs) == 0 {
		return nil, nil
	}
	var pattern string
	switch direction {
	case types.DirectionOutgoing:
		pattern = "(start)-[:RELATES_TO*1..%d]->(neighbor:Entity)"
	case types.DirectionIncoming:
		pattern = "(start)<-[:RELATES_TO*1..%d]-(neighbor:Entity)"
	default:
		pattern = "(start)-[:RELATES_TO*1..%d]-(neighbor:Entity)"
	}
	query := fmt.Sprintf(`
		MATCH %s
		WHERE start.uuid IN $start_uuids AND start.group_id = $group_id AND neighbor.group_id = $group_id
		RETURN DISTINCT neighbor
		LIMIT $limit
	`, fmt.Sprintf(pattern, maxHops))

	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"start_uuids": startUUIDs, "group_id": groupID, "limit": int64(limit),
		})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, types.NewDriverError("VariableLengthMatch", err)
	}

	records := result.([]*db.Record)
	nodes := make([]*types.EntityNode, 0, len(records))
	for _, record := range records {
		v, _ := record.Get("neighbor")
		dbNode, ok := v.(dbtype.Node)
		if !ok {
			continue
		}
		nodes = append(nodes, entityFromProps(dbNode.Props))
	}
	return nodes, nil
}

func (d *Neo4jDriver) InducedRelatesToEdges(ctx context.Context, nodeUUIDs []string, groupID string) ([]*types.EntityEdge, error) {
	if len(nodeUUIDs) == 0 {
		return nil, nil
	}
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (a)-[r:RELATES_TO]->(b)
			WHERE a.uuid IN $uuids AND b.uuid IN $uuids AND a.group_id = $group_id
			RETURN r, a.uuid AS src, b.uuid AS tgt
		`, map[string]any{"uuids": nodeUUIDs, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, types.NewDriverError("InducedRelatesToEdges", err)
	}

	records := result.([]*db.Record)
	edges := make([]*types.EntityEdge, 0, len(records))
	for _, record := range records {
		v, _ := record.Get("r")
		dbRel, ok := v.(dbtype.Relationship)
		if !ok {
			continue
		}
		srcVal, _ := record.Get("src")
		tgtVal, _ := record.Get("tgt")
		src, _ := srcVal.(string)
		tgt, _ := tgtVal.(string)
		edges = append(edges, entityEdgeFromProps(dbRel.Props, src, tgt))
	}
	return edges, nil
}

func (d *Neo4jDriver) CommunityMembers(ctx context.Context, communityUUIDs []string, groupID string) ([]*types.EntityNode, error) {
	if len(communityUUIDs) == 0 {
		return nil, nil
	}
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (c:Community)-[:HAS_MEMBER]->(m:Entity)
			WHERE c.uuid IN $uuids AND c.group_id = $group_id
			RETURN DISTINCT m
		`, map[string]any{"uuids": communityUUIDs, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, types.NewDriverError("CommunityMembers", err)
	}

	records := result.([]*db.Record)
	nodes := make([]*types.EntityNode, 0, len(records))
	for _, record := range records {
		v, _ := record.Get("m")
		dbNode, ok := v.(dbtype.Node)
		if !ok {
			continue
		}
		nodes = append(nodes, entityFromProps(dbNode.Props))
	}
	return nodes, nil
}

// DeleteOrphanEdges is a no-op for Neo4j: every write path in this driver
// uses DETACH DELETE, so a RELATES_TO/MENTIONS edge can never outlive
// either of its endpoints in the first place.
func (d *Neo4jDriver) DeleteOrphanEdges(ctx context.Context, groupID string) (int, error) {
	return 0, nil
}

func (d *Neo4jDriver) GetEntityNodesByGroup(ctx context.Context, groupID string) ([]*types.EntityNode, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (n:Entity {group_id: $group_id}) RETURN n`, map[string]any{"group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, types.NewDriverError("GetEntityNodesByGroup", err)
	}
	records := result.([]*db.Record)
	nodes := make([]*types.EntityNode, 0, len(records))
	for _, record := range records {
		v, _ := record.Get("n")
		dbNode, ok := v.(dbtype.Node)
		if !ok {
			continue
		}
		nodes = append(nodes, entityFromProps(dbNode.Props))
	}
	return nodes, nil
}

func (d *Neo4jDriver) GetMentioningEpisodes(ctx context.Context, entityUUID, groupID string) ([]*types.EpisodicNode, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (ep:Episodic)-[:MENTIONS]->(e:Entity {uuid: $uuid, group_id: $group_id})
			RETURN ep
		`, map[string]any{"uuid": entityUUID, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, types.NewDriverError("GetMentioningEpisodes", err)
	}
	records := result.([]*db.Record)
	episodes := make([]*types.EpisodicNode, 0, len(records))
	for _, record := range records {
		v, _ := record.Get("ep")
		dbNode, ok := v.(dbtype.Node)
		if !ok {
			continue
		}
		episodes = append(episodes, episodeFromProps(dbNode.Props))
	}
	return episodes, nil
}

func (d *Neo4jDriver) GetActiveRelatesToEdges(ctx context.Context, entityUUID, groupID string, maxOut, maxIn int) ([]*types.EntityEdge, []*types.EntityEdge, error) {
	session := d.session(ctx)
	defer session.Close(ctx)

	fetch := func(query string, limit int) ([]*types.EntityEdge, error) {
		result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, map[string]any{"uuid": entityUUID, "group_id": groupID, "limit": int64(limit)})
			if err != nil {
				return nil, err
			}
			return res.Collect(ctx)
		})
		if err != nil {
			return nil, err
		}
		records := result.([]*db.Record)
		edges := make([]*types.EntityEdge, 0, len(records))
		for _, record := range records {
			v, _ := record.Get("r")
			dbRel, ok := v.(dbtype.Relationship)
			if !ok {
				continue
			}
			srcVal, _ := record.Get("src")
			tgtVal, _ := record.Get("tgt")
			src, _ := srcVal.(string)
			tgt, _ := tgtVal.(string)
			edges = append(edges, entityEdgeFromProps(dbRel.Props, src, tgt))
		}
		return edges, nil
	}

	outgoing, err := fetch(`
		MATCH (e:Entity {uuid: $uuid, group_id: $group_id})-[r:RELATES_TO]->(t)
		WHERE r.invalid_at = ''
		RETURN r, e.uuid AS src, t.uuid AS tgt
		ORDER BY r.created_at DESC
		LIMIT $limit
	`, maxOut)
	if err != nil {
		return nil, nil, types.NewDriverError("GetActiveRelatesToEdges", err)
	}
	incoming, err := fetch(`
		MATCH (s)-[r:RELATES_TO]->(e:Entity {uuid: $uuid, group_id: $group_id})
		WHERE r.invalid_at = ''
		RETURN r, s.uuid AS src, e.uuid AS tgt
		ORDER BY r.created_at DESC
		LIMIT $limit
	`, maxIn)
	if err != nil {
		return nil, nil, types.NewDriverError("GetActiveRelatesToEdges", err)
	}
	return outgoing, incoming, nil
}

func (d *Neo4jDriver) IncidentDegree(ctx context.Context, entityUUID, groupID string) (int, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
			MATCH (e {uuid: $uuid, group_id: $group_id})-[r:RELATES_TO|MENTIONS]-()
			RETURN count(r) AS degree
		`, map[string]any{"uuid": entityUUID, "group_id": groupID})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		return record, nil
	})
	if err != nil {
		return 0, types.NewDriverError("IncidentDegree", err)
	}
	record := result.(*db.Record)
	v, _ := record.Get("degree")
	degree, _ := v.(int64)
	return int(degree), nil
}

func (d *Neo4jDriver) MergeEntities(ctx context.Context, duplicate, canonical *types.EntityNode) error {
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		params := map[string]any{
			"dup": duplicate.Uuid, "canonical": canonical.Uuid, "group_id": duplicate.GroupID,
		}
		// Redirect outgoing RELATES_TO, skipping names the canonical already has to the same target.
		if _, err := tx.Run(ctx, `
			MATCH (d {uuid: $dup, group_id: $group_id})-[r:RELATES_TO]->(t)
			WHERE NOT EXISTS { MATCH (c {uuid: $canonical})-[r2:RELATES_TO {name: r.name}]->(t) }
			MATCH (c {uuid: $canonical, group_id: $group_id})
			CREATE (c)-[r2:RELATES_TO]->(t)
			SET r2 = properties(r)
		`, params); err != nil {
			return nil, err
		}
		// Redirect incoming RELATES_TO.
		if _, err := tx.Run(ctx, `
			MATCH (s)-[r:RELATES_TO]->(d {uuid: $dup, group_id: $group_id})
			WHERE NOT EXISTS { MATCH (s)-[r2:RELATES_TO {name: r.name}]->(c {uuid: $canonical}) }
			MATCH (c {uuid: $canonical, group_id: $group_id})
			CREATE (s)-[r2:RELATES_TO]->(c)
			SET r2 = properties(r)
		`, params); err != nil {
			return nil, err
		}
		// Redirect incoming MENTIONS onto the canonical entity.
		if _, err := tx.Run(ctx, `
			MATCH (ep:Episodic)-[r:MENTIONS]->(d {uuid: $dup, group_id: $group_id})
			WHERE NOT EXISTS { MATCH (ep)-[:MENTIONS]->(c {uuid: $canonical}) }
			MATCH (c {uuid: $canonical, group_id: $group_id})
			CREATE (ep)-[:MENTIONS {uuid: r.uuid, group_id: r.group_id, created_at: r.created_at}]->(c)
		`, params); err != nil {
			return nil, err
		}
		// Drop the duplicate and everything still incident to it.
		if _, err := tx.Run(ctx, `
			MATCH (d {uuid: $dup, group_id: $group_id})
			DETACH DELETE d
		`, params); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return types.NewDriverError("MergeEntities", err)
	}
	return nil
}

func (d *Neo4jDriver) GetCommunities(ctx context.Context, groupID string) ([]*types.CommunityNode, error) {
	session := d.session(ctx)
	defer session.Close(ctx)
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `MATCH (c:Community {group_id: $group_id}) RETURN c`, map[string]any{"group_id": groupID})
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	})
	if err != nil {
		return nil, types.NewDriverError("GetCommunities", err)
	}
	records := result.([]*db.Record)
	communities := make([]*types.CommunityNode, 0, len(records))
	for _, record := range records {
		v, _ := record.Get("c")
		dbNode, ok := v.(dbtype.Node)
		if !ok {
			continue
		}
		communities = append(communities, communityFromProps(dbNode.Props))
	}
	return communities, nil
}

func (d *Neo4jDriver) ReplaceCommunityMembers(ctx context.Context, communityUUID, groupID string, memberUUIDs []string) error {
	session := d.session(ctx)
	defer session.Close(ctx)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (c {uuid: $uuid, group_id: $group_id})-[r:HAS_MEMBER]->()
			DELETE r
		`, map[string]any{"uuid": communityUUID, "group_id": groupID}); err != nil {
			return nil, err
		}
		for _, memberUUID := range memberUUIDs {
			edgeUUID := utils.GenerateUUID()
			if _, err := tx.Run(ctx, `
				MATCH (c {uuid: $community, group_id: $group_id}), (m {uuid: $member, group_id: $group_id})
				CREATE (c)-[r:HAS_MEMBER {uuid: $edge_uuid, group_id: $group_id}]->(m)
			`, map[string]any{
				"community": communityUUID, "member": memberUUID, "group_id": groupID, "edge_uuid": edgeUUID,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return types.NewDriverError("ReplaceCommunityMembers", err)
	}
	return nil
}

var _ GraphDriver = (*Neo4jDriver)(nil)
