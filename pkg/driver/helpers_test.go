package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/soundprediction/tkgengine/pkg/types"
)

func TestEntityPropsRoundTrip(t *testing.T) {
	consolidated := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entity := &types.EntityNode{
		Uuid:             "e1",
		GroupID:          "g1",
		Name:             "Alice",
		EntityType:       types.EntityPerson,
		Summary:          "A person named Alice.",
		SummaryEmbedding: []float32{0.1, 0.2, 0.3},
		FactIDs:          []string{"f1", "f2"},
		CreatedAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		ConsolidatedAt:   &consolidated,
	}

	props, err := entityProps(entity)
	assert.NoError(t, err)

	got := entityFromProps(props)
	assert.Equal(t, entity.Uuid, got.Uuid)
	assert.Equal(t, entity.Name, got.Name)
	assert.Equal(t, entity.EntityType, got.EntityType)
	assert.Equal(t, entity.FactIDs, got.FactIDs)
	assert.InDeltaSlice(t, entity.SummaryEmbedding, got.SummaryEmbedding, 1e-6)
	assert.True(t, entity.CreatedAt.Equal(got.CreatedAt))
	assert.NotNil(t, got.ConsolidatedAt)
	assert.True(t, consolidated.Equal(*got.ConsolidatedAt))
}

func TestEntityPropsNilConsolidated(t *testing.T) {
	entity := &types.EntityNode{Uuid: "e2", GroupID: "g1", Name: "Bob", CreatedAt: time.Now()}
	props, err := entityProps(entity)
	assert.NoError(t, err)
	got := entityFromProps(props)
	assert.Nil(t, got.ConsolidatedAt)
}

func TestEpisodePropsRoundTrip(t *testing.T) {
	refID := "ref-123"
	invalid := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	ep := &types.EpisodicNode{
		Uuid:            "ep1",
		GroupID:         "g1",
		Name:            "Alice met Bob",
		EpisodeType:     types.EpisodeMessage,
		Content:         "Alice met Bob at the cafe.",
		Embedding:       []float32{0.5, 0.5},
		ValidAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		InvalidAt:       &invalid,
		CreatedAt:       time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		ReferenceID:     &refID,
		RetroactiveDays: 1,
		DisputedBy:      []string{"ep2"},
	}

	props, err := episodeProps(ep)
	assert.NoError(t, err)
	got := episodeFromProps(props)

	assert.Equal(t, ep.Uuid, got.Uuid)
	assert.Equal(t, ep.Content, got.Content)
	assert.Equal(t, ep.RetroactiveDays, got.RetroactiveDays)
	assert.Equal(t, ep.DisputedBy, got.DisputedBy)
	assert.NotNil(t, got.ReferenceID)
	assert.Equal(t, *ep.ReferenceID, *got.ReferenceID)
	assert.NotNil(t, got.InvalidAt)
	assert.True(t, invalid.Equal(*got.InvalidAt))
}

func TestEntityEdgePropsRoundTrip(t *testing.T) {
	edge := &types.EntityEdge{
		Uuid:           "rel1",
		GroupID:        "g1",
		SourceNodeUUID: "e1",
		TargetNodeUUID: "e2",
		Name:           "WORKS_AT",
		FactIDs:        []string{"f1"},
		Episodes:       []string{"ep1", "ep2"},
		ValidAt:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	props, err := entityEdgeProps(edge)
	assert.NoError(t, err)
	got := entityEdgeFromProps(props, edge.SourceNodeUUID, edge.TargetNodeUUID)

	assert.Equal(t, edge.Uuid, got.Uuid)
	assert.Equal(t, edge.Name, got.Name)
	assert.Equal(t, edge.Episodes, got.Episodes)
	assert.False(t, got.IsHistorical())
}

func TestDecodeEmbeddingEmptyString(t *testing.T) {
	assert.Nil(t, decodeEmbedding(""))
}
