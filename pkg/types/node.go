// Package types defines the bi-temporal knowledge-graph data model: tagged
// node variants (Episodic / Entity / Community), typed edges, and the
// error taxonomy and request/response shapes the rest of the engine
// operates on. Nodes are a tagged sum type — dispatch on label to
// materialise the right variant from driver rows — rather than a single
// catch-all record with optional fields.
package types

import "time"

// NodeLabel identifies which node variant a Node value holds.
type NodeLabel string

const (
	LabelEpisodic  NodeLabel = "Episodic"
	LabelEntity    NodeLabel = "Entity"
	LabelCommunity NodeLabel = "Community"
)

// EntityType enumerates the allowed classifications for an EntityNode.
type EntityType string

const (
	EntityPerson       EntityType = "Person"
	EntityOrganization EntityType = "Organization"
	EntityLocation     EntityType = "Location"
	EntityProduct      EntityType = "Product"
	EntityEvent        EntityType = "Event"
	EntityConcept      EntityType = "Concept"
	EntityTechnology   EntityType = "Technology"
	EntityOther        EntityType = "Other"
	EntityUnknown      EntityType = "Unknown"
)

// EpisodeType enumerates the allowed episode content kinds.
type EpisodeType string

const (
	EpisodeMessage EpisodeType = "message"
	EpisodeJSON    EpisodeType = "json"
	EpisodeText    EpisodeType = "text"
)

// Node is the common header every node variant satisfies, used wherever
// code needs to handle any of the three variants uniformly, e.g. the
// similarity_search label union.
type Node interface {
	UUID() string
	Label() NodeLabel
	Group() string
	Created() time.Time
}

// EpisodicNode is a single ingested observation.
type EpisodicNode struct {
	Uuid            string
	GroupID         string
	Name            string // first 50 chars of Content, display only
	EpisodeType     EpisodeType
	Content         string
	Embedding       []float32
	ValidAt         time.Time
	InvalidAt       *time.Time
	CreatedAt       time.Time
	ReferenceID     *string
	RetroactiveDays int
	DisputedBy      []string
	ConsolidatedAt  *time.Time
}

func (n *EpisodicNode) UUID() string       { return n.Uuid }
func (n *EpisodicNode) Label() NodeLabel   { return LabelEpisodic }
func (n *EpisodicNode) Group() string      { return n.GroupID }
func (n *EpisodicNode) Created() time.Time { return n.CreatedAt }

// DisplayName truncates content to 50 runes for the Name field.
func DisplayName(content string) string {
	r := []rune(content)
	if len(r) <= 50 {
		return string(r)
	}
	return string(r[:50])
}

// RetroactiveDaysOf computes floor((createdAt - validAt) / 86400s), clamped
// to a minimum of 0.
func RetroactiveDaysOf(createdAt, validAt time.Time) int {
	d := int(createdAt.Sub(validAt).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// EntityNode is a resolved real-world entity.
// Invariant: (Name, GroupID) is unique; SummaryEmbedding is kept in sync
// with Summary — both are rewritten together.
type EntityNode struct {
	Uuid             string
	GroupID          string
	Name             string
	EntityType       EntityType
	Summary          string
	SummaryEmbedding []float32
	FactIDs          []string
	CreatedAt        time.Time
	ConsolidatedAt   *time.Time
}

func (n *EntityNode) UUID() string       { return n.Uuid }
func (n *EntityNode) Label() NodeLabel   { return LabelEntity }
func (n *EntityNode) Group() string      { return n.GroupID }
func (n *EntityNode) Created() time.Time { return n.CreatedAt }

// CommunityNode is a cluster of entities produced by sleep Phase 3.
type CommunityNode struct {
	Uuid                     string
	GroupID                  string
	Name                     string
	CommunityLevel           int // 0 = base
	Summary                  string
	SummaryEmbedding         []float32
	MemberEntityIDs          []string
	MemberCount              int
	DomainHints              []string
	ImportanceScore          float64
	EntityCountAtLastRebuild int
	LastFullRebuild          *time.Time
	CreatedAt                time.Time
}

func (n *CommunityNode) UUID() string       { return n.Uuid }
func (n *CommunityNode) Label() NodeLabel   { return LabelCommunity }
func (n *CommunityNode) Group() string      { return n.GroupID }
func (n *CommunityNode) Created() time.Time { return n.CreatedAt }
