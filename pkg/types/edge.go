package types

import "time"

// EdgeType identifies which edge variant an Edge value holds.
type EdgeType string

const (
	EdgeRelatesTo EdgeType = "RELATES_TO"
	EdgeMentions  EdgeType = "MENTIONS"
	EdgeHasMember EdgeType = "HAS_MEMBER"
)

// Edge is the common header every edge variant satisfies.
type Edge interface {
	UUID() string
	Type() EdgeType
	Group() string
	Source() string
	Target() string
	Created() time.Time
}

// EntityEdge is a RELATES_TO edge between two EntityNodes.
// Invariant: (SourceNodeUUID, TargetNodeUUID, Name) is unique within a
// GroupID. InvalidAt != nil marks the edge historical (past-true).
// DisputedBy != empty means at least one episode contradicts the edge,
// but the edge remains visible.
type EntityEdge struct {
	Uuid           string
	GroupID        string
	SourceNodeUUID string
	TargetNodeUUID string
	Name           string // UPPER_SNAKE_CASE relation label, e.g. WORKS_AT
	FactIDs        []string
	Episodes       []string // episode uuids that introduced/confirmed the edge
	ValidAt        time.Time
	InvalidAt      *time.Time
	ExpiredAt      *time.Time
	DisputedBy     []string
	CreatedAt      time.Time
}

func (e *EntityEdge) UUID() string        { return e.Uuid }
func (e *EntityEdge) Type() EdgeType      { return EdgeRelatesTo }
func (e *EntityEdge) Group() string       { return e.GroupID }
func (e *EntityEdge) Source() string      { return e.SourceNodeUUID }
func (e *EntityEdge) Target() string      { return e.TargetNodeUUID }
func (e *EntityEdge) Created() time.Time  { return e.CreatedAt }

// IsHistorical reports whether the edge is marked past-true.
func (e *EntityEdge) IsHistorical() bool { return e.InvalidAt != nil }

// IsDisputed reports whether any episode contradicts this edge.
func (e *EntityEdge) IsDisputed() bool { return len(e.DisputedBy) > 0 }

// AddEpisode appends an episode uuid to Episodes, deduplicated (the
// episode-list field is set-logically even though stored as an ordered list).
func (e *EntityEdge) AddEpisode(episodeUUID string) {
	for _, id := range e.Episodes {
		if id == episodeUUID {
			return
		}
	}
	e.Episodes = append(e.Episodes, episodeUUID)
}

// AddDisputedBy appends an episode uuid to DisputedBy, deduplicated.
func (e *EntityEdge) AddDisputedBy(episodeUUID string) {
	for _, id := range e.DisputedBy {
		if id == episodeUUID {
			return
		}
	}
	e.DisputedBy = append(e.DisputedBy, episodeUUID)
}

// EpisodicEdge is a MENTIONS edge, episode -> entity.
type EpisodicEdge struct {
	Uuid           string
	GroupID        string
	SourceNodeUUID string // episode
	TargetNodeUUID string // entity
	CreatedAt      time.Time
}

func (e *EpisodicEdge) UUID() string       { return e.Uuid }
func (e *EpisodicEdge) Type() EdgeType     { return EdgeMentions }
func (e *EpisodicEdge) Group() string      { return e.GroupID }
func (e *EpisodicEdge) Source() string     { return e.SourceNodeUUID }
func (e *EpisodicEdge) Target() string     { return e.TargetNodeUUID }
func (e *EpisodicEdge) Created() time.Time { return e.CreatedAt }

// CommunityEdge is a HAS_MEMBER edge, community -> entity.
type CommunityEdge struct {
	Uuid           string
	GroupID        string
	SourceNodeUUID string // community
	TargetNodeUUID string // entity
	Name           string
	Description    *string
	CreatedAt      time.Time
}

func (e *CommunityEdge) UUID() string       { return e.Uuid }
func (e *CommunityEdge) Type() EdgeType     { return EdgeHasMember }
func (e *CommunityEdge) Group() string      { return e.GroupID }
func (e *CommunityEdge) Source() string     { return e.SourceNodeUUID }
func (e *CommunityEdge) Target() string     { return e.TargetNodeUUID }
func (e *CommunityEdge) Created() time.Time { return e.CreatedAt }
