package types

import (
	"time"
)

// Instance is one entry of the directory roster.
type Instance struct {
	Name  string
	Users int
}

// UserCounts builds the read-only name -> user count map for a roster.
// The first occurrence of a repeated name wins.
func UserCounts(roster []Instance) map[string]int {
	m := make(map[string]int, len(roster))
	for _, inst := range roster {
		if _, ok := m[inst.Name]; !ok {
			m[inst.Name] = inst.Users
		}
	}
	return m
}

// ModerationEntry is one row of an instance's published domain-block list.
type ModerationEntry struct {
	Domain   string  `json:"domain"`
	Severity string  `json:"severity"`
	Comment  *string `json:"comment"`
}

// OutcomeKind classifies how a moderation fetch ended
type OutcomeKind string

const (
	OutcomePublished      OutcomeKind = "published"
	OutcomeUnparseable    OutcomeKind = "unparseable"
	OutcomeNotPublished   OutcomeKind = "not_published"
	OutcomeBadStatus      OutcomeKind = "bad_status"
	OutcomeTransportError OutcomeKind = "transport_error"
	OutcomeInvalidDomain  OutcomeKind = "invalid_domain"
	OutcomeSkipped        OutcomeKind = "skipped"
)

// AllOutcomeKinds lists every kind in a stable order.
var AllOutcomeKinds = []OutcomeKind{
	OutcomePublished,
	OutcomeUnparseable,
	OutcomeNotPublished,
	OutcomeBadStatus,
	OutcomeTransportError,
	OutcomeInvalidDomain,
	OutcomeSkipped,
}

// FetchOutcome is the result of polling a single instance. Only
// OutcomePublished carries Public=true; every other kind has no entries.
type FetchOutcome struct {
	Source   string
	Public   bool
	Entries  []ModerationEntry
	Kind     OutcomeKind
	Status   int // HTTP status, 0 when no response was received
	Err      error
	Duration time.Duration
}

// NoData builds the outcome for an instance that contributes nothing.
func NoData(source string, kind OutcomeKind, status int, err error) FetchOutcome {
	return FetchOutcome{
		Source: source,
		Kind:   kind,
		Status: status,
		Err:    err,
	}
}

// GraphNode is an instance that is an endpoint of at least one edge.
type GraphNode struct {
	ID               string `json:"id"`
	Users            int    `json:"users"`
	PublicModeration bool   `json:"public_moderation"`
}

// GraphEdge points from the blocking instance to the blocked one.
type GraphEdge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Severity string  `json:"severity"`
	Comment  *string `json:"comment"`
}

// Graph is the serialized report.
type Graph struct {
	LastUpdated string      `json:"last_updated"`
	Nodes       []GraphNode `json:"nodes"`
	Links       []GraphEdge `json:"links"`
}
