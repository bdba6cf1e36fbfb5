package domain

import "time"

// Pagination defines offset-based paging inputs for list operations.
type Pagination struct {
	Limit  int
	Offset int
}

// Page packages list results together with the window that produced them.
type Page[T any] struct {
	Items   []T
	Limit   int
	Offset  int
	HasMore bool
}

// NextOffset returns the offset of the following page, or -1 when there is none.
func (p Page[T]) NextOffset() int {
	if !p.HasMore {
		return -1
	}
	return p.Offset + len(p.Items)
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Collection is the subset of collection metadata the decision engine consumes.
type Collection struct {
	ID            string
	Name          string
	OwnerID       string
	GroupID       string
	RestaurantIDs []string
}

// IsGroupOwned reports whether the collection belongs to a group rather than a single user.
func (c Collection) IsGroupOwned() bool {
	return c.GroupID != ""
}

// GroupMembership lists the users attached to a group.
type GroupMembership struct {
	GroupID   string
	AdminIDs  []string
	MemberIDs []string
}

// Participants returns the deduplicated union of admins and members, admins first.
func (m GroupMembership) Participants() []string {
	seen := make(map[string]struct{}, len(m.AdminIDs)+len(m.MemberIDs))
	out := make([]string, 0, len(m.AdminIDs)+len(m.MemberIDs))
	for _, list := range [][]string{m.AdminIDs, m.MemberIDs} {
		for _, id := range list {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Health status values reported by readiness probes.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// DependencyHealth describes the outcome of an individual dependency probe.
type DependencyHealth struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// HealthReport aggregates dependency status for readiness endpoints.
type HealthReport struct {
	Status      string
	Checks      map[string]DependencyHealth
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}
