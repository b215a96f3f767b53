// Package trajectory tracks who worked where: per-assignee chronological
// ticket histories, cluster ownership, and the three-phase work story with
// theme shifts and strategy alignment.
package trajectory

import (
	"errors"
	"sort"
	"time"
)

// ErrNoData is returned by Story for an assignee with no ticket history.
var ErrNoData = errors.New("no ticket history for assignee")

// Ticket is one assignee's ticket with its cluster placement. Resolved
// marks whether the ticket was actually delivered; only resolved tickets
// count toward cluster ownership.
type Ticket struct {
	Key      string
	Assignee string
	Cluster  string
	Theme    string
	When     time.Time
	Resolved bool
}

// Owner is an assignee's footprint in a single cluster.
type Owner struct {
	Assignee string    `json:"assignee"`
	Count    int       `json:"count"`
	Last     time.Time `json:"last"`
}

// Tracker indexes ticket history by assignee and by cluster. It is built
// once per snapshot and read concurrently.
type Tracker struct {
	byAssignee map[string][]Ticket
	byCluster  map[string][]Owner
}

// New builds a tracker from the given tickets. Per-assignee histories are
// kept in chronological order and include unresolved tickets; the ownership
// stats count resolved tickets only. Ticket order in the input does not
// matter.
func New(tickets []Ticket) *Tracker {
	byAssignee := make(map[string][]Ticket)
	for _, tk := range tickets {
		if tk.Assignee == "" {
			continue
		}
		byAssignee[tk.Assignee] = append(byAssignee[tk.Assignee], tk)
	}
	for a := range byAssignee {
		h := byAssignee[a]
		sort.SliceStable(h, func(i, j int) bool { return h[i].When.Before(h[j].When) })
	}

	type stat struct {
		count int
		last  time.Time
	}
	perCluster := make(map[string]map[string]*stat)
	for _, tk := range tickets {
		if tk.Assignee == "" || tk.Cluster == "" || !tk.Resolved {
			continue
		}
		m := perCluster[tk.Cluster]
		if m == nil {
			m = make(map[string]*stat)
			perCluster[tk.Cluster] = m
		}
		s := m[tk.Assignee]
		if s == nil {
			s = &stat{}
			m[tk.Assignee] = s
		}
		s.count++
		if tk.When.After(s.last) {
			s.last = tk.When
		}
	}
	byCluster := make(map[string][]Owner, len(perCluster))
	for label, m := range perCluster {
		owners := make([]Owner, 0, len(m))
		for a, s := range m {
			owners = append(owners, Owner{Assignee: a, Count: s.count, Last: s.last})
		}
		sort.Slice(owners, func(i, j int) bool {
			if owners[i].Count != owners[j].Count {
				return owners[i].Count > owners[j].Count
			}
			if !owners[i].Last.Equal(owners[j].Last) {
				return owners[i].Last.After(owners[j].Last)
			}
			return owners[i].Assignee < owners[j].Assignee
		})
		byCluster[label] = owners
	}

	return &Tracker{byAssignee: byAssignee, byCluster: byCluster}
}

// Assignees returns all known assignees, sorted.
func (t *Tracker) Assignees() []string {
	out := make([]string, 0, len(t.byAssignee))
	for a := range t.byAssignee {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// History returns the assignee's tickets in chronological order. The slice
// aliases the tracker and must not be modified.
func (t *Tracker) History(assignee string) []Ticket {
	return t.byAssignee[assignee]
}

// ClusterOwners returns the assignees who resolved tickets in the cluster,
// ranked by count, then recency, then name.
func (t *Tracker) ClusterOwners(label string) []Owner {
	return t.byCluster[label]
}
