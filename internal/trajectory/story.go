package trajectory

import (
	"sort"

	"github.com/kalambet/tasklens/internal/strategy"
)

// Phase is one contiguous chunk of an assignee's history: its tickets, the
// theme-frequency histogram, the dominant theme, and how much of the
// movement inside the phase followed the strategy direction.
type Phase struct {
	Name        string           `json:"name"`
	Keys        []string         `json:"keys"`
	Themes      []strategy.Theme `json:"themes"`
	TopTheme    string           `json:"top_theme"`
	AlignedPct  float64          `json:"aligned_pct"`
	Transitions int              `json:"transitions"`
}

// Shift is a change of dominant theme between adjacent phases.
type Shift struct {
	After string `json:"after"` // phase the shift happened after
	From  string `json:"from"`
	To    string `json:"to"`
}

// Story is an assignee's work narrative: early/middle/recent phases, theme
// shifts between them, and the overall share of cluster-to-cluster
// movement that followed the strategy direction.
type Story struct {
	Assignee    string  `json:"assignee"`
	Phases      []Phase `json:"phases"`
	Shifts      []Shift `json:"shifts"`
	AlignedPct  float64 `json:"aligned_pct"`
	Transitions int     `json:"transitions"`
}

// StoryConfig supplies the context a story needs from the rest of the
// snapshot: cluster centroid lookup, the strategy vector, and the alignment
// threshold. CentroidFor may be nil, in which case alignment is skipped.
type StoryConfig struct {
	CentroidFor    func(label string) ([]float32, bool)
	StrategyVector []float32
	AlignThreshold float64
	NoiseLabel     string
}

// Story builds the work story for one assignee. History is split into
// three chronological phases of sizes n/3, n/3, and the remainder; with
// fewer than three tickets only the trailing phases exist. A transition
// counts toward alignment when two consecutive tickets sit in different,
// known, non-noise clusters and the centroid delta is nonzero.
func (t *Tracker) Story(assignee string, cfg StoryConfig) (*Story, error) {
	history := t.byAssignee[assignee]
	if len(history) == 0 {
		return nil, ErrNoData
	}

	story := &Story{Assignee: assignee}
	for _, chunk := range phases(history) {
		aligned, total := alignment(chunk.tickets, cfg)
		p := Phase{
			Name:        chunk.name,
			Keys:        keysOf(chunk.tickets),
			Themes:      histogram(chunk.tickets),
			Transitions: total,
		}
		if len(p.Themes) > 0 {
			p.TopTheme = p.Themes[0].Name
		}
		if total > 0 {
			p.AlignedPct = 100 * float64(aligned) / float64(total)
		}
		story.Phases = append(story.Phases, p)
	}

	for i := 1; i < len(story.Phases); i++ {
		prev, cur := story.Phases[i-1], story.Phases[i]
		if prev.TopTheme != cur.TopTheme {
			story.Shifts = append(story.Shifts, Shift{After: prev.Name, From: prev.TopTheme, To: cur.TopTheme})
		}
	}

	aligned, total := alignment(history, cfg)
	story.Transitions = total
	if total > 0 {
		story.AlignedPct = 100 * float64(aligned) / float64(total)
	}
	return story, nil
}

// alignment counts the scorable adjacent-step transitions in tickets and
// how many of them exceed the alignment threshold.
func alignment(tickets []Ticket, cfg StoryConfig) (aligned, total int) {
	if cfg.CentroidFor == nil || len(cfg.StrategyVector) == 0 {
		return 0, 0
	}
	for i := 1; i < len(tickets); i++ {
		a, b := tickets[i-1], tickets[i]
		if a.Cluster == b.Cluster || a.Cluster == cfg.NoiseLabel || b.Cluster == cfg.NoiseLabel {
			continue
		}
		from, ok := cfg.CentroidFor(a.Cluster)
		if !ok {
			continue
		}
		to, ok := cfg.CentroidFor(b.Cluster)
		if !ok {
			continue
		}
		score, ok := strategy.Alignment(from, to, cfg.StrategyVector)
		if !ok {
			continue
		}
		total++
		if float64(score) > cfg.AlignThreshold {
			aligned++
		}
	}
	return aligned, total
}

var phaseNames = [3]string{"early", "middle", "recent"}

type phaseChunk struct {
	name    string
	tickets []Ticket
}

// phases splits a chronological history into early/middle/recent thirds,
// remainder in the recent phase. Empty leading phases are dropped.
func phases(history []Ticket) []phaseChunk {
	n := len(history)
	sizes := [3]int{n / 3, n / 3, n - 2*(n/3)}
	out := make([]phaseChunk, 0, 3)
	start := 0
	for i, size := range sizes {
		if size == 0 {
			continue
		}
		out = append(out, phaseChunk{name: phaseNames[i], tickets: history[start : start+size]})
		start += size
	}
	return out
}

func keysOf(tickets []Ticket) []string {
	keys := make([]string, len(tickets))
	for i, tk := range tickets {
		keys[i] = tk.Key
	}
	return keys
}

// histogram counts themes in the chunk, most frequent first, ties broken by
// name. Tickets without a theme fall back to their cluster label.
func histogram(tickets []Ticket) []strategy.Theme {
	counts := make(map[string]int)
	for _, tk := range tickets {
		theme := tk.Theme
		if theme == "" {
			theme = tk.Cluster
		}
		if theme == "" {
			continue
		}
		counts[theme]++
	}
	out := make([]strategy.Theme, 0, len(counts))
	for name, c := range counts {
		out = append(out, strategy.Theme{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
