package moderation

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrInvalidStage is returned for stage numbers below 1 or defined twice.
var ErrInvalidStage = errors.New("moderation: invalid stage")

// DefaultWarning is shown when a stage does not define its own warning.
const DefaultWarning = "&c请文明聊天!"

// Stage is the response configured for a violation count.
type Stage struct {
	Number   int      `json:"number"`
	Commands []string `json:"commands"`
	Warning  string   `json:"warning"`
}

// StageTable maps stage numbers to stages. The zero value is an empty table
// that never resolves to a stage.
type StageTable struct {
	stages map[int]Stage
	max    int
}

// NewStageTable validates and copies stages into a table.
func NewStageTable(stages ...Stage) (StageTable, error) {
	t := StageTable{stages: make(map[int]Stage, len(stages))}
	for _, s := range stages {
		if s.Number < 1 {
			return StageTable{}, fmt.Errorf("%w: %d is not positive", ErrInvalidStage, s.Number)
		}
		if _, dup := t.stages[s.Number]; dup {
			return StageTable{}, fmt.Errorf("%w: %d defined twice", ErrInvalidStage, s.Number)
		}
		s.Commands = slices.Clone(s.Commands)
		t.stages[s.Number] = s
		t.max = max(t.max, s.Number)
	}
	return t, nil
}

// Lookup returns the stage with the exact number n.
func (t StageTable) Lookup(n int) (Stage, bool) {
	s, ok := t.stages[n]
	if !ok {
		return Stage{}, false
	}
	s.Commands = slices.Clone(s.Commands)
	return s, true
}

func (t StageTable) Len() int { return len(t.stages) }

// Max returns the highest configured stage number, or 0 for an empty table.
func (t StageTable) Max() int { return t.max }

// Numbers returns the configured stage numbers in ascending order.
func (t StageTable) Numbers() []int {
	return slices.Sorted(maps.Keys(t.stages))
}

// Stages returns copies of every stage in ascending order.
func (t StageTable) Stages() []Stage {
	out := make([]Stage, 0, len(t.stages))
	for _, n := range t.Numbers() {
		s, _ := t.Lookup(n)
		out = append(out, s)
	}
	return out
}

// ResolveStage returns the highest configured stage number that is not above
// count, or 0 when there is none. Counts past the last stage stay on it.
func ResolveStage(count int, table StageTable) int {
	for n := min(count, table.max); n >= 1; n-- {
		if _, ok := table.stages[n]; ok {
			return n
		}
	}
	return 0
}
