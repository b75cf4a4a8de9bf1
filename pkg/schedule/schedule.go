// Package schedule loads the static placement description that maps
// (pe, timestep) to an expected opcode. The core engine never
// interprets it; renderers use it for expected-vs-actual comparison.
package schedule

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/gridtrace/gridtrace/internal/model"
	gterrors "github.com/gridtrace/gridtrace/pkg/errors"
)

// rawSchedule mirrors the compiler's placement file layout.
type rawSchedule struct {
	ArrayConfig struct {
		Rows int `yaml:"rows"`
		Cols int `yaml:"cols"`
	} `yaml:"array_config"`
	Cores []rawCore `yaml:"cores"`
}

type rawCore struct {
	Row     int        `yaml:"row"`
	Col     int        `yaml:"col"`
	Entries []rawEntry `yaml:"entries"`
}

type rawEntry struct {
	Instructions []rawInstruction `yaml:"instructions"`
}

type rawInstruction struct {
	Timestep   int            `yaml:"timestep"`
	Operations []rawOperation `yaml:"operations"`
}

type rawOperation struct {
	Opcode string `yaml:"opcode"`
}

type slotKey struct {
	pe       model.Coord
	timestep int
}

// Schedule is the loaded placement, queryable by (pe, timestep).
type Schedule struct {
	Rows int
	Cols int

	slots map[slotKey][]string
}

// Load reads a placement file from disk.
func Load(path string) (*Schedule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, gterrors.FileNotFound(path)
	}
	defer f.Close()
	s, err := Parse(f)
	if err != nil {
		return nil, gterrors.Wrap(err, gterrors.CodeScheduleFailed, "schedule load failed").
			WithContext("path", path)
	}
	return s, nil
}

// Parse decodes a placement description from a reader.
func Parse(r io.Reader) (*Schedule, error) {
	var raw rawSchedule
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, gterrors.Wrap(err, gterrors.CodeInvalidFormat, "malformed schedule yaml")
	}

	s := &Schedule{
		Rows:  raw.ArrayConfig.Rows,
		Cols:  raw.ArrayConfig.Cols,
		slots: make(map[slotKey][]string),
	}
	for _, core := range raw.Cores {
		pe := model.Coord{X: core.Col, Y: core.Row}
		for _, entry := range core.Entries {
			for _, inst := range entry.Instructions {
				key := slotKey{pe: pe, timestep: inst.Timestep}
				for _, op := range inst.Operations {
					if op.Opcode != "" {
						s.slots[key] = append(s.slots[key], op.Opcode)
					}
				}
			}
		}
	}
	return s, nil
}

// Expected returns the opcodes scheduled for one PE at one timestep.
func (s *Schedule) Expected(pe model.Coord, timestep int) []string {
	return s.slots[slotKey{pe: pe, timestep: timestep}]
}

// Timesteps returns the sorted set of timesteps scheduled for a PE.
func (s *Schedule) Timesteps(pe model.Coord) []int {
	var steps []int
	for key := range s.slots {
		if key.pe == pe {
			steps = append(steps, key.timestep)
		}
	}
	sort.Ints(steps)
	return steps
}

// Span returns the highest scheduled timestep across all PEs, or -1
// for an empty schedule.
func (s *Schedule) Span() int {
	max := -1
	for key := range s.slots {
		if key.timestep > max {
			max = key.timestep
		}
	}
	return max
}

// Mismatch is one divergence between the schedule and the trace.
type Mismatch struct {
	PE       model.Coord
	Timestep int
	Expected []string
	Actual   string
}

// String renders the mismatch for diagnostic output.
func (m Mismatch) String() string {
	return fmt.Sprintf("PE(%d,%d) t=%d expected %v, saw %q",
		m.PE.X, m.PE.Y, m.Timestep, m.Expected, m.Actual)
}
