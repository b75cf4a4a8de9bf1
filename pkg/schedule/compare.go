package schedule

import (
	"sort"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/store"
)

// Compare checks the trace against the schedule: for every scheduled
// (pe, timestep) slot, the execution events at cycle = timestep +
// offset must include each expected opcode. The offset absorbs warmup
// cycles before the schedule's t=0. Mismatches come back sorted by
// timestep then PE.
func Compare(s *Schedule, st *store.Store, offset int64) []Mismatch {
	var out []Mismatch

	for key, expected := range s.slots {
		cycle := int64(key.timestep) + offset
		actual := make(map[string]bool)
		var firstSeen string
		for _, ev := range st.KindAt(model.KindExecution, cycle, key.pe) {
			if ev.Opcode == "" {
				continue
			}
			actual[ev.Opcode] = true
			if firstSeen == "" {
				firstSeen = ev.Opcode
			}
		}

		missing := false
		for _, op := range expected {
			if !actual[op] {
				missing = true
				break
			}
		}
		if missing {
			out = append(out, Mismatch{
				PE:       key.pe,
				Timestep: key.timestep,
				Expected: expected,
				Actual:   firstSeen,
			})
		}
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Timestep != out[b].Timestep {
			return out[a].Timestep < out[b].Timestep
		}
		if out[a].PE.Y != out[b].PE.Y {
			return out[a].PE.Y < out[b].PE.Y
		}
		return out[a].PE.X < out[b].PE.X
	})
	return out
}
