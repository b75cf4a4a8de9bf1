// Package stats aggregates per-PE utilization and backpressure figures
// from a completed event store. Reports are built in one linear pass
// and recomputed from scratch on demand, never updated incrementally.
package stats

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/store"
)

// PEUtilization is the activity summary of one processing element.
type PEUtilization struct {
	PE model.Coord

	// ActiveCycles and BlockedCycles count distinct cycles, never
	// events. A PE sending and receiving in the same cycle is active
	// for one cycle.
	ActiveCycles  int64
	BlockedCycles int64

	// Utilization and BackpressureRate are percentages in [0, 100].
	Utilization      float64
	BackpressureRate float64

	// PortActive counts distinct active cycles per port direction.
	PortActive map[model.Direction]int64
}

// Report is the full aggregation result.
type Report struct {
	TotalCycles int64
	PEs         []PEUtilization

	// Reasons and Types are trace-wide backpressure histograms,
	// counted per event.
	Reasons map[string]int64
	Types   map[string]int64
}

// Key renders the conventional report key for a PE.
func Key(pe model.Coord) string {
	return fmt.Sprintf("PE(%d,%d)", pe.X, pe.Y)
}

// Utilization returns the percentage for a named PE, or 0 when the PE
// never appears.
func (r *Report) Utilization(pe model.Coord) float64 {
	for i := range r.PEs {
		if r.PEs[i].PE == pe {
			return r.PEs[i].Utilization
		}
	}
	return 0
}

// peCycles keys bitmaps by the full 64-bit cycle number so late-trace
// cycles never collide with early ones.
type peCycles struct {
	active  *roaring64.Bitmap
	blocked *roaring64.Bitmap
	ports   map[model.Direction]*roaring64.Bitmap
}

// Aggregate runs the single pass. totalCycles <= 0 derives the span
// from the trace itself (max cycle + 1); an empty store reports zero
// percentages rather than an error.
func Aggregate(st *store.Store, totalCycles int64) *Report {
	if totalCycles <= 0 {
		totalCycles = st.MaxCycle() + 1
	}

	rep := &Report{
		TotalCycles: totalCycles,
		Reasons:     make(map[string]int64),
		Types:       make(map[string]int64),
	}

	perPE := make(map[model.Coord]*peCycles)
	lookup := func(pe model.Coord) *peCycles {
		pc := perPE[pe]
		if pc == nil {
			pc = &peCycles{
				active:  roaring64.New(),
				blocked: roaring64.New(),
				ports:   make(map[model.Direction]*roaring64.Bitmap),
			}
			perPE[pe] = pc
		}
		return pc
	}

	for _, ev := range st.Events() {
		if ev.Kind == model.KindBackpressure {
			if ev.Reason != "" {
				rep.Reasons[ev.Reason]++
			}
			if ev.BPType != "" {
				rep.Types[ev.BPType]++
			}
		}
		if !ev.HasPE {
			continue
		}
		cycle := uint64(ev.Cycle)
		switch {
		case ev.Kind == model.KindBackpressure:
			lookup(ev.PE).blocked.Add(cycle)
		case ev.Active():
			pc := lookup(ev.PE)
			pc.active.Add(cycle)
			if ev.Kind == model.KindDataFlow && ev.Direction != model.DirNone {
				bm := pc.ports[ev.Direction]
				if bm == nil {
					bm = roaring64.New()
					pc.ports[ev.Direction] = bm
				}
				bm.Add(cycle)
			}
		}
	}

	for pe, pc := range perPE {
		u := PEUtilization{
			PE:            pe,
			ActiveCycles:  int64(pc.active.GetCardinality()),
			BlockedCycles: int64(pc.blocked.GetCardinality()),
		}
		u.Utilization = percentage(u.ActiveCycles, totalCycles)
		u.BackpressureRate = percentage(u.BlockedCycles, totalCycles)
		if len(pc.ports) > 0 {
			u.PortActive = make(map[model.Direction]int64, len(pc.ports))
			for dir, bm := range pc.ports {
				u.PortActive[dir] = int64(bm.GetCardinality())
			}
		}
		rep.PEs = append(rep.PEs, u)
	}

	sort.Slice(rep.PEs, func(a, b int) bool {
		if rep.PEs[a].PE.Y != rep.PEs[b].PE.Y {
			return rep.PEs[a].PE.Y < rep.PEs[b].PE.Y
		}
		return rep.PEs[a].PE.X < rep.PEs[b].PE.X
	})
	return rep
}

// percentage caps at 100 so duplicate-heavy traces cannot report
// impossible figures.
func percentage(count, total int64) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(count) / float64(total) * 100
	if p > 100 {
		return 100
	}
	return p
}
