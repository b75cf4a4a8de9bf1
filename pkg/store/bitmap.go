package store

import (
	"github.com/RoaringBitmap/roaring"

	"github.com/gridtrace/gridtrace/internal/model"
)

// Value index column names.
const (
	ColKind      = "kind"
	ColDirection = "direction"
	ColBehavior  = "behavior"
	ColOpcode    = "opcode"
	ColReason    = "reason"
	ColBPType    = "bptype"
)

// ValueIndex maps categorical event attributes to roaring bitmaps of
// arena positions, enabling O(1) value lookups and cheap set algebra
// for multi-attribute filters. It is populated during the generation
// build and immutable afterwards, so reads need no locking.
type ValueIndex struct {
	columns  map[string]map[string]*roaring.Bitmap
	rowCount uint32
}

// NewValueIndex creates an empty index.
func NewValueIndex() *ValueIndex {
	return &ValueIndex{
		columns: make(map[string]map[string]*roaring.Bitmap),
	}
}

// index adds one event's categorical attributes at the given arena
// position. Called only from buildGeneration.
func (idx *ValueIndex) index(ev *model.Event, pos uint32) {
	idx.add(ColKind, ev.Kind.String(), pos)
	if ev.Direction != model.DirNone {
		idx.add(ColDirection, ev.Direction.String(), pos)
	}
	if ev.Behavior != model.BehaviorNone {
		idx.add(ColBehavior, ev.Behavior.String(), pos)
	}
	if ev.Opcode != "" {
		idx.add(ColOpcode, ev.Opcode, pos)
	}
	if ev.Reason != "" {
		idx.add(ColReason, ev.Reason, pos)
	}
	if ev.BPType != "" {
		idx.add(ColBPType, ev.BPType, pos)
	}
	if pos+1 > idx.rowCount {
		idx.rowCount = pos + 1
	}
}

func (idx *ValueIndex) add(column, value string, pos uint32) {
	valMap := idx.columns[column]
	if valMap == nil {
		valMap = make(map[string]*roaring.Bitmap)
		idx.columns[column] = valMap
	}
	bm, ok := valMap[value]
	if !ok {
		bm = roaring.New()
		valMap[value] = bm
	}
	bm.Add(pos)
}

// Lookup returns the bitmap of arena positions where column == value.
// The result is a clone; callers may mutate it freely.
func (idx *ValueIndex) Lookup(column, value string) *roaring.Bitmap {
	if valMap, ok := idx.columns[column]; ok {
		if bm, ok := valMap[value]; ok {
			return bm.Clone()
		}
	}
	return roaring.New()
}

// LookupAnd returns positions matching ALL conditions.
func (idx *ValueIndex) LookupAnd(conditions map[string]string) *roaring.Bitmap {
	var result *roaring.Bitmap
	for col, val := range conditions {
		bm := idx.lookupRef(col, val)
		if result == nil {
			result = bm.Clone()
		} else {
			result.And(bm)
		}
	}
	if result == nil {
		return roaring.New()
	}
	return result
}

// LookupOr returns positions matching ANY condition.
func (idx *ValueIndex) LookupOr(conditions map[string]string) *roaring.Bitmap {
	result := roaring.New()
	for col, val := range conditions {
		result.Or(idx.lookupRef(col, val))
	}
	return result
}

// Cardinality returns the number of distinct values for a column.
func (idx *ValueIndex) Cardinality(column string) int {
	return len(idx.columns[column])
}

// DistinctValues returns all distinct values for a column.
func (idx *ValueIndex) DistinctValues(column string) []string {
	valMap, ok := idx.columns[column]
	if !ok {
		return nil
	}
	values := make([]string, 0, len(valMap))
	for v := range valMap {
		values = append(values, v)
	}
	return values
}

// RowCount returns the number of indexed arena positions.
func (idx *ValueIndex) RowCount() uint32 { return idx.rowCount }

// lookupRef returns the shared bitmap without cloning; internal use
// only, results must not be mutated.
func (idx *ValueIndex) lookupRef(column, value string) *roaring.Bitmap {
	if valMap, ok := idx.columns[column]; ok {
		if bm, ok := valMap[value]; ok {
			return bm
		}
	}
	return roaring.New()
}
