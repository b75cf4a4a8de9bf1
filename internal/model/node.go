package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NodeClass distinguishes the two endpoint types a link can connect.
type NodeClass uint8

const (
	NodeNone NodeClass = iota
	// NodeTile is a processing element inside the grid.
	NodeTile
	// NodeDriver is a boundary driver feeding or collecting data at
	// the edge of the grid.
	NodeDriver
)

// NodeRef is a resolved reference to a link endpoint: either a grid
// tile port or a boundary driver. The zero value means "absent".
//
// Canonical text forms:
//
//	Node[row][col].Core.<Direction>   tile port
//	Node[row][col].Core               tile, port unspecified
//	Driver.Node<Direction>[index]     boundary driver
type NodeRef struct {
	Class NodeClass

	// Row and Col locate a tile. For drivers, Index is the position
	// along the grid edge named by Side.
	Row   int
	Col   int
	Port  Direction
	Side  Direction
	Index int
}

// IsZero reports whether the reference is absent.
func (n NodeRef) IsZero() bool { return n.Class == NodeNone }

// Tile returns a tile node reference.
func Tile(row, col int, port Direction) NodeRef {
	return NodeRef{Class: NodeTile, Row: row, Col: col, Port: port}
}

// Driver returns a boundary driver node reference.
func Driver(side Direction, index int) NodeRef {
	return NodeRef{Class: NodeDriver, Side: side, Index: index}
}

// Coord returns the grid coordinate of a tile reference. Row indexes
// the vertical axis (Y), Col the horizontal (X). Drivers have no
// coordinate.
func (n NodeRef) Coord() (Coord, bool) {
	if n.Class != NodeTile {
		return Coord{}, false
	}
	return Coord{X: n.Col, Y: n.Row}, true
}

// String renders the canonical text form.
func (n NodeRef) String() string {
	switch n.Class {
	case NodeTile:
		if n.Port == DirNone {
			return fmt.Sprintf("Node[%d][%d].Core", n.Row, n.Col)
		}
		return fmt.Sprintf("Node[%d][%d].Core.%s", n.Row, n.Col, n.Port)
	case NodeDriver:
		return fmt.Sprintf("Driver.Node%s[%d]", n.Side, n.Index)
	default:
		return ""
	}
}

var (
	tileRefRe   = regexp.MustCompile(`Node\[(\d+)\]\[(\d+)\]\.Core(?:\.(\w+))?`)
	driverRefRe = regexp.MustCompile(`Driver\.Node(North|South|East|West)\[(\d+)\]`)
)

// ParseNodeRef resolves the first node reference in s, tile or driver.
// The boolean result is false when s contains no reference.
func ParseNodeRef(s string) (NodeRef, bool) {
	tileLoc := tileRefRe.FindStringSubmatchIndex(s)
	driverLoc := driverRefRe.FindStringSubmatchIndex(s)

	// Both grammars can appear in one route string; take whichever
	// starts first.
	switch {
	case tileLoc != nil && (driverLoc == nil || tileLoc[0] < driverLoc[0]):
		m := tileRefRe.FindStringSubmatch(s[tileLoc[0]:tileLoc[1]])
		row, _ := strconv.Atoi(m[1])
		col, _ := strconv.Atoi(m[2])
		return Tile(row, col, ParseDirection(m[3])), true
	case driverLoc != nil:
		m := driverRefRe.FindStringSubmatch(s[driverLoc[0]:driverLoc[1]])
		idx, _ := strconv.Atoi(m[2])
		return Driver(ParseDirection(m[1]), idx), true
	default:
		return NodeRef{}, false
	}
}

// ParseRoute splits an "origin->dest" route string into its two
// endpoint references. Either side may be absent.
func ParseRoute(s string) (origin, dest NodeRef) {
	if i := strings.Index(s, "->"); i >= 0 {
		origin, _ = ParseNodeRef(s[:i])
		dest, _ = ParseNodeRef(s[i+2:])
		return origin, dest
	}
	origin, _ = ParseNodeRef(s)
	return origin, NodeRef{}
}
