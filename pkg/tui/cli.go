// Package tui renders engine query results for the terminal.
// Simple, streaming, no complex TUI - just clean styled output.
package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/replay"
	"github.com/gridtrace/gridtrace/pkg/stats"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warning = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warning)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader renders the tool banner.
func PrintHeader(version string) {
	fmt.Println()
	fmt.Println(titleStyle.Render("  GRIDTRACE") + mutedStyle.Render(" v"+version))
	fmt.Println(mutedStyle.Render("  Grid simulator trace analysis"))
	fmt.Println()
}

// IngestBar wraps a reader with a byte progress bar for bulk loads.
func IngestBar(r io.Reader, size int64, label string) io.Reader {
	bar := progressbar.DefaultBytes(size, label)
	return io.TeeReader(r, bar)
}

// PrintIngestSummary renders post-load counters.
func PrintIngestSummary(events int, maxCycle int64, peCount int, parseFaults, missingCoord int64) {
	fmt.Println()
	fmt.Println(mutedStyle.Render(rule))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Events:"), titleStyle.Render(fmt.Sprintf("%d", events)))
	fmt.Printf("  %s %s\n", mutedStyle.Render("Cycles:"), titleStyle.Render(fmt.Sprintf("0..%d", maxCycle)))
	fmt.Printf("  %s %s\n", mutedStyle.Render("PEs:"), titleStyle.Render(fmt.Sprintf("%d", peCount)))
	if parseFaults > 0 || missingCoord > 0 {
		fmt.Printf("  %s %s\n", mutedStyle.Render("Faults:"),
			warnStyle.Render(fmt.Sprintf("%d parse, %d missing coordinate", parseFaults, missingCoord)))
	}
	fmt.Println(mutedStyle.Render(rule))
}

// PrintState renders one PE snapshot.
func PrintState(snap *replay.Snapshot) {
	status := snap.Status.String()
	switch snap.Status {
	case replay.Blocked:
		status = accentStyle.Render(status)
	case replay.Executing:
		status = successStyle.Render(status)
	default:
		status = mutedStyle.Render(status)
	}

	fmt.Printf("  %s @ cycle %d: %s\n", stats.Key(snap.PE), snap.Cycle, status)
	if snap.ActiveOpcode != "" {
		fmt.Printf("    %s %s\n", mutedStyle.Render("opcode:"), snap.ActiveOpcode)
	}
	printPorts("sends", snap.Sends, snap.Squashed)
	printPorts("receives", snap.Receives, snap.Squashed)
	for _, c := range snap.Causes {
		line := c.Reason
		if c.Type != "" {
			line = c.Type + ": " + line
		}
		fmt.Printf("    %s %s\n", accentStyle.Render("blocked:"), line)
	}
}

func printPorts(label string, ports map[model.Direction]string, squashed map[model.Direction]bool) {
	if len(ports) == 0 {
		return
	}
	dirs := make([]model.Direction, 0, len(ports))
	for d := range ports {
		dirs = append(dirs, d)
	}
	sort.Slice(dirs, func(a, b int) bool { return dirs[a] < dirs[b] })

	parts := make([]string, 0, len(dirs))
	for _, d := range dirs {
		p := fmt.Sprintf("%s=%s", d, ports[d])
		if squashed[d] {
			p += mutedStyle.Render(" (pred=0)")
		}
		parts = append(parts, p)
	}
	fmt.Printf("    %s %s\n", mutedStyle.Render(label+":"), strings.Join(parts, "  "))
}

// PrintUtilization renders the per-PE report as an aligned table.
func PrintUtilization(rep *stats.Report) {
	fmt.Println()
	fmt.Println(accentStyle.Render("▸ UTILIZATION") +
		mutedStyle.Render(fmt.Sprintf("  (%d cycles)", rep.TotalCycles)))
	fmt.Println()
	fmt.Printf("  %-12s %10s %10s %8s %8s\n",
		mutedStyle.Render("PE"), mutedStyle.Render("active"), mutedStyle.Render("blocked"),
		mutedStyle.Render("util%"), mutedStyle.Render("bp%"))
	for _, u := range rep.PEs {
		util := fmt.Sprintf("%.1f", u.Utilization)
		if u.Utilization >= 75 {
			util = successStyle.Render(util)
		}
		bp := fmt.Sprintf("%.1f", u.BackpressureRate)
		if u.BackpressureRate >= 25 {
			bp = accentStyle.Render(bp)
		}
		fmt.Printf("  %-12s %10d %10d %8s %8s\n",
			stats.Key(u.PE), u.ActiveCycles, u.BlockedCycles, util, bp)
	}
}

// PrintBackpressure renders the stall histograms.
func PrintBackpressure(rep *stats.Report) {
	if len(rep.Reasons) == 0 && len(rep.Types) == 0 {
		fmt.Println(mutedStyle.Render("  No backpressure recorded."))
		return
	}
	fmt.Println()
	fmt.Println(accentStyle.Render("▸ BACKPRESSURE"))
	printHistogram("by reason", rep.Reasons)
	printHistogram("by type", rep.Types)
}

func printHistogram(label string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if counts[keys[a]] != counts[keys[b]] {
			return counts[keys[a]] > counts[keys[b]]
		}
		return keys[a] < keys[b]
	})

	fmt.Println(mutedStyle.Render("  " + label))
	for _, k := range keys {
		fmt.Printf("    %8d  %s\n", counts[k], k)
	}
}

// PrintFaults renders FIFO integrity errors.
func PrintFaults(faults []replay.IntegrityError) {
	if len(faults) == 0 {
		fmt.Println(successStyle.Render("  ✓ No integrity faults."))
		return
	}
	fmt.Println(accentStyle.Render(fmt.Sprintf("  ✗ %d integrity faults", len(faults))))
	for _, f := range faults {
		fmt.Printf("    #%d cycle %d: pop from empty %s\n", f.Seq, f.Cycle, f.Link)
	}
}

// PrintTracePath renders a provenance path one hop per line.
func PrintTracePath(path []string, truncated bool) {
	for i, node := range path {
		prefix := "  "
		if i > 0 {
			prefix = mutedStyle.Render("  → ")
		}
		fmt.Println(prefix + node)
	}
	if truncated {
		fmt.Println(warnStyle.Render("  (truncated: depth limit or cycle detected)"))
	}
}

// Errorf prints a styled error line to stderr.
func Errorf(format string, args ...interface{}) {
	fmt.Fprintln(os.Stderr, accentStyle.Render("  ✗ "+fmt.Sprintf(format, args...)))
}
