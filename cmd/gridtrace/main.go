// GridTrace - Grid simulator trace analysis
// Reconstructs queryable state from cycle-accurate simulator event logs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/analysis"
	"github.com/gridtrace/gridtrace/pkg/config"
	"github.com/gridtrace/gridtrace/pkg/dataflow"
	"github.com/gridtrace/gridtrace/pkg/hooks"
	"github.com/gridtrace/gridtrace/pkg/parser"
	"github.com/gridtrace/gridtrace/pkg/replay"
	"github.com/gridtrace/gridtrace/pkg/schedule"
	"github.com/gridtrace/gridtrace/pkg/server"
	"github.com/gridtrace/gridtrace/pkg/stats"
	"github.com/gridtrace/gridtrace/pkg/telemetry"
	"github.com/gridtrace/gridtrace/pkg/tui"
	"github.com/gridtrace/gridtrace/pkg/watch"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	cycleFlag   int64
	fromFlag    int64
	toFlag      int64
	xFlag       int
	yFlag       int
	linkFlag    string
	channelFlag int
	nodeFlag    string
	tokenFlag   int64
	forwardFlag bool
	depthFlag   int

	scheduleFile string
	offsetFlag   int64

	hostFlag  string
	portFlag  int
	watchFlag bool

	totalCyclesFlag int64
	noProgress      bool
)

var hookManager = hooks.NewHookManager()

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.Errorf("%v", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gridtrace",
	Short: "GridTrace - Query state reconstructed from simulator traces",
	Long: `GridTrace ingests newline-delimited event logs from a cycle-accurate
grid simulator and reconstructs queryable state: per-PE status, link
FIFO occupancy, dataflow provenance, token paths, and utilization.`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var reportCmd = &cobra.Command{
	Use:   "report [trace-file]",
	Short: "Summarize a trace: utilization, backpressure, faults",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var eventsCmd = &cobra.Command{
	Use:   "events [trace-file]",
	Short: "List events at a cycle or for one PE in a cycle range",
	Long: `List events at a cycle or for one PE in a cycle range.

Examples:
  gridtrace events trace.log --cycle 42
  gridtrace events trace.log -x 0 -y 1 --from 0 --to 100`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

var stateCmd = &cobra.Command{
	Use:   "state [trace-file]",
	Short: "Show the merged state of one PE at one cycle",
	Args:  cobra.ExactArgs(1),
	RunE:  runState,
}

var pendingCmd = &cobra.Command{
	Use:   "pending [trace-file]",
	Short: "Show a link's FIFO occupancy at a cycle",
	Long: `Show a link's FIFO occupancy at a cycle.

The link is named by its sending endpoint:
  gridtrace pending trace.log --link "Node[0][1].Core.East" --cycle 42
  gridtrace pending trace.log --link "Driver.NodeWest[2]" --channel 1`,
	Args: cobra.ExactArgs(1),
	RunE: runPending,
}

var traceCmd = &cobra.Command{
	Use:   "trace [trace-file]",
	Short: "Trace datum provenance backward or forward",
	Long: `Trace datum provenance. With --token the exact per-datum path is
used; otherwise the dataflow graph is walked from --node, backward by
default. Graph tracing takes the first-recorded edge at each step and
is approximate when routing is ambiguous.

Examples:
  gridtrace trace trace.log --token 1234
  gridtrace trace trace.log --node "Node[2][3].Core.West" --cycle 42
  gridtrace trace trace.log --node "Driver.NodeWest[0]" --forward`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

var compareCmd = &cobra.Command{
	Use:   "compare [trace-file]",
	Short: "Compare executed opcodes against a static schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompare,
}

var serveCmd = &cobra.Command{
	Use:   "serve [trace-file]",
	Short: "Serve the query API over HTTP",
	Long: `Serve the query API over HTTP. With --watch the trace file is
followed and appended lines are ingested live.`,
	Args: cobra.ExactArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().Int64Var(&totalCyclesFlag, "total-cycles", 0,
		"utilization denominator (0 = infer from trace)")
	rootCmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false,
		"disable the ingest progress bar")

	eventsCmd.Flags().Int64Var(&cycleFlag, "cycle", -1, "cycle to list")
	eventsCmd.Flags().IntVarP(&xFlag, "x", "x", -1, "PE x coordinate")
	eventsCmd.Flags().IntVarP(&yFlag, "y", "y", -1, "PE y coordinate")
	eventsCmd.Flags().Int64Var(&fromFlag, "from", 0, "range start cycle")
	eventsCmd.Flags().Int64Var(&toFlag, "to", -1, "range end cycle (default: last)")

	stateCmd.Flags().IntVarP(&xFlag, "x", "x", 0, "PE x coordinate")
	stateCmd.Flags().IntVarP(&yFlag, "y", "y", 0, "PE y coordinate")
	stateCmd.Flags().Int64Var(&cycleFlag, "cycle", 0, "cycle to inspect")

	pendingCmd.Flags().StringVar(&linkFlag, "link", "", "link origin node path")
	pendingCmd.Flags().IntVar(&channelFlag, "channel", 0, "virtual channel index")
	pendingCmd.Flags().Int64Var(&cycleFlag, "cycle", -1, "cycle to inspect (default: last)")
	pendingCmd.MarkFlagRequired("link")

	traceCmd.Flags().Int64Var(&tokenFlag, "token", -1, "token id to trace exactly")
	traceCmd.Flags().StringVar(&nodeFlag, "node", "", "graph node path to trace from")
	traceCmd.Flags().Int64Var(&cycleFlag, "cycle", -1, "node cycle (default: last occurrence)")
	traceCmd.Flags().BoolVar(&forwardFlag, "forward", false, "trace downstream instead of upstream")
	traceCmd.Flags().IntVar(&depthFlag, "depth", dataflow.DefaultMaxDepth, "maximum hops")

	compareCmd.Flags().StringVar(&scheduleFile, "schedule", "", "placement yaml file")
	compareCmd.Flags().Int64Var(&offsetFlag, "offset", 0, "cycle offset of schedule t=0")
	compareCmd.MarkFlagRequired("schedule")

	serveCmd.Flags().StringVar(&hostFlag, "host", "", "bind host (default from config)")
	serveCmd.Flags().IntVar(&portFlag, "port", 0, "bind port (default from config)")
	serveCmd.Flags().BoolVar(&watchFlag, "watch", false, "follow the trace file for appends")

	rootCmd.AddCommand(reportCmd, eventsCmd, stateCmd, pendingCmd, traceCmd, compareCmd, serveCmd)
}

// loadEngine ingests a trace file into a fresh engine, running the
// registered ingestion hooks around the pass.
func loadEngine(ctx context.Context, path string) (*analysis.Engine, error) {
	cfg := config.Global().Get()

	if cfg.Telemetry.Enabled {
		otlp := telemetry.DefaultOTLPConfig("gridtrace")
		if cfg.Telemetry.Endpoint != "" {
			otlp.Endpoint = cfg.Telemetry.Endpoint
		}
		if shutdown, err := telemetry.InitOTLP(otlp); err == nil {
			defer shutdown(context.Background())
		}
	}

	totalCycles := cfg.Grid.TotalCycles
	if totalCyclesFlag > 0 {
		totalCycles = totalCyclesFlag
	}
	engine := analysis.New(analysis.Options{
		Parser: parser.Config{
			BufferSize:  cfg.Parser.BufferSize,
			MaxLineSize: cfg.Parser.MaxLineSize,
		},
		TotalCycles: totalCycles,
		Hooks:       hookManager,
	})

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	srcInfo := &hooks.SourceInfo{Path: path, SizeBytes: info.Size(), Reader: f}
	ctx, err = hookManager.RunPreIngest(ctx, srcInfo)
	if err != nil {
		return nil, err
	}

	reader := srcInfo.Reader
	if !noProgress {
		reader = tui.IngestBar(reader, info.Size(), "  ingesting")
	}

	start := time.Now()
	ctx, span := telemetry.StartSpanFromContext(ctx, "ingest")
	err = engine.Ingest(ctx, reader)
	if err != nil {
		telemetry.RecordError(ctx, err)
		span.End()
		hookManager.RunError(ctx, err, "ingest")
		return nil, err
	}
	span.End()

	pstats := engine.ParseStats()
	_ = hookManager.RunPostIngest(ctx, &hooks.IngestResult{
		Path:        path,
		EventsKept:  pstats.EventsKept,
		ParseFaults: pstats.ParseFaults,
		Duration:    time.Since(start).Nanoseconds(),
	})
	return engine, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	tui.PrintHeader(version)
	engine, err := loadEngine(ctx, args[0])
	if err != nil {
		return err
	}

	pstats := engine.ParseStats()
	tui.PrintIngestSummary(engine.Store().Len(), engine.Store().MaxCycle(),
		engine.Store().PECount(), pstats.ParseFaults, pstats.MissingCoordinate)

	rep := engine.UtilizationReport()
	tui.PrintUtilization(rep)
	tui.PrintBackpressure(rep)
	fmt.Println()
	tui.PrintFaults(engine.Faults())
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := loadEngine(ctx, args[0])
	if err != nil {
		return err
	}

	var events []*model.Event
	switch {
	case xFlag >= 0 && yFlag >= 0:
		to := toFlag
		if to < 0 {
			to = engine.Store().MaxCycle()
		}
		events = engine.EventsFor(model.Coord{X: xFlag, Y: yFlag}, fromFlag, to)
	case cycleFlag >= 0:
		events = engine.EventsAt(cycleFlag)
	default:
		return fmt.Errorf("either --cycle or both -x and -y are required")
	}

	for _, ev := range events {
		fmt.Println(formatEvent(ev))
	}
	fmt.Printf("%d events\n", len(events))
	return nil
}

func formatEvent(ev *model.Event) string {
	out := fmt.Sprintf("cycle=%-6d %-12s", ev.Cycle, ev.Kind)
	if ev.HasPE {
		out += " " + stats.Key(ev.PE)
	}
	if ev.Opcode != "" {
		out += " op=" + ev.Opcode
	}
	if ev.Behavior != model.BehaviorNone {
		out += " " + ev.Behavior.String()
		if ev.Direction != model.DirNone {
			out += "/" + ev.Direction.String()
		}
	}
	if ev.Payload != "" {
		out += " data=" + ev.Payload
	}
	if ev.HasToken {
		out += " token=" + strconv.FormatInt(ev.TokenID, 10)
	}
	if ev.Reason != "" {
		out += " reason=" + ev.Reason
	}
	return out
}

func runState(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := loadEngine(ctx, args[0])
	if err != nil {
		return err
	}
	tui.PrintState(engine.StateOf(model.Coord{X: xFlag, Y: yFlag}, cycleFlag))
	return nil
}

func runPending(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := loadEngine(ctx, args[0])
	if err != nil {
		return err
	}

	ref, ok := model.ParseNodeRef(linkFlag)
	if !ok {
		return fmt.Errorf("unresolvable link origin %q", linkFlag)
	}
	link := replay.LinkKey{Origin: ref, Direction: ref.Port, Channel: channelFlag}
	if ref.Class == model.NodeDriver {
		link.Direction = ref.Side
	}

	cycle := cycleFlag
	if cycle < 0 {
		cycle = engine.Store().MaxCycle()
	}
	pending := engine.Pending(link, cycle)
	fmt.Printf("  %s @ cycle %d: %d pending\n", link, cycle, len(pending))
	for i, payload := range pending {
		fmt.Printf("    [%d] %s\n", i, payload)
	}
	return nil
}

func runTrace(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := loadEngine(ctx, args[0])
	if err != nil {
		return err
	}

	if tokenFlag >= 0 {
		hops := engine.TokenPath(tokenFlag)
		if hops == nil {
			return fmt.Errorf("token %d not found", tokenFlag)
		}
		path := make([]string, 0, len(hops))
		for _, h := range hops {
			entry := fmt.Sprintf("cycle %d", h.Cycle)
			if h.HasPE {
				entry += " " + stats.Key(h.PE)
			}
			if h.Behavior != model.BehaviorNone {
				entry += " " + h.Behavior.String()
				if h.Direction != model.DirNone {
					entry += "/" + h.Direction.String()
				}
			}
			if h.Payload != "" {
				entry += " data=" + h.Payload
			}
			path = append(path, entry)
		}
		tui.PrintTracePath(path, false)
		return nil
	}

	if nodeFlag == "" {
		return fmt.Errorf("either --token or --node is required")
	}
	node, err := engine.ResolveNode(nodeFlag, cycleFlag)
	if err != nil {
		return err
	}

	var result dataflow.Trace
	if forwardFlag {
		result = engine.ForwardTrace(node, depthFlag)
	} else {
		result = engine.BackwardTrace(node, depthFlag)
	}
	path := make([]string, 0, len(result.Path))
	for _, n := range result.Path {
		path = append(path, n.String())
	}
	tui.PrintTracePath(path, result.Truncated)
	return nil
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := loadEngine(ctx, args[0])
	if err != nil {
		return err
	}
	sched, err := schedule.Load(scheduleFile)
	if err != nil {
		return err
	}

	mismatches := schedule.Compare(sched, engine.Store(), offsetFlag)
	if len(mismatches) == 0 {
		fmt.Println("  ✓ trace matches schedule")
		return nil
	}
	for _, m := range mismatches {
		fmt.Println("  " + m.String())
	}
	return fmt.Errorf("%d schedule mismatches", len(mismatches))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg := config.Global().Get()
	host := cfg.Server.Host
	if hostFlag != "" {
		host = hostFlag
	}
	port := cfg.Server.Port
	if portFlag != 0 {
		port = portFlag
	}

	engine, err := loadEngine(ctx, args[0])
	if err != nil {
		return err
	}

	if watchFlag || cfg.Watch.Enabled {
		follower, err := watch.NewFollower(engine, cfg.Watch.Debounce)
		if err != nil {
			return err
		}
		defer follower.Close()
		// loadEngine already fed the engine the file; pick up from its
		// current size instead of re-ingesting.
		if err := follower.Resume(args[0]); err != nil {
			return err
		}
		follower.OnUpdate = func(path string, appended int64) {
			fmt.Printf("  reloaded %s (+%d bytes), %d events\n",
				path, appended, engine.Store().Len())
		}
		follower.OnError = func(path string, err error) {
			tui.Errorf("watch %s: %v", path, err)
		}
		go follower.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{Addr: addr, Handler: server.NewServer(engine)}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("  serving on http://%s\n", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
