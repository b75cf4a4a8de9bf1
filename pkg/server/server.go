// Package server provides the HTTP query API over an analysis engine.
// Every endpoint is a thin serialization of the engine's query surface;
// no analysis logic lives here.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gridtrace/gridtrace/internal/model"
	"github.com/gridtrace/gridtrace/pkg/analysis"
	"github.com/gridtrace/gridtrace/pkg/dataflow"
	gterrors "github.com/gridtrace/gridtrace/pkg/errors"
	"github.com/gridtrace/gridtrace/pkg/parser"
	"github.com/gridtrace/gridtrace/pkg/replay"
	"github.com/gridtrace/gridtrace/pkg/stats"
)

// Server handles HTTP requests against one engine.
type Server struct {
	engine *analysis.Engine
	mux    *http.ServeMux
}

// NewServer creates a new HTTP server over the engine.
func NewServer(engine *analysis.Engine) *Server {
	s := &Server{
		engine: engine,
		mux:    http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures HTTP handlers.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/state", s.handleState)
	s.mux.HandleFunc("/api/pending", s.handlePending)
	s.mux.HandleFunc("/api/links", s.handleLinks)
	s.mux.HandleFunc("/api/trace/backward", s.handleBackwardTrace)
	s.mux.HandleFunc("/api/trace/forward", s.handleForwardTrace)
	s.mux.HandleFunc("/api/token", s.handleToken)
	s.mux.HandleFunc("/api/utilization", s.handleUtilization)
	s.mux.HandleFunc("/api/backpressure", s.handleBackpressure)
	s.mux.HandleFunc("/api/faults", s.handleFaults)
	s.mux.HandleFunc("/api/stats", s.handleStats)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// CORS headers for dashboard development
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	s.mux.ServeHTTP(w, r)
}

// eventJSON is the wire shape of one event.
type eventJSON struct {
	Cycle     int64  `json:"cycle"`
	X         *int   `json:"x,omitempty"`
	Y         *int   `json:"y,omitempty"`
	Kind      string `json:"kind"`
	Opcode    string `json:"opcode,omitempty"`
	Direction string `json:"direction,omitempty"`
	Behavior  string `json:"behavior,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Predicate bool   `json:"predicate"`
	Channel   int    `json:"channel"`
	Reason    string `json:"reason,omitempty"`
	BPType    string `json:"bp_type,omitempty"`
	TokenID   *int64 `json:"token_id,omitempty"`
	Origin    string `json:"origin,omitempty"`
	Dest      string `json:"dest,omitempty"`
}

func toEventJSON(ev *model.Event) eventJSON {
	out := eventJSON{
		Cycle:     ev.Cycle,
		Kind:      ev.Kind.String(),
		Opcode:    ev.Opcode,
		Direction: ev.Direction.String(),
		Behavior:  ev.Behavior.String(),
		Payload:   ev.Payload,
		Predicate: ev.Predicate,
		Channel:   ev.Channel,
		Reason:    ev.Reason,
		BPType:    ev.BPType,
		Origin:    ev.Origin.String(),
		Dest:      ev.Dest.String(),
	}
	if ev.HasPE {
		x, y := ev.PE.X, ev.PE.Y
		out.X, out.Y = &x, &y
	}
	if ev.HasToken {
		tok := ev.TokenID
		out.TokenID = &tok
	}
	return out
}

// handleEvents serves /api/events?cycle=N or ?x=&y=&from=&to=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	var events []*model.Event
	switch {
	case q.Get("x") != "" && q.Get("y") != "":
		pe, ok := peParam(q.Get("x"), q.Get("y"))
		if !ok {
			jsonError(w, "invalid pe coordinates", http.StatusBadRequest)
			return
		}
		from := int64Param(q.Get("from"), 0)
		to := int64Param(q.Get("to"), s.engine.Store().MaxCycle())
		events = s.engine.EventsFor(pe, from, to)
	case q.Get("cycle") != "":
		events = s.engine.EventsAt(int64Param(q.Get("cycle"), 0))
	default:
		jsonError(w, "cycle or pe coordinates required", http.StatusBadRequest)
		return
	}

	out := make([]eventJSON, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventJSON(ev))
	}
	jsonResponse(w, map[string]interface{}{"events": out, "count": len(out)})
}

// handleState serves /api/state?x=&y=&cycle=.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pe, ok := peParam(q.Get("x"), q.Get("y"))
	if !ok {
		jsonError(w, "invalid pe coordinates", http.StatusBadRequest)
		return
	}
	cycle := int64Param(q.Get("cycle"), 0)

	snap := s.engine.StateOf(pe, cycle)
	jsonResponse(w, map[string]interface{}{
		"pe":            stats.Key(pe),
		"cycle":         snap.Cycle,
		"status":        snap.Status.String(),
		"active_opcode": snap.ActiveOpcode,
		"sends":         directionMap(snap.Sends),
		"receives":      directionMap(snap.Receives),
		"causes":        snap.Causes,
	})
}

// handlePending serves /api/pending?link=Node[r][c].Core.Dir&channel=&cycle=.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref, ok := model.ParseNodeRef(q.Get("link"))
	if !ok {
		jsonError(w, "unresolvable link origin", http.StatusBadRequest)
		return
	}
	link := replay.LinkKey{
		Origin:    ref,
		Direction: ref.Port,
		Channel:   parser.ParseChannel(q.Get("channel")),
	}
	if ref.Class == model.NodeDriver {
		link.Direction = ref.Side
	}
	cycle := int64Param(q.Get("cycle"), s.engine.Store().MaxCycle())

	pending := s.engine.Pending(link, cycle)
	jsonResponse(w, map[string]interface{}{
		"link":    link.String(),
		"cycle":   cycle,
		"pending": pending,
		"depth":   len(pending),
	})
}

// handleLinks serves /api/links.
func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	links := s.engine.Links()
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.String())
	}
	jsonResponse(w, map[string]interface{}{"links": out, "count": len(out)})
}

func (s *Server) handleBackwardTrace(w http.ResponseWriter, r *http.Request) {
	s.handleTrace(w, r, true)
}

func (s *Server) handleForwardTrace(w http.ResponseWriter, r *http.Request) {
	s.handleTrace(w, r, false)
}

// handleTrace serves /api/trace/{backward,forward}?node=&cycle=&depth=.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request, backward bool) {
	q := r.URL.Query()
	cycle := int64Param(q.Get("cycle"), -1)

	node, err := s.engine.ResolveNode(q.Get("node"), cycle)
	if err != nil {
		status := http.StatusBadRequest
		if gterrors.IsCode(err, gterrors.CodeNotFound) {
			status = http.StatusNotFound
		}
		jsonError(w, err.Error(), status)
		return
	}

	depth := int(int64Param(q.Get("depth"), dataflow.DefaultMaxDepth))
	var trace dataflow.Trace
	if backward {
		trace = s.engine.BackwardTrace(node, depth)
	} else {
		trace = s.engine.ForwardTrace(node, depth)
	}

	path := make([]string, 0, len(trace.Path))
	for _, n := range trace.Path {
		path = append(path, n.String())
	}
	jsonResponse(w, map[string]interface{}{
		"path":      path,
		"truncated": trace.Truncated,
	})
}

// handleToken serves /api/token?id=N.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		jsonError(w, "invalid token id", http.StatusBadRequest)
		return
	}
	hops := s.engine.TokenPath(id)
	if hops == nil {
		jsonError(w, "token not found", http.StatusNotFound)
		return
	}

	type hopJSON struct {
		Cycle     int64  `json:"cycle"`
		PE        string `json:"pe,omitempty"`
		Behavior  string `json:"behavior,omitempty"`
		Direction string `json:"direction,omitempty"`
		Payload   string `json:"payload,omitempty"`
	}
	out := make([]hopJSON, 0, len(hops))
	for _, h := range hops {
		hj := hopJSON{
			Cycle:     h.Cycle,
			Behavior:  h.Behavior.String(),
			Direction: h.Direction.String(),
			Payload:   h.Payload,
		}
		if h.HasPE {
			hj.PE = stats.Key(h.PE)
		}
		out = append(out, hj)
	}
	jsonResponse(w, map[string]interface{}{"token_id": id, "hops": out})
}

// handleUtilization serves /api/utilization.
func (s *Server) handleUtilization(w http.ResponseWriter, r *http.Request) {
	rep := s.engine.UtilizationReport()
	out := make(map[string]float64, len(rep.PEs))
	for _, u := range rep.PEs {
		out[stats.Key(u.PE)] = u.Utilization
	}
	jsonResponse(w, map[string]interface{}{
		"total_cycles": rep.TotalCycles,
		"utilization":  out,
	})
}

// handleBackpressure serves /api/backpressure.
func (s *Server) handleBackpressure(w http.ResponseWriter, r *http.Request) {
	rep := s.engine.UtilizationReport()
	rates := make(map[string]float64, len(rep.PEs))
	for _, u := range rep.PEs {
		rates[stats.Key(u.PE)] = u.BackpressureRate
	}
	jsonResponse(w, map[string]interface{}{
		"total_cycles": rep.TotalCycles,
		"rates":        rates,
		"reasons":      rep.Reasons,
		"types":        rep.Types,
	})
}

// handleFaults serves /api/faults.
func (s *Server) handleFaults(w http.ResponseWriter, r *http.Request) {
	faults := s.engine.Faults()
	type faultJSON struct {
		Cycle int64  `json:"cycle"`
		Link  string `json:"link"`
		Seq   int    `json:"seq"`
	}
	out := make([]faultJSON, 0, len(faults))
	for _, f := range faults {
		out = append(out, faultJSON{Cycle: f.Cycle, Link: f.Link.String(), Seq: f.Seq})
	}
	jsonResponse(w, map[string]interface{}{"faults": out, "count": len(out)})
}

// handleStats serves /api/stats: ingestion counters and trace extent.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.engine.ParseStats()
	gw, gh := s.engine.Store().GridSize()
	jsonResponse(w, map[string]interface{}{
		"events":             s.engine.Store().Len(),
		"max_cycle":          s.engine.Store().MaxCycle(),
		"pe_count":           s.engine.Store().PECount(),
		"grid":               map[string]int{"width": gw, "height": gh},
		"lines_read":         st.LinesRead,
		"parse_faults":       st.ParseFaults,
		"missing_coordinate": st.MissingCoordinate,
	})
}

func peParam(xs, ys string) (model.Coord, bool) {
	x, errX := strconv.Atoi(xs)
	y, errY := strconv.Atoi(ys)
	if errX != nil || errY != nil {
		return model.Coord{}, false
	}
	return model.Coord{X: x, Y: y}, true
}

func int64Param(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func directionMap(m map[model.Direction]string) map[string]string {
	if len(m) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(m))
	for d, v := range m {
		out[d.String()] = v
	}
	return out
}

func jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
