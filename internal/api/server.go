// Package api serves the statistics tables over HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"NetSpectraTables/internal/direction"
	"NetSpectraTables/internal/display"
	"NetSpectraTables/internal/engine/manager"
	"NetSpectraTables/internal/factory"
	"NetSpectraTables/internal/geoexport"
	"NetSpectraTables/internal/query"
	"NetSpectraTables/internal/sorting"
	"NetSpectraTables/internal/store"
	"NetSpectraTables/internal/timeline"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Tables is the part of the manager the handlers need.
type Tables interface {
	Tables() []*factory.TableSet
	Table(name string) (*factory.TableSet, error)
	Reset()
}

// Options carry the optional collaborators of the API.
type Options struct {
	Formatter *display.Formatter
	Exporter  *geoexport.Exporter
	// Querier serves the snapshot history. Nil disables the history routes.
	Querier     query.Querier
	Gatherer    prometheus.Gatherer
	MetricsPath string
	// RequestsPerSecond and Burst limit each client. Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
	Logger            *zap.SugaredLogger
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	tables    Tables
	formatter *display.Formatter
	exporter  *geoexport.Exporter
	querier   query.Querier
	logger    *zap.SugaredLogger
}

// NewRouter builds the HTTP routes.
func NewRouter(tables Tables, opts Options) *mux.Router {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Formatter == nil {
		opts.Formatter = &display.Formatter{Resolver: sorting.NumericResolver{}}
	}
	if opts.Exporter == nil {
		opts.Exporter = geoexport.NewExporter(geoexport.Options{}, logger)
	}
	h := &APIHandler{
		tables:    tables,
		formatter: opts.Formatter,
		exporter:  opts.Exporter,
		querier:   opts.Querier,
		logger:    logger,
	}

	r := mux.NewRouter()
	r.Use(h.logRequests)
	if opts.RequestsPerSecond > 0 {
		r.Use(rateLimit(opts.RequestsPerSecond, opts.Burst))
	}

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/tables", h.listTablesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{name}/conversations", h.conversationsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{name}/conversations/{index:[0-9]+}/timeline", h.timelineHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{name}/conversations/{index:[0-9]+}/filter", h.filterHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{name}/endpoints", h.endpointsHandler).Methods(http.MethodGet)
	v1.HandleFunc("/tables/{name}/map", h.mapHandler).Methods(http.MethodGet)
	v1.HandleFunc("/reset", h.resetHandler).Methods(http.MethodPost)
	v1.HandleFunc("/history", h.summariesHandler).Methods(http.MethodGet)
	v1.HandleFunc("/history/{name}", h.historyHandler).Methods(http.MethodGet)

	if opts.Gatherer != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (h *APIHandler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debugw("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

type tableInfo struct {
	Name               string `json:"name"`
	Protocol           string `json:"protocol"`
	ConversationsTitle string `json:"conversations_title"`
	EndpointsTitle     string `json:"endpoints_title"`
	Conversations      int    `json:"conversations"`
	Endpoints          int    `json:"endpoints"`
	HasPorts           bool   `json:"has_ports"`
	HasGeoData         bool   `json:"has_geo_data"`
}

type row struct {
	Index      int      `json:"index"`
	Generation uint64   `json:"generation"`
	Cells      []string `json:"cells"`
	CanFollow  bool     `json:"can_follow,omitempty"`
	CanGraph   bool     `json:"can_graph,omitempty"`
}

// rowsResponse carries the table generation the row indexes belong to. The
// per-row routes take it back as the gen parameter.
type rowsResponse struct {
	Title      string   `json:"title"`
	Sort       string   `json:"sort"`
	Generation uint64   `json:"generation"`
	Columns    []string `json:"columns"`
	Keys       []string `json:"keys"`
	Rows       []row    `json:"rows"`
}

type timelineResponse struct {
	Index    int                `json:"index"`
	Column   string             `json:"column"`
	Geometry *timeline.Geometry `json:"geometry"`
}

type filterResponse struct {
	Index     int    `json:"index"`
	Direction string `json:"direction"`
	Filter    string `json:"filter"`
}

// listTablesHandler lists every table with its title and size.
func (h *APIHandler) listTablesHandler(w http.ResponseWriter, r *http.Request) {
	sets := h.tables.Tables()
	out := make([]tableInfo, 0, len(sets))
	for _, set := range sets {
		out = append(out, tableInfo{
			Name:               set.Name,
			Protocol:           set.Conversations.Protocol(),
			ConversationsTitle: set.Conversations.Title(),
			EndpointsTitle:     set.Endpoints.Title(),
			Conversations:      set.Conversations.Len(),
			Endpoints:          set.Endpoints.Len(),
			HasPorts:           set.Conversations.HasPorts(),
			HasGeoData:         set.Endpoints.HasGeoData(),
		})
	}
	h.writeJSON(w, http.StatusOK, out)
}

// conversationsHandler returns the sorted, rendered conversation rows.
// Query parameters: sort, desc, resolve, limit.
func (h *APIHandler) conversationsHandler(w http.ResponseWriter, r *http.Request) {
	set, ok := h.tableSet(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	col := sorting.ConvBytes
	if key := q.Get("sort"); key != "" {
		c, err := sorting.ParseConversationColumn(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		col = c
	}
	desc, resolve, limit, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f := *h.formatter
	f.ResolveNames = resolve
	t := set.Conversations
	cols := t.Columns()
	resp := rowsResponse{Title: t.Title(), Sort: col.Key(), Generation: t.Generation(), Rows: []row{}}
	for _, c := range cols {
		resp.Columns = append(resp.Columns, c.Title(f.AbsoluteStart))
		resp.Keys = append(resp.Keys, c.Key())
	}
	handles := truncate(t.Sorted(col, resolve, desc), limit)
	if len(handles) > 0 {
		resp.Generation = handles[0].Generation()
	}
	for _, hd := range handles {
		rec, err := t.Record(hd)
		if err != nil {
			// Reset between sorting and reading.
			continue
		}
		resp.Rows = append(resp.Rows, row{
			Index:      hd.Index(),
			Generation: hd.Generation(),
			Cells:      f.ConversationRow(cols, &rec),
			CanFollow:  t.CanFollow(hd),
			CanGraph:   t.CanGraph(hd),
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// endpointsHandler returns the sorted, rendered endpoint rows.
func (h *APIHandler) endpointsHandler(w http.ResponseWriter, r *http.Request) {
	set, ok := h.tableSet(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	col := sorting.EndpBytes
	if key := q.Get("sort"); key != "" {
		c, err := sorting.ParseEndpointColumn(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		col = c
	}
	desc, resolve, limit, err := listParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f := *h.formatter
	f.ResolveNames = resolve
	t := set.Endpoints
	cols := t.Columns()
	resp := rowsResponse{Title: t.Title(), Sort: col.Key(), Generation: t.Generation(), Rows: []row{}}
	for _, c := range cols {
		resp.Columns = append(resp.Columns, c.Title())
		resp.Keys = append(resp.Keys, c.Key())
	}
	handles := truncate(t.Sorted(col, resolve, desc), limit)
	if len(handles) > 0 {
		resp.Generation = handles[0].Generation()
	}
	for _, hd := range handles {
		rec, err := t.Record(hd)
		if err != nil {
			continue
		}
		resp.Rows = append(resp.Rows, row{Index: hd.Index(), Generation: hd.Generation(), Cells: f.EndpointRow(cols, &rec)})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// timelineHandler returns the bar of one conversation for the start or
// duration column. Query parameters: gen, w1, w2, column.
func (h *APIHandler) timelineHandler(w http.ResponseWriter, r *http.Request) {
	set, ok := h.tableSet(w, r)
	if !ok {
		return
	}
	hd, ok := h.handle(w, r, set)
	if !ok {
		return
	}
	q := r.URL.Query()
	w1, err1 := strconv.ParseFloat(q.Get("w1"), 64)
	w2, err2 := strconv.ParseFloat(q.Get("w2"), 64)
	if err := errors.Join(err1, err2); err != nil {
		http.Error(w, fmt.Sprintf("w1 and w2 must be numbers: %v", err), http.StatusBadRequest)
		return
	}
	col, name := timeline.StartColumn, "start"
	switch q.Get("column") {
	case "", "start":
	case "duration":
		col, name = timeline.DurationColumn, "duration"
	default:
		http.Error(w, "column must be start or duration", http.StatusBadRequest)
		return
	}

	g, drawn, err := set.Conversations.Timeline(hd, w1, w2, col)
	if err != nil {
		h.handleError(w, err)
		return
	}
	resp := timelineResponse{Index: hd.Index(), Column: name}
	if drawn {
		resp.Geometry = &g
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// filterHandler builds a display filter for one conversation.
func (h *APIHandler) filterHandler(w http.ResponseWriter, r *http.Request) {
	set, ok := h.tableSet(w, r)
	if !ok {
		return
	}
	hd, ok := h.handle(w, r, set)
	if !ok {
		return
	}
	key := r.URL.Query().Get("direction")
	if key == "" {
		key = direction.ActionAToFromB.Key()
	}
	fd, err := direction.ParseFilterDirection(key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter, err := set.Conversations.Filter(hd, fd)
	if err != nil {
		h.handleError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, filterResponse{Index: hd.Index(), Direction: key, Filter: filter})
}

// mapHandler exports the geolocated endpoints as GeoJSON or as the HTML map.
func (h *APIHandler) mapHandler(w http.ResponseWriter, r *http.Request) {
	set, ok := h.tableSet(w, r)
	if !ok {
		return
	}
	format, contentType := geoexport.FormatJSON, "application/json"
	switch r.URL.Query().Get("format") {
	case "", "json", "geojson":
	case "html":
		format, contentType = geoexport.FormatHTML, "text/html; charset=utf-8"
	default:
		http.Error(w, "format must be json or html", http.StatusBadRequest)
		return
	}

	var buf bytes.Buffer
	n, err := set.Endpoints.WriteMap(&buf, format, h.exporter)
	if errors.Is(err, geoexport.ErrNothingToMap) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.handleError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Map-Features", strconv.Itoa(n))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// resetHandler clears every table.
func (h *APIHandler) resetHandler(w http.ResponseWriter, r *http.Request) {
	h.tables.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// summariesHandler returns the latest stored snapshot of every table.
func (h *APIHandler) summariesHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "snapshot history is not configured", http.StatusServiceUnavailable)
		return
	}
	var until time.Time
	if s := r.URL.Query().Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid until: %v", err), http.StatusBadRequest)
			return
		}
		until = t
	}
	out, err := h.querier.Summaries(r.Context(), until)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query snapshots: %v", err), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

// historyHandler returns every stored snapshot of one conversation.
// Query parameters: src, dst, sport, dport.
func (h *APIHandler) historyHandler(w http.ResponseWriter, r *http.Request) {
	if h.querier == nil {
		http.Error(w, "snapshot history is not configured", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	key := query.ConversationKey{
		Table:      mux.Vars(r)["name"],
		SrcAddress: q.Get("src"),
		DstAddress: q.Get("dst"),
	}
	for _, p := range []struct {
		name string
		dst  **uint32
	}{{"sport", &key.SrcPort}, {"dport", &key.DstPort}} {
		s := q.Get(p.name)
		if s == "" {
			continue
		}
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid %s: %v", p.name, err), http.StatusBadRequest)
			return
		}
		port := uint32(v)
		*p.dst = &port
	}
	if key.SrcAddress == "" || key.DstAddress == "" {
		http.Error(w, "src and dst are required", http.StatusBadRequest)
		return
	}
	out, err := h.querier.ConversationHistory(r.Context(), key)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query history: %v", err), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) tableSet(w http.ResponseWriter, r *http.Request) (*factory.TableSet, bool) {
	set, err := h.tables.Table(mux.Vars(r)["name"])
	if err != nil {
		h.handleError(w, err)
		return nil, false
	}
	return set, true
}

// handle resolves the {index} route variable together with the gen query
// parameter. A row of an earlier generation answers 410 so a stale index
// never lands on whatever row replaced it after a reset.
func (h *APIHandler) handle(w http.ResponseWriter, r *http.Request, set *factory.TableSet) (store.Handle, bool) {
	i, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "invalid row index", http.StatusBadRequest)
		return store.Handle{}, false
	}
	gen, err := strconv.ParseUint(r.URL.Query().Get("gen"), 10, 64)
	if err != nil {
		http.Error(w, "gen must be the generation of the listed rows", http.StatusBadRequest)
		return store.Handle{}, false
	}
	hd, err := set.Conversations.HandleFor(gen, i)
	switch {
	case errors.Is(err, store.ErrStaleHandle):
		http.Error(w, err.Error(), http.StatusGone)
		return store.Handle{}, false
	case err != nil:
		http.Error(w, err.Error(), http.StatusNotFound)
		return store.Handle{}, false
	}
	return hd, true
}

func (h *APIHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrUnknownTable):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrInvariantViolation):
		// The row went away with a reset.
		http.Error(w, err.Error(), http.StatusGone)
	default:
		h.logger.Errorw("request failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func listParams(r *http.Request) (desc, resolve bool, limit int, err error) {
	q := r.URL.Query()
	if s := q.Get("desc"); s != "" {
		if desc, err = strconv.ParseBool(s); err != nil {
			return false, false, 0, fmt.Errorf("invalid desc: %w", err)
		}
	}
	if s := q.Get("resolve"); s != "" {
		if resolve, err = strconv.ParseBool(s); err != nil {
			return false, false, 0, fmt.Errorf("invalid resolve: %w", err)
		}
	}
	if s := q.Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 0 {
			return false, false, 0, fmt.Errorf("invalid limit %q", s)
		}
	}
	return desc, resolve, limit, nil
}

func truncate[H any](handles []H, limit int) []H {
	if limit > 0 && len(handles) > limit {
		return handles[:limit]
	}
	return handles
}
