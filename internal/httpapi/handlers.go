package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/edgewatch/edgewatch/internal/cache"
	"github.com/edgewatch/edgewatch/internal/ledger"
	"github.com/edgewatch/edgewatch/internal/pipeline"
	"github.com/edgewatch/edgewatch/internal/registry"
	"github.com/edgewatch/edgewatch/internal/status"
)

// Engine is the slice of the scan pipeline the monitor reports on.
type Engine interface {
	State() pipeline.State
	LastReport() (pipeline.Report, bool)
}

// Breakers reports per-source circuit breaker states. The fetch client
// satisfies it.
type Breakers interface {
	BreakerStates() map[string]string
}

// Archive reads back resolved predictions from long-term storage. The
// postgres archive satisfies it.
type Archive interface {
	Recent(ctx context.Context, limit int) ([]ledger.Record, error)
}

// archiveRecentLimit caps the resolved predictions echoed by /status.
const archiveRecentLimit = 10

// Deps are the engine components the monitor endpoints read from. Any
// field may be nil; the matching response sections are then omitted.
type Deps struct {
	Tracker  *status.Tracker
	Engine   Engine
	Registry *registry.Registry
	Cache    *cache.SourceCache
	Ledger   *ledger.Ledger
	Breakers Breakers
	Archive  Archive
	Hub      *Hub
	Metrics  http.Handler
}

// Handlers serves the monitor endpoints.
type Handlers struct {
	deps    Deps
	metrics http.Handler
}

// NewHandlers creates the handler set. A nil Metrics handler falls back
// to the process-default Prometheus exposition.
func NewHandlers(deps Deps) *Handlers {
	h := &Handlers{deps: deps, metrics: deps.Metrics}
	if h.metrics == nil {
		h.metrics = promhttp.Handler()
	}
	return h
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status    string         `json:"status"` // healthy, degraded
	Timestamp time.Time      `json:"timestamp"`
	Detail    *status.Update `json:"detail,omitempty"`
}

// StatusResponse is the GET /status body.
type StatusResponse struct {
	Timestamp   time.Time         `json:"timestamp"`
	State       pipeline.State    `json:"state,omitempty"`
	LastScan    *pipeline.Report  `json:"last_scan,omitempty"`
	Registry    *registry.Stats   `json:"registry,omitempty"`
	Cache       []cache.SlotInfo  `json:"cache,omitempty"`
	Breakers    map[string]string `json:"breakers,omitempty"`
	Calibration *ledger.Report    `json:"calibration,omitempty"`
	Archived    []ledger.Record   `json:"archived,omitempty"`
	FeedClients int               `json:"feed_clients"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Health handles GET /health. A tracker that has never seen a completed
// scan reports degraded with a 503 so load balancers hold traffic.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Timestamp: time.Now().UTC()}
	code := http.StatusOK

	if h.deps.Tracker != nil {
		update := h.deps.Tracker.Snapshot()
		resp.Detail = &update
		if !update.Healthy() {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	h.writeJSON(w, code, resp)
}

// Status handles GET /status with the full engine picture.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Timestamp: time.Now().UTC()}

	if h.deps.Engine != nil {
		resp.State = h.deps.Engine.State()
		if report, ok := h.deps.Engine.LastReport(); ok {
			resp.LastScan = &report
		}
	}
	if h.deps.Registry != nil {
		stats := h.deps.Registry.Stats()
		resp.Registry = &stats
	}
	if h.deps.Cache != nil {
		resp.Cache = h.deps.Cache.Snapshot()
	}
	if h.deps.Breakers != nil {
		resp.Breakers = h.deps.Breakers.BreakerStates()
	}
	if h.deps.Ledger != nil {
		report := h.deps.Ledger.Calibration()
		resp.Calibration = &report
	}
	if h.deps.Archive != nil {
		recent, err := h.deps.Archive.Recent(r.Context(), archiveRecentLimit)
		if err != nil {
			log.Debug().Err(err).Msg("Archive read for status failed")
		} else {
			resp.Archived = recent
		}
	}
	if h.deps.Hub != nil {
		resp.FeedClients = h.deps.Hub.ClientCount()
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// NotFound handles 404 responses.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}

// writeJSON writes a JSON response with proper error handling.
func (h *Handlers) writeJSON(w http.ResponseWriter, code int, data any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

// writeError writes the standardized error response.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	h.writeJSON(w, code, ErrorResponse{
		Error:     http.StatusText(code),
		Message:   message,
		Code:      errCode,
		RequestID: requestIDFrom(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}
