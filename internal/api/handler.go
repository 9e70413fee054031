package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/driftgate/driftgate/internal/channel"
	"github.com/driftgate/driftgate/internal/dispatch"
	"github.com/driftgate/driftgate/internal/escalation"
	"github.com/driftgate/driftgate/internal/event"
	"github.com/driftgate/driftgate/internal/routing"
	"github.com/driftgate/driftgate/internal/rule"
	"github.com/driftgate/driftgate/internal/stats"
)

// maxBodySize caps request bodies for event injection and route validation.
const maxBodySize = 1 << 20

// Options are the collaborators the handler reads from and writes to.
type Options struct {
	Dispatcher  *dispatch.Dispatcher
	Router      *routing.Router
	Validator   *rule.Validator
	Escalations *escalation.Engine
	Collector   *stats.Collector
	Channels    *channel.Registry
}

// Handler serves all /api/v1/* endpoints.
type Handler struct {
	opts    Options
	started time.Time
	mux     chi.Router
}

// New creates the handler and registers all routes.
func New(opts Options) http.Handler {
	h := &Handler{opts: opts, started: time.Now(), mux: chi.NewRouter()}

	h.mux.Use(middleware.Recoverer)
	h.mux.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.health)
		r.Get("/stats", h.stats)
		r.Get("/routes", h.routes)
		r.Post("/routes/validate", h.validateRoutes)
		r.Post("/events", h.injectEvent)
		r.Get("/incidents", h.incidents)
		r.Post("/incidents/{id}/ack", h.ackIncident)
		r.Post("/incidents/{id}/resolve", h.resolveIncident)
	})

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		UptimeSeconds: int(time.Since(h.started).Seconds()),
		Routes:        len(h.opts.Router.Routes()),
	}
	if h.opts.Channels != nil {
		resp.Channels = h.opts.Channels.IDs()
	}
	jsonResp(w, http.StatusOK, resp)
}

// stats returns GET /api/v1/stats, the cached pipeline snapshot plus
// escalation counters.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Pipeline: h.opts.Collector.Snapshot()}
	if h.opts.Escalations != nil {
		s := h.opts.Escalations.Stats()
		resp.Escalation = &s
	}
	jsonResp(w, http.StatusOK, resp)
}

// routes returns GET /api/v1/routes, the live route table in priority order.
func (h *Handler) routes(w http.ResponseWriter, r *http.Request) {
	live := h.opts.Router.Routes()
	resp := RoutesResponse{Routes: make([]RouteResponse, 0, len(live))}
	for _, rt := range live {
		resp.Routes = append(resp.Routes, toRouteResponse(rt))
	}
	if def := h.opts.Router.DefaultRoute(); def != nil {
		dr := toRouteResponse(def)
		resp.DefaultRoute = &dr
	}
	jsonResp(w, http.StatusOK, resp)
}

// validateRoutes handles POST /api/v1/routes/validate. The body is a routing
// file in YAML; the response reports every defect without installing
// anything.
func (h *Handler) validateRoutes(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		jsonErr(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}

	f, err := routing.Parse(body)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, routing.Validate(f, h.opts.Validator))
}

// injectEvent handles POST /api/v1/events: decode one event, run it through
// the full dispatch pipeline, and report what happened.
func (h *Handler) injectEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.NotificationEvent
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		jsonErr(w, http.StatusBadRequest, "decode event: "+err.Error())
		return
	}
	if ev.EventType == "" {
		jsonErr(w, http.StatusBadRequest, "event_type is required")
		return
	}

	res := h.opts.Dispatcher.Dispatch(r.Context(), &ev)
	jsonResp(w, http.StatusAccepted, res)
}

// incidents returns GET /api/v1/incidents, newest first.
func (h *Handler) incidents(w http.ResponseWriter, r *http.Request) {
	if h.opts.Escalations == nil {
		jsonResp(w, http.StatusOK, []escalation.Incident{})
		return
	}
	jsonResp(w, http.StatusOK, h.opts.Escalations.Incidents())
}

// ackIncident handles POST /api/v1/incidents/{id}/ack.
func (h *Handler) ackIncident(w http.ResponseWriter, r *http.Request) {
	h.transitionIncident(w, r, func(id, actor string) (escalation.Incident, error) {
		return h.opts.Escalations.Acknowledge(id, actor)
	})
}

// resolveIncident handles POST /api/v1/incidents/{id}/resolve.
func (h *Handler) resolveIncident(w http.ResponseWriter, r *http.Request) {
	h.transitionIncident(w, r, func(id, actor string) (escalation.Incident, error) {
		return h.opts.Escalations.Resolve(id, actor)
	})
}

func (h *Handler) transitionIncident(w http.ResponseWriter, r *http.Request, apply func(id, actor string) (escalation.Incident, error)) {
	if h.opts.Escalations == nil {
		jsonErr(w, http.StatusNotFound, "escalation is not enabled")
		return
	}

	var body ActorRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		jsonErr(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	actor := body.Actor
	if actor == "" {
		actor = "api"
	}

	inc, err := apply(chi.URLParam(r, "id"), actor)
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		jsonErr(w, http.StatusNotFound, err.Error())
	case errors.Is(err, escalation.ErrBadTransition):
		jsonErr(w, http.StatusConflict, err.Error())
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	default:
		jsonResp(w, http.StatusOK, inc)
	}
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func toRouteResponse(rt *routing.Route) RouteResponse {
	var cfg *rule.RuleConfig
	if rt.Rule != nil {
		c := rt.Rule.Config()
		cfg = &c
	}
	return RouteResponse{
		Name:             rt.Name,
		Priority:         rt.Priority,
		StopOnMatch:      rt.StopOnMatch,
		Actions:          rt.Actions,
		EscalationPolicy: rt.EscalationPolicy,
		Rule:             cfg,
	}
}
