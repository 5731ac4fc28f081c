package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/telemetry"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const maxBodyBytes = 1 << 20

// RouterOptions configures the REST surface.
type RouterOptions struct {
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

type restHandler struct {
	backend Backend
	logger  *slog.Logger
}

// NewRouter builds the REST query and command surface plus /metrics and /healthz.
func NewRouter(backend Backend, opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &restHandler{backend: backend, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/healthz", h.health)
	router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	router.Route("/api/v1", func(r chi.Router) {
		r.Post("/telemetry", h.ingest)
		r.Get("/anomalies", h.anomalies)

		r.Get("/actions", h.actions)
		r.Post("/actions/{actionID}/approve", h.actionCommand(backend.ApproveAction))
		r.Post("/actions/{actionID}/revert", h.actionCommand(backend.RevertAction))

		r.Get("/incidents", h.incidents)
		r.Get("/incidents/{incidentID}", h.incident)
		r.Post("/incidents/{incidentID}/resolve", h.incidentCommand(backend.ResolveIncident))
		r.Post("/incidents/{incidentID}/false-positive", h.incidentCommand(backend.MarkFalsePositive))
		r.Post("/incidents/{incidentID}/assign", h.incidentCommand(backend.AssignIncident))
		r.Post("/incidents/{incidentID}/contain", h.incidentCommand(backend.ContainIncident))

		r.Get("/subjects/{subjectID}/status", h.subjectStatus)
		r.Get("/subjects/{subjectID}/baseline", h.baseline)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return router
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Debug("http request",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.Int("status", ww.Status()),
					slog.Duration("duration", time.Since(start)),
					slog.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

func (h *restHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.backend.HealthCheck(r.Context()))
}

func (h *restHandler) ingest(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, utils.InvalidArgument("ingest", "unreadable body"))
		return
	}
	rec, err := telemetry.DecodeRecord(data)
	if err != nil {
		h.fail(w, utils.NewAppError("ingest", "decode record", fmt.Errorf("%w: %v", utils.ErrInvalidArgument, err)))
		return
	}
	result, err := h.backend.IngestTelemetry(r.Context(), rec)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (h *restHandler) anomalies(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"anomalies": h.backend.RecentAnomalies(limit)})
}

func (h *restHandler) actions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": h.backend.ActionHistory(limit)})
}

func (h *restHandler) incidents(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, utils.InvalidArgument("incidents", "active must be a boolean"))
			return
		}
		activeOnly = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": h.backend.ListIncidents(activeOnly)})
}

func (h *restHandler) incident(w http.ResponseWriter, r *http.Request) {
	incident, err := h.backend.GetIncident(chi.URLParam(r, "incidentID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (h *restHandler) subjectStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.backend.SubjectStatus(chi.URLParam(r, "subjectID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *restHandler) baseline(w http.ResponseWriter, r *http.Request) {
	profile, err := h.backend.GetBaseline(r.Context(), chi.URLParam(r, "subjectID"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *restHandler) incidentCommand(apply func(context.Context, models.IncidentCommand) (models.IncidentRecord, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd models.IncidentCommand
		if err := readJSON(r, &cmd); err != nil {
			h.fail(w, err)
			return
		}
		cmd.IncidentID = chi.URLParam(r, "incidentID")
		incident, err := apply(r.Context(), cmd)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, incident)
	}
}

func (h *restHandler) actionCommand(apply func(context.Context, models.ActionCommand) (models.ResponseAction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cmd models.ActionCommand
		if err := readJSON(r, &cmd); err != nil {
			h.fail(w, err)
			return
		}
		cmd.ActionID = chi.URLParam(r, "actionID")
		action, err := apply(r.Context(), cmd)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, action)
	}
}

func (h *restHandler) fail(w http.ResponseWriter, err error) {
	code := httpStatusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, utils.InvalidArgument("list", "limit must be a non-negative integer")
	}
	return limit, nil
}

// readJSON decodes an optional JSON body. An empty body leaves out untouched.
func readJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return utils.NewAppError("decode", "invalid JSON body", fmt.Errorf("%w: %v", utils.ErrInvalidArgument, err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
