// Package httpx exposes the tuning pipeline handlers over HTTP.
package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evanshlom/AwsAiProd/internal/domain"
	"github.com/evanshlom/AwsAiProd/internal/service/chat"
	"github.com/evanshlom/AwsAiProd/internal/service/deploy"
	"github.com/evanshlom/AwsAiProd/internal/service/evaluate"
	"github.com/evanshlom/AwsAiProd/internal/service/events"
	"github.com/evanshlom/AwsAiProd/internal/service/jobs"
	"github.com/evanshlom/AwsAiProd/internal/service/reconcile"
	"github.com/evanshlom/AwsAiProd/internal/service/validate"
	"github.com/evanshlom/AwsAiProd/internal/ws"
)

// Services bundles the handlers the router dispatches to.
type Services struct {
	Chat      chat.Service
	Validate  validate.Service
	Launcher  jobs.Launcher
	JobStatus jobs.StatusReader
	Evaluate  evaluate.Service
	Deploy    deploy.Service
	Events    events.Service
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	svc            Services
	upgrader       websocket.Upgrader
	limiter        RateLimiter
	operatorSecret string
	dbHealth       func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	reconcileResults   *prometheus.CounterVec
	evaluationResults  *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitChat      = 30
	rateLimitOperator  = 120
	rateLimitDeploy    = 10
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 15 * time.Second
	maxRequestBody     = 1 << 20
	defaultRunsLimit   = 20
	maxRunsLimit       = 200
)

// NewRouter assembles routes with dependencies. limiter defaults to an in-memory limiter;
// dbHealth may be nil when no database is configured.
func NewRouter(logger *slog.Logger, svc Services, limiter RateLimiter, operatorSecret string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		svc:    svc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:        limiter,
		operatorSecret: strings.TrimSpace(operatorSecret),
		dbHealth:       dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/chat", r.audit("/chat", withCORS("POST, OPTIONS", r.withRateLimit("/chat", rateLimitChat, rateWindowDefault, rateLimitKeyIP, r.handleChat))))
	r.mux.HandleFunc("/chat/sessions/", r.audit("/chat/sessions", withCORS("GET, OPTIONS", r.withRateLimit("/chat/sessions", rateLimitChat, rateWindowDefault, rateLimitKeyIP, r.handleChatSession))))
	r.mux.HandleFunc("/data/validate", r.audit("/data/validate", r.operatorRoute("/data/validate", rateLimitOperator, rateWindowDefault, r.handleValidate)))
	r.mux.HandleFunc("/jobs", r.audit("/jobs", r.operatorRoute("/jobs", rateLimitOperator, rateWindowDefault, r.handleStartJob)))
	r.mux.HandleFunc("/jobs/", r.audit("/jobs/{id}", r.operatorRoute("/jobs/{id}", rateLimitOperator, rateWindowDefault, r.handleJobStatus)))
	r.mux.HandleFunc("/evaluations", r.audit("/evaluations", r.operatorRoute("/evaluations", rateLimitOperator, rateWindowDefault, r.handleEvaluate)))
	r.mux.HandleFunc("/deployments", r.audit("/deployments", r.operatorRoute("/deployments", rateLimitDeploy, rateWindowDefault, r.handleDeploy)))
	r.mux.HandleFunc("/deployments/runs", r.audit("/deployments/runs", r.operatorRoute("/deployments/runs", rateLimitOperator, rateWindowDefault, r.handleRuns)))
	r.mux.HandleFunc("/deployments/events", r.audit("/deployments/events", r.operatorRoute("/deployments/events", rateLimitStream, rateWindowRealtime, r.handleDeploymentEventsSSE)))
	r.mux.HandleFunc("/ws/deployments", r.audit("/ws/deployments", r.operatorRoute("/ws/deployments", rateLimitStream, rateWindowRealtime, r.handleDeploymentEventsWS)))
}

func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload chat.Request
	if err := decodeJSON(req, &payload); err != nil {
		r.logger.Warn("chat request rejected", "error", err)
		writeError(w, http.StatusInternalServerError, "invalid JSON body")
		return
	}
	reply, err := r.svc.Chat.Chat(req.Context(), payload)
	if err != nil {
		r.logger.Error("chat failed", "session_id", payload.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (r *Router) handleChatSession(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	sessionID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/chat/sessions/"), "/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		r.notFound(w)
		return
	}
	records, err := r.svc.Chat.History(req.Context(), sessionID)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	messages := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		messages = append(messages, map[string]any{
			"timestamp": rec.Timestamp,
			"role":      rec.Message.Role,
			"content":   rec.Message.Content,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (r *Router) handleValidate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload validate.ObjectRef
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	report, err := r.svc.Validate.Validate(req.Context(), payload)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	code := http.StatusOK
	if !report.Valid {
		code = http.StatusBadRequest
	}
	writeJSON(w, code, report)
}

func (r *Router) handleStartJob(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload jobs.StartInput
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	job, err := r.svc.Launcher.Start(req.Context(), payload)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (r *Router) handleJobStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	// Job ARNs contain a slash, so everything after the prefix identifies the job.
	id := strings.TrimPrefix(req.URL.Path, "/jobs/")
	if q := strings.TrimSpace(req.URL.Query().Get("arn")); q != "" {
		id = q
	}
	if strings.TrimSpace(id) == "" {
		r.notFound(w)
		return
	}
	status, err := r.svc.JobStatus.Status(req.Context(), id)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (r *Router) handleEvaluate(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload evaluate.Request
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	result, err := r.svc.Evaluate.Evaluate(req.Context(), payload)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	r.recordEvaluationResult(result.Passed)
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		ModelID string `json:"modelId"`
		Mode    string `json:"mode"`
	}
	if err := decodeJSON(req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mode, ok := domain.ParseDeploymentMode(strings.TrimSpace(payload.Mode))
	if !ok {
		writeError(w, http.StatusBadRequest, "mode must be DEPLOY or UPDATE_MODEL")
		return
	}
	run, result, err := r.svc.Deploy.Trigger(req.Context(), payload.ModelID, mode)
	if err != nil {
		reason := string(reconcile.ReasonOf(err))
		if reason == "" {
			reason = "error"
		}
		r.recordReconcileResult(reason)
		writeJSON(w, statusForError(err), map[string]any{
			"error":  err.Error(),
			"reason": reason,
			"run_id": run.ID,
		})
		return
	}
	r.recordReconcileResult("")
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     run.ID,
		"deployment": run.DeploymentName,
		"model_id":   run.ModelID,
		"status":     domain.DeploymentLive,
		"outputs":    result.Outputs,
		"self_heals": result.SelfHeals,
	})
}

func (r *Router) handleRuns(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit := defaultRunsLimit
	if raw := strings.TrimSpace(req.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxRunsLimit)
	}
	runs, err := r.svc.Deploy.ListRuns(req.Context(), limit)
	if err != nil {
		r.logger.Error("list reconcile runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": marshalRuns(runs)})
}

func marshalRuns(runs []domain.ReconcileRun) []map[string]any {
	out := make([]map[string]any, 0, len(runs))
	for _, run := range runs {
		item := map[string]any{
			"id":         run.ID,
			"deployment": run.DeploymentName,
			"model_id":   run.ModelID,
			"mode":       run.Mode,
			"status":     run.Status,
			"self_heals": run.SelfHeals,
			"started_at": run.StartedAt.UTC().Format(time.RFC3339Nano),
		}
		if run.Reason != "" {
			item["reason"] = run.Reason
		}
		if run.Error != "" {
			item["error"] = run.Error
		}
		if len(run.Outputs) > 0 {
			item["outputs"] = run.Outputs
		}
		if run.CompletedAt != nil {
			item["completed_at"] = run.CompletedAt.UTC().Format(time.RFC3339Nano)
		}
		out = append(out, item)
	}
	return out
}

func (r *Router) streamTopic(req *http.Request) string {
	if name := strings.TrimSpace(req.URL.Query().Get("name")); name != "" {
		return name
	}
	return r.svc.Deploy.Name()
}

func (r *Router) handleDeploymentEventsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	hub := r.svc.Events.Hub()
	if hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	topic := r.streamTopic(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(topic, client)
	go func() {
		defer func() {
			hub.Unregister(topic, client)
			client.Close()
		}()
		client.Wait()
	}()
}

func (r *Router) handleDeploymentEventsSSE(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	hub := r.svc.Events.Hub()
	flusher, ok := w.(http.Flusher)
	if hub == nil || !ok {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	topic := r.streamTopic(req)
	client := ws.NewSSEClient(w, flusher, "deployment", r.logger)
	hub.Register(topic, client)
	defer hub.Unregister(topic, client)
	defer client.Close()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"deployment": r.svc.Deploy.Name(),
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func decodeJSON(req *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, req.Body, maxRequestBody)).Decode(dst)
}

// audit logs one line per request and records request metrics under route.
func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "operator"
			fields = append(fields, "operator", info.Operator)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := max(limit-decision.count, 0)
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
