package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/cdp-mini/internal/session"
	"github.com/shehryarbajwa/cdp-mini/pkg/models"
)

// Handler holds dependencies for HTTP handlers
type Handler struct {
	sessionMgr *session.Manager
	log        *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionMgr *session.Manager, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		sessionMgr: sessionMgr,
		log:        log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error kind to an HTTP status
func statusFor(kind string) int {
	switch kind {
	case session.KindSessionNotFound, session.KindElementNotFound:
		return http.StatusNotFound
	case session.KindTooManySessions:
		return http.StatusTooManyRequests
	case session.KindEvaluationError:
		return http.StatusUnprocessableEntity
	case session.KindNavigationTimeout, session.KindCommandTimeout:
		return http.StatusGatewayTimeout
	case session.KindConnectionClosed, session.KindProtocolError:
		return http.StatusBadGateway
	case session.KindLaunchTimeout, session.KindNoTargetAvailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := session.Kind(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.Warn("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", kind),
			zap.Error(err))
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error(), Kind: kind})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: msg, Kind: session.KindError})
}

// lookup resolves the {id} route variable to an open session
func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessionMgr.Session(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return s, true
}

// CreateSession handles POST /v1/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req models.CreateSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "Invalid request body: "+err.Error())
			return
		}
	}

	s, err := h.sessionMgr.NewSession(r.Context(), session.SessionRequest{
		TargetID:    req.TargetID,
		NewTarget:   req.NewTarget,
		URL:         req.URL,
		IdleTimeout: time.Duration(req.IdleTimeout) * time.Second,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Info())
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions := h.sessionMgr.Sessions()
	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	writeJSON(w, http.StatusOK, out)
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionMgr.CloseSession(mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDebugURL handles GET /v1/sessions/{id}/debug
func (h *Handler) GetDebugURL(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"debuggerUrl": fmt.Sprintf("ws://%s/v1/sessions/%s/ws", r.Host, s.ID),
		"sessionId":   s.ID,
		"targetId":    s.Target.ID,
	})
}

// NavigateSession handles POST /v1/sessions/{id}/navigate
func (h *Handler) NavigateSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req models.NavigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		badRequest(w, "url is required")
		return
	}
	wait, err := session.ParseWaitUntil(req.WaitUntil)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	h.log.Info("navigating", zap.String("session", s.ID), zap.String("url", req.URL), zap.String("wait", string(wait)))
	err = s.Navigate(r.Context(), req.URL, session.NavigateOptions{
		WaitUntil: wait,
		Timeout:   time.Duration(req.TimeoutMs) * time.Millisecond,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true, URL: req.URL})
}

// EvaluateSession handles POST /v1/sessions/{id}/evaluate
func (h *Handler) EvaluateSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req models.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Expression == "" {
		badRequest(w, "expression is required")
		return
	}
	v, err := s.Evaluate(r.Context(), req.Expression)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true, Value: v})
}

func (h *Handler) decodeElement(w http.ResponseWriter, r *http.Request) (models.ElementRequest, bool) {
	var req models.ElementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Selector == "" {
		badRequest(w, "selector is required")
		return req, false
	}
	return req, true
}

// QuerySession handles POST /v1/sessions/{id}/query
func (h *Handler) QuerySession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeElement(w, r)
	if !ok {
		return
	}
	el, err := s.QuerySelector(r.Context(), req.Selector)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	found := el != nil
	writeJSON(w, http.StatusOK, models.Result{Success: true, Found: &found})
}

// ClickSession handles POST /v1/sessions/{id}/click
func (h *Handler) ClickSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeElement(w, r)
	if !ok {
		return
	}
	if err := s.Click(r.Context(), req.Selector); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true})
}

// TypeSession handles POST /v1/sessions/{id}/type
func (h *Handler) TypeSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeElement(w, r)
	if !ok {
		return
	}
	if err := s.Type(r.Context(), req.Selector, req.Text); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true})
}

// SetViewport handles POST /v1/sessions/{id}/viewport
func (h *Handler) SetViewport(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var vp session.Viewport
	if err := json.NewDecoder(r.Body).Decode(&vp); err != nil {
		badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	if err := s.SetViewport(r.Context(), vp); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Result{Success: true})
}

// GetSessionScreenshot handles GET /v1/sessions/{id}/screenshot
func (h *Handler) GetSessionScreenshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := session.ScreenshotOptions{
		Format:   q.Get("format"),
		FullPage: q.Get("fullPage") == "true",
	}
	if v := q.Get("quality"); v != "" {
		quality, err := strconv.Atoi(v)
		if err != nil || quality < 0 || quality > 100 {
			badRequest(w, "quality must be 0-100")
			return
		}
		opts.Quality = quality
	}

	img, err := s.Screenshot(r.Context(), opts)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	format := opts.Format
	if format == "" {
		format = "png"
	}
	w.Header().Set("Content-Type", "image/"+format)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(img)
}

// ListTargets handles GET /v1/targets
func (h *Handler) ListTargets(w http.ResponseWriter, r *http.Request) {
	inst, err := h.sessionMgr.Launch(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	targets, err := inst.DevTools().ListTargets(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// GetBrowser handles GET /v1/browser
func (h *Handler) GetBrowser(w http.ResponseWriter, r *http.Request) {
	inst, err := h.sessionMgr.Launch(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	v, err := inst.DevTools().Version(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"endpoint": inst.Endpoint(),
		"pid":      inst.PID,
		"external": inst.External,
		"version":  v,
	})
}
