// Package daemon serves the extension's control messages over local HTTP.
package daemon

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/runnerr0/filterx/internal/app"
	"github.com/runnerr0/filterx/internal/config"
	"github.com/runnerr0/filterx/internal/storage"
)

// Message actions accepted on /v1/messages.
const (
	ActionClassifyImage = "classifyImage"
	ActionClassifyText  = "classifyText"
	ActionClassifyURL   = "classifyUrl"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 1000
	shutdownTimeout      = 5 * time.Second
)

// Message is one inbound control message.
type Message struct {
	Action    string `json:"action"`
	ImageData string `json:"imageData,omitempty"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
}

// SettingsPatch carries the fields to change; absent fields stay as they are.
type SettingsPatch struct {
	Aggressiveness *string `json:"aggressiveness,omitempty"`
	BackendURL     *string `json:"backendUrl,omitempty"`
	Enabled        *bool   `json:"enabled,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Status         string                `json:"status"`
	Version        string                `json:"version"`
	UptimeSeconds  int64                 `json:"uptime_seconds"`
	Enabled        bool                  `json:"enabled"`
	Aggressiveness config.Aggressiveness `json:"aggressiveness"`
	BackendURL     string                `json:"backendUrl,omitempty"`
	ClassifierMode string                `json:"classifier_mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the local HTTP front end of a running App.
type Server struct {
	app     *app.App
	cfg     config.DaemonConfig
	version string
	logger  *slog.Logger
	started time.Time
}

// New returns a server for a.
func New(a *app.App, cfg config.DaemonConfig, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{app: a, cfg: cfg, version: version, logger: logger, started: time.Now()}
}

// Handler returns the routed handler with auth, size limit and request
// logging applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/activity", s.handleActivity)
	mux.HandleFunc("GET /v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /v1/settings", s.handlePutSettings)
	return s.logRequests(s.authorize(s.limitBody(mux)))
}

// ListenAndServe serves on the configured address until ctx is done, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("daemon listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("daemon stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	settings := s.app.Settings()
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:         "ok",
		Version:        s.version,
		UptimeSeconds:  int64(time.Since(s.started).Seconds()),
		Enabled:        settings.Enabled,
		Aggressiveness: settings.Aggressiveness,
		BackendURL:     settings.BackendURL,
		ClassifierMode: s.app.Config().Classifier.Mode,
	})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := decode(r, &msg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}

	d := s.app.Dispatcher
	ctx := r.Context()
	switch msg.Action {
	case ActionClassifyImage:
		if msg.ImageData == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{"imageData is required"})
			return
		}
		writeJSON(w, http.StatusOK, d.ClassifyImage(ctx, msg.ImageData))
	case ActionClassifyText:
		if strings.TrimSpace(msg.Text) == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{"text is required"})
			return
		}
		writeJSON(w, http.StatusOK, d.ClassifyText(ctx, msg.Text))
	case ActionClassifyURL:
		if msg.URL == "" {
			writeJSON(w, http.StatusBadRequest, errorResponse{"url is required"})
			return
		}
		writeJSON(w, http.StatusOK, d.ClassifyURL(ctx, msg.URL))
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{fmt.Sprintf("unknown action %q", msg.Action)})
	}
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	Counters          *storage.Stats `json:"counters"`
	Pipeline          any            `json:"pipeline"`
	PersistenceErrors uint64         `json:"persistence_errors"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counters, err := s.app.Store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("stats query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{"stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Counters:          counters,
		Pipeline:          s.app.Dispatcher.Stats(),
		PersistenceErrors: s.app.PersistenceErrors(),
	})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	q, err := parseActivityQuery(r, time.Now())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}
	entries, err := s.app.Store.ListActivity(r.Context(), q)
	if err != nil {
		s.logger.Error("activity query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{"activity unavailable"})
		return
	}
	if entries == nil {
		entries = []storage.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// parseActivityQuery reads limit, offset, action and since. since is either
// RFC 3339 or a duration back from now such as "24h".
func parseActivityQuery(r *http.Request, now time.Time) (storage.ActivityQuery, error) {
	v := r.URL.Query()
	q := storage.ActivityQuery{Limit: defaultActivityLimit, Action: v.Get("action")}

	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		q.Limit = min(n, maxActivityLimit)
	}
	if raw := v.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid offset %q", raw)
		}
		q.Offset = n
	}
	if raw := v.Get("since"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			q.Since = t
		} else if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			q.Since = now.Add(-d)
		} else {
			return q, fmt.Errorf("invalid since %q (RFC 3339 time or duration)", raw)
		}
	}
	return q, nil
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.app.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var patch SettingsPatch
	if err := decode(r, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
		return
	}

	ctx := r.Context()
	updates := make([][2]string, 0, 3)
	if patch.Aggressiveness != nil {
		updates = append(updates, [2]string{storage.KeyAggressiveness, *patch.Aggressiveness})
	}
	if patch.BackendURL != nil {
		updates = append(updates, [2]string{storage.KeyBackendURL, *patch.BackendURL})
	}
	if patch.Enabled != nil {
		updates = append(updates, [2]string{storage.KeyEnabled, strconv.FormatBool(*patch.Enabled)})
	}
	for _, u := range updates {
		if err := s.app.UpdateSetting(ctx, u[0], u[1]); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, s.app.Settings())
}

func (s *Server) authorize(next http.Handler) http.Handler {
	if s.cfg.AuthToken == "" {
		return next
	}
	want := []byte("Bearer " + s.cfg.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorResponse{"unauthorized"})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	limit := int64(s.cfg.MaxRequestSize)
	if limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}

func decode(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is empty")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.As(err, &tooLarge):
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
