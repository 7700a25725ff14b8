// Package web serves a read-mostly browser view of the synced task list.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/coordinator"
	"github.com/Joseda-hg/tasksync/internal/filter"
	"github.com/Joseda-hg/tasksync/internal/logging"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/session"
	"github.com/Joseda-hg/tasksync/internal/tasks"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.tmpl"))

// applyParam marks a submitted filter form even when every field is empty.
const applyParam = "apply"

type Server struct {
	coord  *coordinator.Coordinator
	logger *slog.Logger
	now    func() time.Time
}

type taskRow struct {
	Task model.Task
	Due  string
}

type stateResponse struct {
	Authenticated bool           `json:"authenticated"`
	Status        string         `json:"status"`
	Tasks         []model.Task   `json:"tasks"`
	Page          model.PageInfo `json:"page"`
	Filter        model.Criteria `json:"filter"`
	Error         string         `json:"error,omitempty"`
	MutationError string         `json:"mutation_error,omitempty"`
	Pending       int            `json:"pending"`
}

func NewServer(coord *coordinator.Coordinator, logger *slog.Logger) *Server {
	return &Server{coord: coord, logger: logging.OrDefault(logger), now: time.Now}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/state", s.stateHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id:[0-9]+}", s.taskHandler).Methods(http.MethodGet)
	r.HandleFunc("/api/refresh", s.refreshHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/filter", s.filterHandler).Methods(http.MethodPost)
	return r
}

// ListenAddr is the loopback address the web view binds to for port.
func ListenAddr(port int) string {
	return net.JoinHostPort("localhost", strconv.Itoa(port))
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web view listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown web view: %w", err)
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r)
		s.logger.Debug("web request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"duration", time.Since(started))
	})
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !s.authenticated() {
		s.renderIndex(w, http.StatusUnauthorized, s.coord.Store().State())
		return
	}

	if hasFilterParams(query) {
		criteria, err := filter.FromQuery(query)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		// Failures show up in the rendered state.
		if err := s.coord.SubmitFilter(r.Context(), criteria); err != nil {
			s.logger.Debug("web filter fetch failed", "error", err)
		}
	}
	status := http.StatusOK
	if !s.authenticated() {
		status = http.StatusUnauthorized
	}
	s.renderIndex(w, status, s.coord.Store().State())
}

func (s *Server) renderIndex(w http.ResponseWriter, status int, state tasks.State) {
	now := s.now()
	authenticated := s.authenticated()
	rows := make([]taskRow, 0, len(state.Tasks))
	if authenticated {
		for _, task := range state.Tasks {
			rows = append(rows, taskRow{Task: task, Due: dueLabel(task.DueDate, now)})
		}
	}

	current := s.coord.CurrentFilter()
	data := struct {
		Authenticated bool
		Status        string
		Rows          []taskRow
		Filter        model.Criteria
		FilterLabel   string
		PageLabel     string
		Levels        []model.Level
		Err           string
		MutationErr   string
	}{
		Authenticated: authenticated,
		Status:        state.Status.String(),
		Rows:          rows,
		Filter:        current,
		FilterLabel:   filter.Describe(current),
		PageLabel:     pageLabel(state.Page),
		Levels:        model.Levels,
		Err:           state.Err,
		MutationErr:   state.MutationErr,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("render index", "error", err)
	}
}

func (s *Server) stateHandler(w http.ResponseWriter, _ *http.Request) {
	if !s.authenticated() {
		writeError(w, http.StatusUnauthorized, session.ErrNoCredential)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) taskHandler(w http.ResponseWriter, r *http.Request) {
	if !s.authenticated() {
		writeError(w, http.StatusUnauthorized, session.ErrNoCredential)
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	for _, task := range s.coord.Store().State().Tasks {
		if task.ID == id {
			writeJSON(w, http.StatusOK, task)
			return
		}
	}
	writeError(w, http.StatusNotFound, coordinator.ErrTaskNotFound)
}

func (s *Server) refreshHandler(w http.ResponseWriter, r *http.Request) {
	s.respondAfter(w, s.coord.FetchTasks(r.Context(), nil))
}

func (s *Server) filterHandler(w http.ResponseWriter, r *http.Request) {
	var criteria model.Criteria
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode filter: %w", err))
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		parsed, err := filter.FromQuery(r.Form)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		criteria = parsed
	}
	if err := criteria.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.respondAfter(w, s.coord.SubmitFilter(r.Context(), criteria))
}

// respondAfter answers an engine call with the resulting state.
func (s *Server) respondAfter(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoCredential), errors.Is(err, api.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, session.ErrNoCredential)
	default:
		// Fetch failures are part of the state.
		writeJSON(w, http.StatusOK, s.snapshot())
	}
}

func (s *Server) snapshot() stateResponse {
	state := s.coord.Store().State()
	return stateResponse{
		Authenticated: s.authenticated(),
		Status:        state.Status.String(),
		Tasks:         state.Tasks,
		Page:          state.Page,
		Filter:        s.coord.CurrentFilter(),
		Error:         state.Err,
		MutationError: state.MutationErr,
		Pending:       state.Pending,
	}
}

func (s *Server) authenticated() bool {
	_, ok := s.coord.Holder().Credential()
	return ok
}

func hasFilterParams(values url.Values) bool {
	for _, key := range []string{filter.KeyOverdue, filter.KeyUrgency, filter.KeyComplexity, filter.KeyPage, applyParam} {
		if values.Has(key) {
			return true
		}
	}
	return false
}

func dueLabel(due string, now time.Time) string {
	if due == "" {
		return ""
	}
	parsed, err := time.ParseInLocation(model.DateLayout, due, now.Location())
	if err != nil {
		return due
	}
	return fmt.Sprintf("%s (%s)", due, humanize.RelTime(parsed, now, "ago", "from now"))
}

func pageLabel(page model.PageInfo) string {
	if page.TotalPages == 0 {
		return "-"
	}
	return fmt.Sprintf("%d of %d", max(page.CurrentPage, 1), page.TotalPages)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
