// Package api is the HTTP management surface: filesystems, their attachments
// and the lifecycle notification intake.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/flaviostutz/sharedfs/events"
	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/flaviostutz/sharedfs/reconcile"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const (
	filesystemsPath  = "/v1/filesystems"
	filesystemPath   = "/v1/filesystems/{name}"
	attachmentsPath  = "/v1/filesystems/{name}/attachments"
	attachmentPath   = "/v1/filesystems/{name}/attachments/{instance}"
	notificationPath = "/v1/notifications"
	metricsPath      = "/metrics"

	// ProjectHeader carries the project of the caller
	ProjectHeader = "X-Project-Id"

	maxBytesBody = 1 << 20
)

// Server routes management requests to the engine
type Server struct {
	router   *mux.Router
	engine   *reconcile.Engine
	filter   *events.Filter
	gatherer prometheus.Gatherer
}

// NewServer builds the router. A nil gatherer serves the default registry.
func NewServer(engine *reconcile.Engine, filter *events.Filter, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		router:   mux.NewRouter(),
		engine:   engine,
		filter:   filter,
		gatherer: gatherer,
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytesBody)
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc(filesystemsPath, s.listHandler()).Methods("GET")
	s.router.HandleFunc(filesystemPath, s.createHandler()).Methods("PUT")
	s.router.HandleFunc(filesystemPath, s.deleteHandler()).Methods("DELETE")
	s.router.HandleFunc(attachmentsPath, s.attachmentsHandler()).Methods("GET")
	s.router.HandleFunc(attachmentPath, s.attachHandler()).Methods("PUT")
	s.router.HandleFunc(attachmentPath, s.detachHandler()).Methods("DELETE")
	s.router.HandleFunc(notificationPath, s.notificationHandler()).Methods("POST")
	s.router.Handle(metricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
}

// statusOf maps the error taxonomy to HTTP status codes
func statusOf(err error) int {
	switch {
	case errors.Is(err, filesystem.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, filesystem.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, filesystem.ErrInvalidScope), errors.Is(err, filesystem.ErrInvalidRequest):
		return http.StatusUnprocessableEntity
	case errors.Is(err, filesystem.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, filesystem.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) error(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	logrus.Warnf("HTTP %d on %s %s: %s", code, r.Method, r.URL.Path, err)
	s.reply(w, code, ErrorResponse{Error: err.Error()})
}

func (s *Server) reply(w http.ResponseWriter, code int, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logrus.Errorf("Failed to encode response: %s", err)
	}
}

func (s *Server) listHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, report, err := s.engine.List(r.Context())
		if err != nil {
			s.error(w, r, err)
			return
		}
		resp := FSEntriesResponse{Entries: make([]FSEntry, 0, len(entries)), Integrity: report}
		for _, e := range entries {
			resp.Entries = append(resp.Entries, FSEntry{
				Name:        e.Name,
				Size:        e.Size,
				Scope:       e.Scope.String(),
				Project:     e.Project,
				ProjectName: e.ProjectName,
			})
		}
		s.reply(w, http.StatusOK, resp)
	}
}

func (s *Server) createHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Entry == nil || req.Entry.Scope == nil {
			s.error(w, r, errors.Wrap(filesystem.ErrInvalidRequest, "body must be {\"fs_entry\": {\"size\": <GB>, \"scope\": <scope>}}"))
			return
		}
		scope, err := filesystem.ParseScope(*req.Entry.Scope)
		if err != nil {
			s.error(w, r, err)
			return
		}
		project := r.Header.Get(ProjectHeader)

		result, err := s.engine.Create(r.Context(), name, scope, project, req.Entry.Size)
		if err != nil {
			s.error(w, r, err)
			return
		}
		s.reply(w, http.StatusOK, FSEntryResponse{
			Entry: FSEntry{
				Name:    name,
				Size:    fmt.Sprint(req.Entry.Size),
				Scope:   scope.String(),
				Project: result.Filesystem.Project,
			},
			Failures: failureViews(result.Failures),
		})
	}
}

func (s *Server) deleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.engine.Delete(r.Context(), mux.Vars(r)["name"]); err != nil {
			s.error(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) attachmentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids, err := s.engine.Attachments(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			s.error(w, r, err)
			return
		}
		resp := InstanceEntriesResponse{Entries: make([]InstanceEntry, 0, len(ids))}
		for _, id := range ids {
			resp.Entries = append(resp.Entries, InstanceEntry{ID: id})
		}
		s.reply(w, http.StatusOK, resp)
	}
}

func (s *Server) attachHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		body, err := io.ReadAll(r.Body)
		if err != nil || len(body) > 0 {
			logrus.Warnf("Unexpected body attaching %s to %s: %q", vars["instance"], vars["name"], body)
			s.error(w, r, errors.Wrap(filesystem.ErrInvalidRequest, "attach takes no body"))
			return
		}
		if err := s.engine.AttachInstance(r.Context(), vars["name"], vars["instance"]); err != nil {
			s.error(w, r, err)
			return
		}
		s.reply(w, http.StatusOK, InstanceEntryResponse{Entry: InstanceEntry{ID: vars["instance"]}})
	}
}

func (s *Server) detachHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := s.engine.DetachInstance(r.Context(), vars["name"], vars["instance"]); err != nil {
			s.error(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) notificationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var n events.Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			s.error(w, r, errors.Wrapf(filesystem.ErrInvalidRequest, "malformed notification: %s", err))
			return
		}
		dispatched, err := s.filter.Handle(r.Context(), n)
		if err != nil {
			s.error(w, r, err)
			return
		}
		s.reply(w, http.StatusAccepted, NotificationResponse{Dispatched: dispatched})
	}
}
