// Package web exposes the reward lifecycle over a JSON HTTP API.
package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/colonyops/earn/internal/core/catalog"
	"github.com/colonyops/earn/internal/core/completion"
	"github.com/colonyops/earn/internal/earn"
)

// Server serves the reward API.
type Server struct {
	rewards *earn.RewardService
	log     zerolog.Logger
}

// New creates a Server backed by rewards. log is used as given; callers pass
// a component logger.
func New(rewards *earn.RewardService, log zerolog.Logger) *Server {
	return &Server{
		rewards: rewards,
		log:     log,
	}
}

type approveReq struct {
	Reward *decimal.Decimal `json:"reward"`
	Note   string           `json:"note"`
}

type statusResp struct {
	completion.Completion
	RemainingSeconds int64 `json:"remaining_seconds"`
}

type earningsResp struct {
	UserID  string              `json:"user_id"`
	Total   decimal.Decimal     `json:"total"`
	Entries []completion.Credit `json:"entries,omitempty"`
}

type errorResp struct {
	Error string `json:"error"`
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/tasks", func(w http.ResponseWriter, r *http.Request) {
		tasks, err := s.rewards.ListActiveTasks(r.Context())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	})

	r.Route("/users/{user}", func(r chi.Router) {
		r.Post("/session", func(w http.ResponseWriter, r *http.Request) {
			armed, err := s.rewards.BeginSession(r.Context(), chi.URLParam(r, "user"))
			if err != nil {
				s.writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"armed": armed})
		})

		r.Delete("/session", func(w http.ResponseWriter, r *http.Request) {
			n := s.rewards.EndSession(r.Context(), chi.URLParam(r, "user"))
			writeJSON(w, http.StatusOK, map[string]int{"cancelled": n})
		})

		r.Get("/earnings", func(w http.ResponseWriter, r *http.Request) {
			user := chi.URLParam(r, "user")
			total, err := s.rewards.GetEarnings(r.Context(), user)
			if err != nil {
				s.writeError(w, err)
				return
			}

			resp := earningsResp{UserID: user, Total: total}
			if r.URL.Query().Get("entries") == "true" {
				resp.Entries, err = s.rewards.Ledger().Entries(r.Context(), user)
				if err != nil {
					s.writeError(w, err)
					return
				}
			}
			writeJSON(w, http.StatusOK, resp)
		})

		r.Route("/tasks/{task}", func(r chi.Router) {
			r.Get("/", s.handleStatus)

			r.Get("/remaining", func(w http.ResponseWriter, r *http.Request) {
				secs, err := s.rewards.GetRemainingReviewSeconds(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "task"))
				if err != nil {
					s.writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, map[string]int64{"seconds": secs})
			})

			r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
				c, err := s.rewards.StartTask(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "task"))
				if err != nil {
					s.writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, c)
			})

			r.Post("/submit", func(w http.ResponseWriter, r *http.Request) {
				c, err := s.rewards.SubmitTask(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "task"))
				if err != nil {
					s.writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, c)
			})

			r.Post("/approve", func(w http.ResponseWriter, r *http.Request) {
				var req approveReq
				if r.ContentLength != 0 {
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid body: {\"reward\":\"...\",\"note\":\"...\"}"})
						return
					}
				}

				c, err := s.rewards.ApproveManual(r.Context(), chi.URLParam(r, "user"), chi.URLParam(r, "task"), req.Reward, req.Note)
				if err != nil {
					s.writeError(w, err)
					return
				}
				writeJSON(w, http.StatusOK, c)
			})
		})
	})

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user, task := chi.URLParam(r, "user"), chi.URLParam(r, "task")

	c, err := s.rewards.GetStatus(r.Context(), user, task)
	if err != nil {
		s.writeError(w, err)
		return
	}
	secs, err := s.rewards.GetRemainingReviewSeconds(r.Context(), user, task)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResp{Completion: c, RemainingSeconds: secs})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResp{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, completion.ErrMissingIdentity),
		errors.Is(err, completion.ErrNegativeReward):
		return http.StatusBadRequest
	case errors.Is(err, completion.ErrAlreadyCompleted),
		errors.Is(err, completion.ErrInvalidTransition),
		errors.Is(err, completion.ErrReviewPending),
		errors.Is(err, completion.ErrStaleWrite),
		errors.Is(err, catalog.ErrTaskInactive):
		return http.StatusConflict
	case errors.Is(err, completion.ErrEngagementTooShort):
		return http.StatusUnprocessableEntity
	case errors.Is(err, completion.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
