package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"road-data-service/internal/model"
	"road-data-service/internal/realtime"
	"road-data-service/internal/store"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	repo *store.Repo
	hub  *realtime.Hub
}

func NewServer(repo *store.Repo, hub *realtime.Hub) *Server {
	return &Server{repo: repo, hub: hub}
}

func (s *Server) Register(mux *http.ServeMux) {
	r := chi.NewRouter()

	if s.hub != nil {
		r.Get("/ws/{user_id}", s.handleSubscribe)
	}

	r.Route("/processed_agent_data", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Put("/{id}", s.handleUpdate)
		r.Delete("/{id}", s.handleDelete)
	})

	mux.Handle("/", r)
}

type jsonErr struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}

// writeRepoError maps persistence failures without leaking store details.
func writeRepoError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "storage failure")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return &model.ValidationError{Field: typeErr.Field, Reason: "expected " + typeErr.Type.String()}
		}
		return err
	}
	return nil
}

func parseIDParam(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "id"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

// handleCreate accepts a batch of readings. Items are handled in order:
// validate, persist, broadcast. The first failure stops the batch; records
// committed before it stay committed.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var readings []model.ProcessedAgentData
	if err := decodeJSON(r, &readings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created := make([]store.ProcessedAgentData, 0, len(readings))
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d: %s", i, err))
			return
		}
		rec := store.NewRecord(&readings[i])
		if err := s.repo.Create(r.Context(), rec); err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("item %d: storage failure", i))
			return
		}
		// Commit happens before the push; broadcast failures never fail the
		// create.
		if s.hub != nil {
			s.hub.Broadcast(rec.UserID, rec)
		}
		created = append(created, *rec)
	}

	writeJSON(w, http.StatusOK, created)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.repo.List(r.Context())
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := s.repo.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var reading model.ProcessedAgentData
	if err := decodeJSON(r, &reading); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := reading.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := s.repo.Update(r.Context(), id, store.NewRecord(&reading))
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	row, err := s.repo.Delete(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(chi.URLParam(r, "user_id"))
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user_id")
		return
	}
	s.hub.Serve(w, r, userID)
}
