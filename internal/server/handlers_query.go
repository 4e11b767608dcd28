package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/giantswarm/dbfleet/internal/execstore"
	"github.com/giantswarm/dbfleet/internal/logging"
	"github.com/giantswarm/dbfleet/internal/policy"
	"github.com/giantswarm/dbfleet/internal/sqlexec"
)

type executeRequest struct {
	Query           string `json:"query"`
	Database        string `json:"database"`
	Mode            string `json:"mode"`
	PGSchema        string `json:"pgSchema,omitempty"`
	Timeout         int    `json:"timeout,omitempty"`
	Password        string `json:"password,omitempty"`
	ContinueOnError bool   `json:"continueOnError,omitempty"`
}

type executeResponse struct {
	ExecutionID string `json:"executionId"`
}

func (s *Server) handleQueryExecute(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req executeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if req.Query == "" || req.Database == "" || req.Mode == "" {
		writeError(w, http.StatusBadRequest, "query, database and mode are required")
		return
	}
	if err := s.validateSQLTarget(req.Mode, req.Database); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.PGSchema != "" {
		if err := policy.ValidateIdentifier(req.PGSchema); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	statements := policy.ClassifySQL(req.Query)
	if len(statements) == 0 {
		writeError(w, http.StatusBadRequest, "No statements found")
		return
	}
	decision := policy.Authorize(p.Role, statements)
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, decision.Reason)
		return
	}
	if decision.RequiresPasswordReauth {
		if req.Password == "" {
			writeError(w, http.StatusBadRequest, "Password verification required")
			return
		}
		if s.verifier == nil {
			writeError(w, http.StatusInternalServerError, "Password verification unavailable")
			return
		}
		if err := s.verifier.Verify(r.Context(), p.UserID, req.Password); err != nil {
			writeError(w, http.StatusUnauthorized, "Password verification failed")
			return
		}
	}

	id := uuid.NewString()
	if err := s.store.Init(r.Context(), id, p.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to initialise execution")
		return
	}
	go s.sqlExec.Execute(context.Background(), id, sqlexec.Request{
		Query:           req.Query,
		Database:        req.Database,
		Mode:            req.Mode,
		PGSchema:        req.PGSchema,
		TimeoutMs:       req.Timeout,
		ContinueOnError: req.ContinueOnError,
	})

	s.logger.Info("accepted SQL submission",
		logging.ExecutionID(id),
		logging.UserHash(p.UserID),
		logging.Database(req.Database))
	writeJSON(w, http.StatusOK, executeResponse{ExecutionID: id})
}

func (s *Server) handleQueryStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.fetchRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleQueryCancel(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.fetchRecord(w, r)
	if !ok {
		return
	}
	p, _ := principalFrom(r.Context())
	if !mayCancel(p, rec) {
		writeError(w, http.StatusForbidden, "Not permitted to cancel this execution")
		return
	}
	if err := s.sqlExec.Cancel(r.Context(), rec.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to cancel execution")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executionId": rec.ID, "cancelled": true})
}

func (s *Server) handleQueryActive(w http.ResponseWriter, r *http.Request) {
	ids := s.active.Executions()
	records := make([]*execstore.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.store.Get(r.Context(), id)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": records})
}

type validateRequest struct {
	Query string `json:"query"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleQueryValidate(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	statements := policy.ClassifySQL(req.Query)
	if len(statements) == 0 {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "No statements found"})
		return
	}
	decision := policy.Authorize(p.Role, statements)
	resp := validateResponse{Valid: decision.Allowed}
	if !decision.Allowed {
		resp.Error = decision.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

// fetchRecord resolves the {id} route parameter to a record, writing the
// error response itself when the lookup fails.
func (s *Server) fetchRecord(w http.ResponseWriter, r *http.Request) (*execstore.Record, bool) {
	id := chi.URLParam(r, "id")
	rec, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, execstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Execution not found")
		} else {
			writeError(w, http.StatusInternalServerError, "Failed to read execution")
		}
		return nil, false
	}
	return rec, true
}

// mayCancel applies the cancellation permission rule: MASTER may cancel any
// execution, everyone else only their own.
func mayCancel(p Principal, rec *execstore.Record) bool {
	return p.Role == policy.RoleMaster || rec.UserID == p.UserID
}

// validateSQLTarget checks that the mode and database name the configured
// topology before anything is classified or stored.
func (s *Server) validateSQLTarget(mode, database string) error {
	if mode == sqlexec.ModeBoth {
		for _, c := range s.cfg.SQLClouds() {
			if c.HasDatabase(database) {
				return nil
			}
		}
		return fmt.Errorf("unknown database %q", database)
	}
	cc := s.cfg.SQLCloud(mode)
	if cc == nil {
		return fmt.Errorf("unknown cloud %q", mode)
	}
	if !cc.HasDatabase(database) {
		return fmt.Errorf("unknown database %q on cloud %q", database, mode)
	}
	return nil
}
