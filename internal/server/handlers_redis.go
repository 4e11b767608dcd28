package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/dbfleet/internal/kvscan"
	"github.com/giantswarm/dbfleet/internal/logging"
	"github.com/giantswarm/dbfleet/internal/policy"
	"github.com/giantswarm/dbfleet/internal/pool"
)

// KVRunner executes one command against a key-value cloud. Abstracted so
// handler tests can script per-cloud outcomes.
type KVRunner interface {
	Do(ctx context.Context, cloud string, args []any) (any, error)
}

// RegistryKVRunner routes commands through the pool registry's shared
// cluster clients.
type RegistryKVRunner struct {
	Registry *pool.Registry
}

// Do implements KVRunner.
func (r *RegistryKVRunner) Do(ctx context.Context, cloud string, args []any) (any, error) {
	client, err := r.Registry.KVClient(cloud)
	if err != nil {
		return nil, err
	}
	return client.Do(ctx, args...).Result()
}

type redisExecuteRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cloud   string   `json:"cloud"`
	Raw     bool     `json:"raw,omitempty"`
}

// cloudOutcome is one cloud's result in the synchronous fan-out.
type cloudOutcome struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

func (s *Server) handleRedisExecute(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req redisExecuteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if req.Cloud == "" {
		writeError(w, http.StatusBadRequest, "cloud is required")
		return
	}
	targets, err := s.kvTargets(req.Cloud)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision := policy.ClassifyRedisCommand(p.Role, req.Command, req.Args, req.Raw)
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, decision.Reason)
		return
	}

	args := commandArgs(req)
	outcomes := make(map[string]cloudOutcome, len(targets))
	var mu sync.Mutex

	g := new(errgroup.Group)
	for _, cloud := range targets {
		g.Go(func() error {
			start := time.Now()
			data, err := s.kvRunner.Do(r.Context(), cloud, args)
			outcome := cloudOutcome{DurationMs: time.Since(start).Milliseconds()}
			if err != nil {
				outcome.Error = logging.SanitizeHost(err.Error())
			} else {
				outcome.Success = true
				outcome.Data = data
			}
			mu.Lock()
			outcomes[cloud] = outcome
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	success := true
	for _, o := range outcomes {
		if !o.Success {
			success = false
			break
		}
	}

	// Wire shape keys per-cloud results directly on the response object.
	body := map[string]any{
		"id":      uuid.NewString(),
		"success": success,
		"command": strings.ToUpper(strings.Fields(req.Command)[0]),
	}
	for cloud, outcome := range outcomes {
		body[cloud] = outcome
	}
	writeJSON(w, http.StatusOK, body)
}

type scanRequest struct {
	Pattern   string `json:"pattern"`
	Cloud     string `json:"cloud"`
	Action    string `json:"action"`
	ScanCount int64  `json:"scanCount,omitempty"`
}

func (s *Server) handleRedisScan(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Malformed request body")
		return
	}
	if req.Action != kvscan.ActionPreview && req.Action != kvscan.ActionDelete {
		writeError(w, http.StatusBadRequest, "action must be preview or delete")
		return
	}
	if req.Cloud == "" {
		writeError(w, http.StatusBadRequest, "cloud is required")
		return
	}
	if _, err := s.kvTargets(req.Cloud); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	decision := policy.AuthorizeScan(p.Role, req.Pattern, req.Action == kvscan.ActionDelete)
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, decision.Reason)
		return
	}

	id := uuid.NewString()
	if err := s.store.Init(r.Context(), id, p.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to initialise execution")
		return
	}
	go s.kvExec.Run(context.Background(), id, kvscan.Request{
		Pattern:   req.Pattern,
		Cloud:     req.Cloud,
		Action:    req.Action,
		ScanCount: req.ScanCount,
	})

	s.logger.Info("accepted cache scan",
		logging.ExecutionID(id),
		logging.UserHash(p.UserID),
		logging.Pattern(req.Pattern))
	writeJSON(w, http.StatusOK, executeResponse{ExecutionID: id})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.fetchRecord(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.fetchRecord(w, r)
	if !ok {
		return
	}
	p, _ := principalFrom(r.Context())
	if !mayCancel(p, rec) {
		writeError(w, http.StatusForbidden, "Not permitted to cancel this execution")
		return
	}
	if err := s.kvExec.Cancel(r.Context(), rec.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to cancel execution")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executionId": rec.ID, "cancelled": true})
}

// kvTargets resolves the cloud selector to configured key-value clouds.
func (s *Server) kvTargets(cloud string) ([]string, error) {
	if cloud == kvscan.CloudAll {
		names := make([]string, 0, len(s.cfg.KVClouds))
		for _, c := range s.cfg.KVClouds {
			names = append(names, c.CloudName)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("no key-value clouds configured")
		}
		return names, nil
	}
	if s.cfg.KVCloud(cloud) == nil {
		return nil, fmt.Errorf("unknown cloud %q", cloud)
	}
	return []string{cloud}, nil
}

// commandArgs flattens the request into driver arguments. Raw commands carry
// the whole command line in the command field.
func commandArgs(req redisExecuteRequest) []any {
	var fields []string
	if req.Raw {
		fields = strings.Fields(req.Command)
	} else {
		fields = append([]string{req.Command}, req.Args...)
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return args
}
