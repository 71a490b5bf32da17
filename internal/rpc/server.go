// Package rpc is the JSON service boundary: a handler per operation,
// dispatched from an operation→handler map, with role checks consulted
// before any write reaches the core.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fabworks/shopfloor/internal/engine"
	"github.com/fabworks/shopfloor/internal/qc"
	"github.com/fabworks/shopfloor/internal/rbac"
	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// ServerVersion is stamped by the build via cmd/shopfloor.
var ServerVersion = "0.0.0"

// handlerFunc executes one operation for an authenticated actor.
type handlerFunc func(ctx context.Context, actor types.ActorContext, args json.RawMessage) (interface{}, error)

// Server dispatches RPC operations to the engine and qc services.
type Server struct {
	store     storage.Store
	engine    *engine.Engine
	qc        *qc.Service
	handlers  map[string]handlerFunc
	metrics   *Metrics
	startTime time.Time
}

// NewServer wires the operation table.
func NewServer(store storage.Store, eng *engine.Engine, qcSvc *qc.Service) *Server {
	s := &Server{
		store:     store,
		engine:    eng,
		qc:        qcSvc,
		metrics:   NewMetrics(),
		startTime: time.Now(),
	}
	s.handlers = map[string]handlerFunc{
		OpPing:   s.handlePing,
		OpHealth: s.handleHealth,

		OpTaskCreate:      s.handleTaskCreate,
		OpTaskGet:         s.handleTaskGet,
		OpTaskList:        s.handleTaskList,
		OpTaskTransition:  s.handleTaskTransition,
		OpTaskTransitions: s.handleTaskTransitions,
		OpTaskDepAdd:      s.handleDepAdd,
		OpTaskDepList:     s.handleDepList,

		OpFixCreate: s.handleFixCreate,

		OpDeliverableCreate:      s.handleDeliverableCreate,
		OpDeliverableGet:         s.handleDeliverableGet,
		OpDeliverableList:        s.handleDeliverableList,
		OpDeliverableSignoff:     s.handleSignoff,
		OpDeliverableSignoffs:    s.handleSignoffs,
		OpDeliverableSubmitToQc:  s.handleSubmitToQc,
		OpDeliverableQcDecision:  s.handleQcDecision,
		OpDeliverableInspections: s.handleInspections,
	}
	return s
}

// writePermissions maps write operations to their permission key. Read
// operations and ping/health are open to any authenticated actor.
var writePermissions = map[string]string{
	OpTaskCreate:            "task.create",
	OpTaskDepAdd:            "task.dep_add",
	OpFixCreate:             "fix.worker_initiative",
	OpDeliverableCreate:     "deliverable.create",
	OpDeliverableSignoff:    "deliverable.signoff",
	OpDeliverableSubmitToQc: "deliverable.submit_to_qc",
	OpDeliverableQcDecision: "deliverable.qc_decision",
	// task.transition resolves its permission from the decoded action.
}

// Handle executes one request for the given actor and never panics
// outward; every outcome is an envelope.
func (s *Server) Handle(ctx context.Context, actor types.ActorContext, req *Request) *Response {
	start := time.Now()
	handler, ok := s.handlers[req.Operation]
	if !ok {
		return NewErrorResponse(fmt.Errorf("unknown operation %q: %w",
			req.Operation, storage.ErrValidation))
	}
	if req.Operation != OpPing && req.Operation != OpHealth {
		if err := actor.Validate(); err != nil {
			return NewErrorResponse(fmt.Errorf("%s: %w", err, storage.ErrUnauthenticated))
		}
	}
	if perm, isWrite := writePermissions[req.Operation]; isWrite {
		if err := rbac.EnsureAllowed(perm, actor.Role); err != nil {
			return NewErrorResponse(err)
		}
	}

	data, err := handler(ctx, actor, req.Args)
	s.metrics.Record(ctx, req.Operation, time.Since(start), err)
	if err != nil {
		return NewErrorResponse(err)
	}
	return NewSuccessResponse(data)
}

// decodeArgs unmarshals operation args strictly: unknown fields are a
// validation failure.
func decodeArgs(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid args: %s: %w", err, storage.ErrValidation)
	}
	return nil
}

func (s *Server) handlePing(_ context.Context, _ types.ActorContext, _ json.RawMessage) (interface{}, error) {
	return map[string]string{"status": "ok"}, nil
}

func (s *Server) handleHealth(_ context.Context, _ types.ActorContext, _ json.RawMessage) (interface{}, error) {
	return &HealthResult{
		Status:  "healthy",
		Version: ServerVersion,
		Uptime:  time.Since(s.startTime).Seconds(),
	}, nil
}

// qcFamilyActions are deliverable operations that must never arrive as
// task transitions; they have their own operations and permission keys.
var qcFamilyActions = map[string]bool{
	"submit_to_qc": true,
	"qc_decision":  true,
	"qc_approve":   true,
	"qc_reject":    true,
	"signoff":      true,
}

func (s *Server) handleTaskTransition(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args TransitionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	action := strings.TrimSpace(args.Action)
	if qcFamilyActions[action] {
		return nil, fmt.Errorf("action %q is a deliverable operation, not a task transition: %w",
			action, storage.ErrValidation)
	}
	if err := rbac.EnsureAllowed("task."+action, actor.Role); err != nil {
		if !rbac.Known("task." + action) {
			return nil, fmt.Errorf("unknown action %q: %w", action, storage.ErrValidation)
		}
		return nil, err
	}

	res, err := s.engine.Apply(ctx, engine.Request{
		Actor:              actor,
		TaskID:             args.TaskID,
		Action:             action,
		ExpectedRowVersion: args.ExpectedRowVersion,
		Payload:            args.Payload,
		ClientEventID:      args.ClientEventID,
	})
	if err != nil {
		return nil, err
	}
	return &TransitionResult{
		Task:       res.Task,
		Transition: res.Transition,
		FixTask:    res.FixTask,
	}, nil
}

func (s *Server) handleTaskCreate(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args CreateTaskArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.engine.CreateTask(ctx, actor, engine.TaskSpec{
		ProjectID:      args.ProjectID,
		DeliverableID:  args.DeliverableID,
		Title:          args.Title,
		Description:    args.Description,
		Priority:       args.Priority,
		Kind:           types.TaskKind(args.Kind),
		OtherKindLabel: args.OtherKindLabel,
		DependsOn:      args.DependsOn,
	})
}

func (s *Server) handleTaskGet(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args GetTaskArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.store.GetTask(ctx, actor.TenantID, args.TaskID)
}

func (s *Server) handleTaskList(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args ListTasksArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	filter := types.TaskFilter{
		ProjectID:     args.ProjectID,
		DeliverableID: args.DeliverableID,
		AssignedTo:    args.AssignedTo,
		Limit:         args.Limit,
	}
	if args.Status != nil {
		st := types.TaskStatus(*args.Status)
		if !st.IsValid() {
			return nil, fmt.Errorf("invalid status %q: %w", *args.Status, storage.ErrValidation)
		}
		filter.Status = &st
	}
	if args.WorkKind != nil {
		wk := types.WorkKind(*args.WorkKind)
		if !wk.IsValid() {
			return nil, fmt.Errorf("invalid work_kind %q: %w", *args.WorkKind, storage.ErrValidation)
		}
		filter.WorkKind = &wk
	}
	return s.store.ListTasks(ctx, actor.TenantID, filter)
}

func (s *Server) handleTaskTransitions(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args GetTaskArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	if _, err := s.store.GetTask(ctx, actor.TenantID, args.TaskID); err != nil {
		return nil, err
	}
	return s.store.ListTransitions(ctx, actor.TenantID, args.TaskID)
}

func (s *Server) handleDepAdd(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args DepAddArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.engine.AddDependency(ctx, actor, args.PredecessorID, args.SuccessorID)
}

func (s *Server) handleDepList(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args GetTaskArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.store.ListDependencies(ctx, actor.TenantID, args.TaskID)
}

func (s *Server) handleFixCreate(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args FixCreateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	severity := types.FixSeverity(args.Severity)
	if args.Severity != "" && !severity.IsValid() {
		return nil, fmt.Errorf("invalid severity %q: %w", args.Severity, storage.ErrValidation)
	}
	return s.engine.CreateInitiativeFix(ctx, actor, args.TaskID, args.DeliverableID,
		args.Title, args.Description, severity, args.MinutesSpent)
}

func (s *Server) handleDeliverableCreate(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args DeliverableCreateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.qc.CreateDeliverable(ctx, actor, qc.DeliverableSpec{
		ProjectID:       args.ProjectID,
		DeliverableType: args.DeliverableType,
		Serial:          args.Serial,
	})
}

func (s *Server) handleDeliverableGet(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args DeliverableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.store.GetDeliverable(ctx, actor.TenantID, args.DeliverableID)
}

func (s *Server) handleDeliverableList(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args DeliverableListArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.store.ListDeliverables(ctx, actor.TenantID, args.ProjectID)
}

func (s *Server) handleSignoff(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args SignoffArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.qc.AddSignoff(ctx, actor, args.DeliverableID, types.SignoffResult(args.Result), args.Comment)
}

func (s *Server) handleSignoffs(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args DeliverableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.store.ListSignoffs(ctx, actor.TenantID, args.DeliverableID)
}

func (s *Server) handleSubmitToQc(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args DeliverableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.qc.SubmitToQc(ctx, actor, args.DeliverableID)
}

func (s *Server) handleQcDecision(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args QcDecisionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	decision, err := s.qc.Decide(ctx, actor, args.DeliverableID, types.QcResult(args.Result), args.Notes)
	if err != nil {
		return nil, err
	}
	return &QcDecisionResult{
		Deliverable: decision.Deliverable,
		Inspection:  decision.Inspection,
		FixTask:     decision.FixTask,
	}, nil
}

func (s *Server) handleInspections(ctx context.Context, actor types.ActorContext, raw json.RawMessage) (interface{}, error) {
	var args DeliverableArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	return s.store.ListInspections(ctx, actor.TenantID, args.DeliverableID)
}
