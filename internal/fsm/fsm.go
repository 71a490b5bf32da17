// Package fsm holds the task state machine: a pure transition table with
// per-action payload constraints and declarative side effects.
//
// The package performs no I/O. Given (current status, action, payload) it
// returns the new status plus the side effects the executor must run in
// the same transaction, or a TransitionError.
package fsm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fabworks/shopfloor/internal/storage"
	"github.com/fabworks/shopfloor/internal/types"
)

// Action is the closed set of task transitions. The string form is part
// of the external contract; it is translated into this enum exactly once
// at the boundary via ParseAction.
type Action string

// Task actions
const (
	ActionUnblock       Action = "unblock"
	ActionSelfAssign    Action = "self_assign"
	ActionAssign        Action = "assign"
	ActionStart         Action = "start"
	ActionSubmit        Action = "submit"
	ActionReviewApprove Action = "review_approve"
	ActionReviewReject  Action = "review_reject"
	ActionShiftRelease  Action = "shift_release"
	ActionRecallToPool  Action = "recall_to_pool"
	ActionEscalate      Action = "escalate"
	ActionCancel        Action = "cancel"
)

// SideEffectKind names a declarative side effect emitted by the table.
type SideEffectKind string

// Side effect kinds
const (
	EffectCreateFixTask SideEffectKind = "create_fix_task"
	EffectEscalate      SideEffectKind = "escalate"
)

// SideEffect is a declarative instruction for the executor; the FSM never
// performs the effect itself.
type SideEffect struct {
	Kind    SideEffectKind
	Payload types.Payload
}

// Outcome is the result of evaluating one action.
type Outcome struct {
	To      types.TaskStatus
	Effects []SideEffect
	// NoVersionBump marks actions (escalate) that persist an audit row
	// without changing status or row_version.
	NoVersionBump bool
}

// rule is one row of the transition table.
type rule struct {
	from map[types.TaskStatus]bool
	to   types.TaskStatus
	// anyNonTerminal widens from to every non-terminal status.
	anyNonTerminal bool
	// keepStatus leaves the task in its current status.
	keepStatus bool
}

var transitions = map[Action]rule{
	ActionUnblock:       {from: statuses(types.StatusBlocked), to: types.StatusAvailable},
	ActionSelfAssign:    {from: statuses(types.StatusAvailable), to: types.StatusAssigned},
	ActionAssign:        {from: statuses(types.StatusAvailable), to: types.StatusAssigned},
	ActionStart:         {from: statuses(types.StatusAssigned), to: types.StatusInProgress},
	ActionSubmit:        {from: statuses(types.StatusInProgress), to: types.StatusSubmitted},
	ActionReviewApprove: {from: statuses(types.StatusSubmitted), to: types.StatusDone},
	ActionReviewReject:  {from: statuses(types.StatusSubmitted), to: types.StatusInProgress},
	ActionShiftRelease:  {from: statuses(types.StatusAssigned, types.StatusInProgress), to: types.StatusAvailable},
	ActionRecallToPool:  {from: statuses(types.StatusAssigned, types.StatusInProgress), to: types.StatusAvailable},
	ActionEscalate:      {anyNonTerminal: true, keepStatus: true},
	ActionCancel:        {anyNonTerminal: true, to: types.StatusCanceled},
}

func statuses(ss ...types.TaskStatus) map[types.TaskStatus]bool {
	m := make(map[types.TaskStatus]bool, len(ss))
	for _, s := range ss {
		m[s] = true
	}
	return m
}

// ParseAction translates the wire action string into the closed enum.
// Unknown actions report a TransitionError listing every known action.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.TrimSpace(raw))
	if _, ok := transitions[a]; !ok {
		return "", &TransitionError{
			Action:  strings.TrimSpace(raw),
			Allowed: allActions(),
			Reason:  fmt.Sprintf("unknown action %q", strings.TrimSpace(raw)),
		}
	}
	return a, nil
}

// Eval computes the outcome of applying action to a task in the given
// status. It validates the payload constraints the action carries but
// touches no storage.
func Eval(current types.TaskStatus, action Action, payload types.Payload) (Outcome, error) {
	r, ok := transitions[action]
	if !ok {
		return Outcome{}, &TransitionError{
			Action:  string(action),
			From:    current,
			Allowed: allActions(),
			Reason:  fmt.Sprintf("unknown action %q", action),
		}
	}

	if !allowedFrom(r, current) {
		return Outcome{}, &TransitionError{
			Action:  string(action),
			From:    current,
			Allowed: AllowedActions(current),
			Reason: fmt.Sprintf("action %q not allowed from status %q",
				action, current),
		}
	}

	out := Outcome{To: r.to}
	if r.keepStatus {
		out.To = current
	}

	switch action {
	case ActionAssign:
		if payload.String("assign_to") == "" {
			return Outcome{}, &TransitionError{
				Action:  string(action),
				From:    current,
				Allowed: AllowedActions(current),
				Reason:  "action \"assign\" requires payload.assign_to",
			}
		}
	case ActionEscalate:
		if strings.TrimSpace(payload.String("message")) == "" {
			return Outcome{}, &TransitionError{
				Action:  string(action),
				From:    current,
				Allowed: AllowedActions(current),
				Reason:  "action \"escalate\" requires payload.message",
			}
		}
		out.NoVersionBump = true
		out.Effects = append(out.Effects, SideEffect{
			Kind:    EffectEscalate,
			Payload: types.Payload{"message": strings.TrimSpace(payload.String("message"))},
		})
	case ActionReviewReject:
		severity := strings.TrimSpace(payload.String("severity"))
		if severity != "" && !types.FixSeverity(severity).IsValid() {
			return Outcome{}, &TransitionError{
				Action:  string(action),
				From:    current,
				Allowed: AllowedActions(current),
				Reason:  fmt.Sprintf("invalid severity %q", severity),
			}
		}
		effect := types.Payload{
			"reason":    strings.TrimSpace(payload.String("reason")),
			"fix_title": strings.TrimSpace(payload.String("fix_title")),
			"severity":  severity,
		}
		if assignTo := strings.TrimSpace(payload.String("assign_to")); assignTo != "" {
			effect["assign_to"] = assignTo
		}
		out.Effects = append(out.Effects, SideEffect{
			Kind:    EffectCreateFixTask,
			Payload: effect,
		})
	}

	return out, nil
}

func allowedFrom(r rule, current types.TaskStatus) bool {
	if r.anyNonTerminal {
		return !current.IsTerminal()
	}
	return r.from[current]
}

// AllowedActions enumerates the actions valid from the given status, in
// stable order, for error messages.
func AllowedActions(current types.TaskStatus) []string {
	var out []string
	for a, r := range transitions {
		if allowedFrom(r, current) {
			out = append(out, string(a))
		}
	}
	sort.Strings(out)
	return out
}

func allActions() []string {
	out := make([]string, 0, len(transitions))
	for a := range transitions {
		out = append(out, string(a))
	}
	sort.Strings(out)
	return out
}

// TransitionError reports a rejected transition: the action, the status it
// was attempted from, and the actions that would have been allowed.
type TransitionError struct {
	Action  string
	From    types.TaskStatus
	Allowed []string
	Reason  string
}

func (e *TransitionError) Error() string {
	msg := e.Reason
	if len(e.Allowed) > 0 {
		msg += fmt.Sprintf(" (allowed: %s)", strings.Join(e.Allowed, ", "))
	}
	return msg
}

// Unwrap ties the error into the shared kind taxonomy.
func (e *TransitionError) Unwrap() error {
	return storage.ErrTransitionNotAllowed
}
