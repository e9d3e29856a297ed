package domain

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal replenishment transition")

type Action string

const (
	ActionUpdate  Action = "update"
	ActionCancel  Action = "cancel"
	ActionResume  Action = "resume"
	ActionExecute Action = "execute"
	ActionFail    Action = "fail"
	ActionRemove  Action = "remove"
)

// transitions lists the actions each status accepts. Execute stays open for canceled and
// failed rows because a delivery already in flight still has to be booked.
var transitions = map[ReplenishmentStatus]map[Action]bool{
	StatusScheduled: {ActionUpdate: true, ActionCancel: true, ActionExecute: true, ActionFail: true, ActionRemove: true},
	StatusActive:    {ActionUpdate: true, ActionCancel: true, ActionExecute: true, ActionFail: true, ActionRemove: true},
	StatusCanceled:  {ActionResume: true, ActionExecute: true, ActionRemove: true},
	StatusFailed:    {ActionExecute: true, ActionRemove: true},
	StatusFinished:  {ActionRemove: true},
}

type TransitionError struct {
	From   ReplenishmentStatus
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a %s replenishment", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// Can reports whether action is legal from s. Unknown statuses accept nothing.
func (s ReplenishmentStatus) Can(action Action) error {
	if transitions[s][action] {
		return nil
	}
	return &TransitionError{From: s, Action: action}
}

// Armed reports whether a row in this status is expected to hold a live trigger.
func (s ReplenishmentStatus) Armed() bool {
	return s == StatusScheduled || s == StatusActive
}
