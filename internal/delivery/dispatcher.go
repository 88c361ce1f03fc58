// Package delivery sends a generated reply back to the user, preferring the
// event's reply token and falling back to a push when the token has expired.
package delivery

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/comigor/line-relay/internal/line"
	"github.com/comigor/line-relay/internal/logger"
)

// Messenger is the subset of the messaging API used for delivery.
type Messenger interface {
	Reply(ctx context.Context, replyToken string, msgs []line.Message) error
	Push(ctx context.Context, to string, msgs []line.Message) error
}

// FSM states
type State string

const (
	StatePending        State = "Pending"
	StateReplyAttempted State = "ReplyAttempted"
	StatePushFallback   State = "PushFallback"
	StateDelivered      State = "Delivered"
	StateFailed         State = "Failed"
)

// FSM triggers
type Trigger string

const (
	TriggerAttemptReply Trigger = "AttemptReply"
	TriggerNoReplyToken Trigger = "NoReplyToken"
	TriggerTokenExpired Trigger = "TokenExpired"
	TriggerAccepted     Trigger = "Accepted"
	TriggerRejected     Trigger = "Rejected"
)

// Method tells how a message reached the user.
type Method string

const (
	MethodReply Method = "reply"
	MethodPush  Method = "push"
)

// Dispatcher delivers texts. It holds no per-message state; every Deliver call
// runs its own state machine.
type Dispatcher struct {
	messenger Messenger
}

// New creates a Dispatcher.
func New(m Messenger) *Dispatcher {
	return &Dispatcher{messenger: m}
}

// attempt is the per-message context carried as the argument of every trigger.
type attempt struct {
	userID     string
	replyToken string
	msgs       []line.Message

	method Method
	err    error
}

func attemptArg(args []any) (*attempt, error) {
	if len(args) > 0 {
		if a, ok := args[0].(*attempt); ok {
			return a, nil
		}
	}
	return nil, errors.New("delivery: trigger fired without attempt")
}

// newMachine builds the delivery machine. Entering ReplyAttempted sends the
// reply and entering PushFallback sends the push; each action fires the
// trigger for its outcome. Pending is the only state that permits
// AttemptReply, so a message is never replied to once push has been chosen.
func (d *Dispatcher) newMachine() *stateless.StateMachine {
	sm := stateless.NewStateMachineWithMode(StatePending, stateless.FiringQueued)

	sm.Configure(StatePending).
		Permit(TriggerAttemptReply, StateReplyAttempted).
		Permit(TriggerNoReplyToken, StatePushFallback)

	sm.Configure(StateReplyAttempted).
		OnEntry(func(ctx context.Context, args ...any) error {
			a, err := attemptArg(args)
			if err != nil {
				return err
			}
			err = d.messenger.Reply(ctx, a.replyToken, a.msgs)
			switch {
			case err == nil:
				a.method = MethodReply
				return sm.FireCtx(ctx, TriggerAccepted, a)
			case line.IsInvalidReplyToken(err):
				logger.L.Warn("reply token rejected", "user", a.userID, "error", err)
				return sm.FireCtx(ctx, TriggerTokenExpired, a)
			default:
				a.err = fmt.Errorf("reply: %w", err)
				return sm.FireCtx(ctx, TriggerRejected, a)
			}
		}).
		Permit(TriggerAccepted, StateDelivered).
		Permit(TriggerTokenExpired, StatePushFallback).
		Permit(TriggerRejected, StateFailed)

	sm.Configure(StatePushFallback).
		OnEntry(func(ctx context.Context, args ...any) error {
			a, err := attemptArg(args)
			if err != nil {
				return err
			}
			logger.L.Info("delivering by push", "user", a.userID)
			if err := d.messenger.Push(ctx, a.userID, a.msgs); err != nil {
				a.err = fmt.Errorf("push: %w", err)
				return sm.FireCtx(ctx, TriggerRejected, a)
			}
			a.method = MethodPush
			return sm.FireCtx(ctx, TriggerAccepted, a)
		}).
		Permit(TriggerAccepted, StateDelivered).
		Permit(TriggerRejected, StateFailed)

	sm.Configure(StateDelivered)
	sm.Configure(StateFailed)

	return sm
}

// Deliver sends text to userID. Only an invalid or expired reply token leads to
// a push; every other delivery error is returned without trying push.
func (d *Dispatcher) Deliver(ctx context.Context, userID, replyToken, text string) (Method, error) {
	a := &attempt{userID: userID, replyToken: replyToken, msgs: line.TextMessages(text)}
	return d.run(ctx, d.newMachine(), a)
}

func (d *Dispatcher) run(ctx context.Context, sm *stateless.StateMachine, a *attempt) (Method, error) {
	start := TriggerAttemptReply
	if a.replyToken == "" {
		start = TriggerNoReplyToken
	}
	if err := sm.FireCtx(ctx, start, a); err != nil {
		return "", fmt.Errorf("delivery state machine: %w", err)
	}

	state, err := sm.State(ctx)
	if err != nil {
		return "", fmt.Errorf("delivery state machine: %w", err)
	}
	switch state {
	case StateDelivered:
		return a.method, nil
	case StateFailed:
		return "", a.err
	}
	return "", fmt.Errorf("delivery stopped in state %v", state)
}
