package supervision

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Engine routes inbound events through the recognizer chain against the
// scope's session. Events of different scopes run concurrently; events of
// one scope are serialized by the session mutex.
type Engine struct {
	store    *Store
	machine  *Machine
	pipeline *Pipeline
	chain    Chain
	log      *zap.Logger
}

// EngineOpts configures an Engine.
type EngineOpts struct {
	Store    *Store
	Machine  *Machine
	Pipeline *Pipeline
	Extra    []Recognizer // offered events after the machine and the rescue
	Logger   *zap.Logger
}

// NewEngine validates opts and assembles the chain: machine, rescue, then
// any extra recognizers in order.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("supervision: engine: store is required")
	}
	if opts.Machine == nil {
		return nil, fmt.Errorf("supervision: engine: machine is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("supervision: engine: pipeline is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	chain := Chain{opts.Machine, NewRescue(opts.Machine, log.Named("rescue"))}
	chain = append(chain, opts.Extra...)
	return &Engine{
		store:    opts.Store,
		machine:  opts.Machine,
		pipeline: opts.Pipeline,
		chain:    chain,
		log:      log,
	}, nil
}

// Chain returns the recognizer chain in the order events are offered.
func (e *Engine) Chain() Chain {
	return e.chain
}

// Store returns the session store.
func (e *Engine) Store() *Store {
	return e.store
}

// Start replaces any session of the scope with a fresh one and returns the
// first prompt.
func (e *Engine) Start(scope Scope) []Reply {
	e.store.Reset(scope)
	e.log.Info("session started", zap.String("scope", scope.Key()))
	return []Reply{e.machine.StartPrompt()}
}

// Cancel drops the scope's session, releasing its replicas.
func (e *Engine) Cancel(scope Scope) []Reply {
	if s, ok := e.store.Get(scope); ok {
		s.mu.Lock()
		e.pipeline.Cancel(s)
		s.mu.Unlock()
		e.log.Info("session cancelled", zap.String("scope", scope.Key()))
	}
	return []Reply{{Text: "❌ Proceso cancelado. Puedes usar /inicio cuando quieras.", RemoveKeyboard: true}}
}

// Handle offers ev to the chain and returns the replies for the origin
// chat. A finalize outcome runs the pipeline to completion even when ctx
// is cancelled.
func (e *Engine) Handle(ctx context.Context, scope Scope, ev Event) []Reply {
	in := Input{Scope: scope, Event: ev}
	if s, ok := e.store.Get(scope); ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		// The session may have been replaced while waiting for the lock.
		if e.store.current(s) {
			in.Session = s
		}
	}

	out, by := e.chain.Recognize(ctx, in)
	if !out.Claimed {
		e.log.Debug("event not claimed", zap.String("scope", scope.Key()), zap.Stringer("kind", ev.Kind))
		return nil
	}
	if in.Session != nil {
		e.log.Debug("event claimed",
			zap.String("scope", scope.Key()),
			zap.String("by", by),
			zap.Stringer("state", in.Session.State))
	}
	if !out.Finalize || in.Session == nil {
		return out.Replies
	}

	replies, err := e.pipeline.Finalize(context.WithoutCancel(ctx), in.Session, out.FinalText)
	switch {
	case err == nil:
		e.log.Info("session finalized", zap.String("scope", scope.Key()))
	case errors.Is(err, ErrNoDestination), errors.Is(err, ErrNoOrigin):
		e.log.Warn("session aborted", zap.String("scope", scope.Key()), zap.Error(err))
	default:
		e.log.Error("session finalize failed", zap.String("scope", scope.Key()), zap.Error(err))
	}
	return append(out.Replies, replies...)
}
