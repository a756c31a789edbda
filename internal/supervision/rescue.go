package supervision

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var orderCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,30}$`)

// LooksLikeOrderCode reports whether text, trimmed, has the shape of an
// order code.
func LooksLikeOrderCode(text string) bool {
	return orderCodePattern.MatchString(strings.TrimSpace(text))
}

// Rescue recovers an order code the state machine did not claim, for
// example when the operator types it while a menu is still pending.
type Rescue struct {
	machine *Machine
	log     *zap.Logger
}

// NewRescue creates a Rescue that records codes through m.
func NewRescue(m *Machine, log *zap.Logger) *Rescue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rescue{machine: m, log: log}
}

// Name implements Recognizer.
func (r *Rescue) Name() string { return "rescue" }

// Recognize implements Recognizer. It fires only for text in a scope that
// has a session without an order code.
func (r *Rescue) Recognize(ctx context.Context, in Input) Outcome {
	s := in.Session
	if s == nil || in.Event.Kind != EventText {
		return Outcome{}
	}
	if s.OrderCode != "" || s.Origin != in.Scope.Chat {
		return Outcome{}
	}
	if !LooksLikeOrderCode(in.Event.Text) {
		return Outcome{}
	}
	r.log.Warn("order code captured by rescue",
		zap.String("scope", in.Scope.Key()),
		zap.String("state", s.State.String()))
	code := strings.TrimSpace(in.Event.Text)
	r.machine.recordOrderCode(ctx, s, code)

	// Pending picks are still required; only a session with both
	// selections made moves on to the type menu.
	ack := Reply{Text: "✅ Código registrado: " + code}
	switch {
	case s.Supervisor == "":
		return claimed(ack, r.machine.StartPrompt())
	case s.Operator == "":
		return claimed(ack, r.machine.operatorPrompt())
	}
	s.State = SelectType
	return claimed(ack, typePrompt())
}
