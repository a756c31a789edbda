package supervision

import (
	"context"
	"strings"
	"testing"
)

func TestLooksLikeOrderCode(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"ab", false},
		{"abc", true},
		{"PED-123", true},
		{" PED_9 ", true},
		{"PED 123", false},
		{"PED#1", false},
		{"123456789012345678901234567890", true},
		{"1234567890123456789012345678901", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := LooksLikeOrderCode(tc.in); got != tc.want {
			t.Errorf("LooksLikeOrderCode(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRescue_FiresOnDesyncedCode(t *testing.T) {
	h := newHarness(t)
	h.engine.Start(testScope)
	h.lookup.data["PED-123"] = TemplateData{Manager: "Rosa"}

	// Still waiting for a supervisor pick; the machine leaves text alone.
	replies := h.drive(t, text("PED-123"))
	s, _ := h.store.Get(testScope)
	if s.OrderCode != "PED-123" {
		t.Fatalf("OrderCode = %q, want PED-123", s.OrderCode)
	}
	if s.State != SelectSupervisor {
		t.Errorf("State = %v, want %v", s.State, SelectSupervisor)
	}
	if s.Template.Manager != "Rosa" {
		t.Errorf("Template = %+v, want lookup applied", s.Template)
	}
	if len(replies) != 2 || !strings.HasPrefix(replies[1].Text, "PASO 1") || replies[1].Menu == nil {
		t.Errorf("replies = %q, want the supervisor menu again", replyText(replies))
	}
}

func TestRescue_KeepsPendingSelections(t *testing.T) {
	h := newHarness(t)
	h.engine.Start(testScope)

	h.drive(t, text("hola"), sel(SupervisorCode(0)))
	s, _ := h.store.Get(testScope)
	if s.State != SelectOperator || s.Supervisor == "" {
		t.Fatalf("after supervisor pick: State = %v Supervisor = %q", s.State, s.Supervisor)
	}

	replies := h.drive(t, sel(OperatorCode(0)))
	if s.State != SelectType || s.Operator == "" {
		t.Fatalf("after operator pick: State = %v Operator = %q", s.State, s.Operator)
	}
	if len(replies) != 1 || !strings.HasPrefix(replies[0].Text, "PASO 4") {
		t.Errorf("replies = %q, want the type menu", replyText(replies))
	}
	if s.OrderCode != "hola" {
		t.Errorf("OrderCode = %q, want hola", s.OrderCode)
	}
}

func TestRescue_DuringOperatorPick(t *testing.T) {
	h := newHarness(t)
	h.engine.Start(testScope)

	replies := h.drive(t, sel(SupervisorCode(0)), text("PED-9"))
	s, _ := h.store.Get(testScope)
	if s.State != SelectOperator || s.OrderCode != "PED-9" {
		t.Fatalf("State = %v OrderCode = %q", s.State, s.OrderCode)
	}
	if last := replies[len(replies)-1]; !strings.HasPrefix(last.Text, "PASO 2") || last.Edit {
		t.Errorf("last reply = %+v, want a fresh operator menu", last)
	}
}

func TestRescue_IgnoresShortText(t *testing.T) {
	h := newHarness(t)
	h.engine.Start(testScope)
	if replies := h.drive(t, text("ab")); len(replies) != 0 {
		t.Errorf("replies = %q, want none", replyText(replies))
	}
	s, _ := h.store.Get(testScope)
	if s.OrderCode != "" || s.State != SelectSupervisor {
		t.Errorf("OrderCode = %q State = %v", s.OrderCode, s.State)
	}
}

func TestRescue_Conditions(t *testing.T) {
	h := newHarness(t)
	r := NewRescue(h.machine, nil)
	ctx := context.Background()

	if out := r.Recognize(ctx, Input{Scope: testScope, Event: text("PED123")}); out.Claimed {
		t.Error("fired without a session")
	}

	s := newSession(testScope, fixedNow)
	s.OrderCode = "OLD1"
	if out := r.Recognize(ctx, Input{Scope: testScope, Session: s, Event: text("PED123")}); out.Claimed {
		t.Error("fired on a session that already has a code")
	}

	s = newSession(testScope, fixedNow)
	if out := r.Recognize(ctx, Input{Scope: testScope, Session: s, Event: sel("PED123")}); out.Claimed {
		t.Error("fired on a selection event")
	}

	other := Scope{Chat: "-999", User: testScope.User}
	if out := r.Recognize(ctx, Input{Scope: other, Session: s, Event: text("PED123")}); out.Claimed {
		t.Error("fired for a session started in another chat")
	}

	if out := r.Recognize(ctx, Input{Scope: testScope, Session: s, Event: text("PED123")}); !out.Claimed {
		t.Error("did not fire on a valid code")
	}
}
