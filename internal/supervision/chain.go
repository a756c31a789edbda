package supervision

import "context"

// Recognizer claims inbound events. An unclaimed Outcome passes the event
// to the next recognizer of the chain.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, in Input) Outcome
}

// Chain offers an event to each recognizer in order; the first claim wins.
type Chain []Recognizer

// Recognize returns the first claiming outcome and the name of the
// recognizer that produced it. Name is empty when nobody claimed.
func (c Chain) Recognize(ctx context.Context, in Input) (Outcome, string) {
	for _, r := range c {
		if out := r.Recognize(ctx, in); out.Claimed {
			return out, r.Name()
		}
	}
	return Outcome{}, ""
}

// Names lists recognizer names in chain order.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, r := range c {
		names[i] = r.Name()
	}
	return names
}
