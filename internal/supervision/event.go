package supervision

// EventKind classifies inbound events.
type EventKind int

const (
	EventText EventKind = iota
	EventSelection
	EventLocation
	EventMedia
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventSelection:
		return "selection"
	case EventLocation:
		return "location"
	case EventMedia:
		return "media"
	}
	return "unknown"
}

// Event is one inbound operator action, already decoded by the transport.
type Event struct {
	Kind   EventKind
	Text   string       // text body, or the option code for a selection
	Coords *Coordinates // location events
	Media  *RawMedia    // media events
}

// RawMedia is an inbound attachment before it is collected.
type RawMedia struct {
	Kind MediaKind
	Ref  string
	MIME string
}

// Option is one menu button.
type Option struct {
	Label string
	Code  string
}

// Menu is a set of buttons laid out in Columns per row.
type Menu struct {
	Options []Option
	Columns int
}

// Rows splits the options into rows of at most Columns buttons.
func (m *Menu) Rows() [][]Option {
	cols := m.Columns
	if cols < 1 {
		cols = 1
	}
	var rows [][]Option
	for i := 0; i < len(m.Options); i += cols {
		end := i + cols
		if end > len(m.Options) {
			end = len(m.Options)
		}
		rows = append(rows, m.Options[i:end])
	}
	return rows
}

// Reply is a message sent back to the operator's chat.
type Reply struct {
	Text string
	Menu *Menu

	// Edit asks the transport to replace the message whose button was
	// pressed, falling back to a new message.
	Edit bool

	RemoveKeyboard   bool // drop any reply keyboard
	LocationKeyboard bool // offer a share-location keyboard
}

// Outcome is the result of offering an event to a recognizer.
type Outcome struct {
	Claimed bool
	Replies []Reply

	Finalize  bool // run the finalize pipeline with FinalText
	FinalText string
}

func claimed(replies ...Reply) Outcome {
	return Outcome{Claimed: true, Replies: replies}
}

// Input is what a recognizer sees. Session is nil when the scope has none.
type Input struct {
	Scope   Scope
	Session *Session
	Event   Event
}
