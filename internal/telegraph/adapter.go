// Package telegraph bridges chat platforms (Telegram, Discord, Slack) to the
// supervision engine.
package telegraph

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/fieldaudit/internal/supervision"
)

// ErrNotConnected is returned by adapters used before Connect or after Close.
var ErrNotConnected = errors.New("telegraph: adapter not connected")

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel is closed when
	// the adapter is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundEvent, error)

	// Send delivers a text message, with an optional button menu.
	Send(ctx context.Context, msg OutboundMessage) error

	// SendMediaBatch sends remote photos and videos to chat as one group.
	SendMediaBatch(ctx context.Context, chat string, items []supervision.MediaItem) error

	// SendLocal uploads a local photo file to chat.
	SendLocal(ctx context.Context, chat, path string) error

	// Fetch downloads the content behind a platform media reference.
	Fetch(ctx context.Context, ref string) ([]byte, error)

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// EventKind classifies inbound events.
type EventKind int

const (
	KindText EventKind = iota
	KindCommand
	KindSelection
	KindLocation
	KindMedia
)

func (k EventKind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindCommand:
		return "command"
	case KindSelection:
		return "selection"
	case KindLocation:
		return "location"
	case KindMedia:
		return "media"
	}
	return "unknown"
}

// InboundEvent is one operator action received from the chat platform.
type InboundEvent struct {
	Platform string // e.g. "telegram", "discord"
	Kind     EventKind
	ChatID   string
	Group    bool // the chat is a group, not a private conversation
	UserID   string
	UserName string

	// MessageID identifies the message carrying the pressed button for
	// selections, so replies can edit it in place.
	MessageID string

	Command string // command name without the slash, KindCommand only
	Args    string // text after the command
	Text    string // message text, or the option code for a selection

	Coords *supervision.Coordinates
	Media  *supervision.RawMedia

	Timestamp time.Time
}

// OutboundMessage is a message to be sent to the chat platform.
type OutboundMessage struct {
	ChatID string
	Text   string
	Menu   *supervision.Menu

	// EditID is the message to replace. Adapters that cannot edit send a
	// new message instead.
	EditID string

	RemoveKeyboard   bool
	LocationKeyboard bool
}

// SplitCommand parses "/name@bot args" into its name and arguments. It
// reports false when text is not a command.
func SplitCommand(text string) (name, args string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// ParseCoordinates reads a "lat,lon" text, the way operators share a
// location on platforms without native location messages.
func ParseCoordinates(text string) (*supervision.Coordinates, bool) {
	a, b, ok := strings.Cut(strings.TrimSpace(text), ",")
	if !ok {
		return nil, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return nil, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil || math.IsNaN(lon) || lon < -180 || lon > 180 {
		return nil, false
	}
	return &supervision.Coordinates{Lat: lat, Lon: lon}, true
}
