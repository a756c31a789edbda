package telegraph

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zulandar/fieldaudit/internal/supervision"
)

// MockAdapter implements Adapter for testing. It records everything sent
// and allows simulating inbound events via SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundEvent
	sent      []OutboundMessage
	batches   []Batch
	locals    []Local
	files     map[string][]byte
	botUserID string

	// SendFunc, when set, is called before a message is recorded; a
	// non-nil error fails the send.
	SendFunc func(OutboundMessage) error
}

// Batch is one recorded SendMediaBatch call.
type Batch struct {
	Chat  string
	Items []supervision.MediaItem
}

// Local is one recorded SendLocal call. Data is the file content at the
// time of the call.
type Local struct {
	Chat string
	Path string
	Data []byte
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundEvent, 100),
		files:   make(map[string][]byte),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	return m.inbound, nil
}

// Send records the outbound message.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	if m.SendFunc != nil {
		if err := m.SendFunc(msg); err != nil {
			return err
		}
	}
	m.sent = append(m.sent, msg)
	return nil
}

// SendMediaBatch records the batch.
func (m *MockAdapter) SendMediaBatch(ctx context.Context, chat string, items []supervision.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.batches = append(m.batches, Batch{Chat: chat, Items: append([]supervision.MediaItem(nil), items...)})
	return nil
}

// SendLocal records the upload along with the file content.
func (m *MockAdapter) SendLocal(ctx context.Context, chat, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("mock adapter: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.locals = append(m.locals, Local{Chat: chat, Path: path, Data: data})
	return nil
}

// Fetch returns the content registered with SetFile.
func (m *MockAdapter) Fetch(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[ref]
	if !ok {
		return nil, fmt.Errorf("mock adapter: no file %q", ref)
	}
	return data, nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends an event into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(ev InboundEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	m.inbound <- ev
}

// SetFile registers content returned by Fetch for ref.
func (m *MockAdapter) SetFile(ref string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[ref] = data
}

// LastSent returns the most recently sent outbound message.
func (m *MockAdapter) LastSent() (OutboundMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return OutboundMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of outbound messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent outbound messages.
func (m *MockAdapter) AllSent() []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// Batches returns a copy of all recorded media batches.
func (m *MockAdapter) Batches() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Batch(nil), m.batches...)
}

// Locals returns a copy of all recorded local uploads.
func (m *MockAdapter) Locals() []Local {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Local(nil), m.locals...)
}
