package telegraph

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/fieldaudit/internal/links"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/templates"
)

// memTemplates is an in-memory templates.Store.
type memTemplates struct {
	mu      sync.Mutex
	records []templates.Record
}

func (m *memTemplates) AppendTemplate(_ context.Context, r templates.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memTemplates) DeleteLastTemplate(_ context.Context, chat, user, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.Chat == chat && r.User == user && r.Form.OrderCode == code {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type fakeCache struct{ cleared int }

func (f *fakeCache) ClearCache() { f.cleared++ }

type fixture struct {
	adapter  *MockAdapter
	registry *links.Registry
	store    *supervision.Store
	engine   *supervision.Engine
	forms    *memTemplates
	cache    *fakeCache
	commands *CommandHandler
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		adapter: NewMockAdapter(),
		store:   supervision.NewStore(nil),
		forms:   &memTemplates{},
		cache:   &fakeCache{},
	}
	if err := f.adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var err error
	f.registry, err = links.NewRegistry(links.RegistryOpts{
		Store: links.NewFileStore(filepath.Join(t.TempDir(), "links.json"), nil),
		Keys:  []string{"rafael", "nelson"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := f.registry.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}

	catalog := supervision.DefaultCatalog()
	collector := supervision.NewCollector(supervision.CollectorOpts{})
	machine := supervision.NewMachine(catalog, collector, nil, nil)
	pipeline, err := supervision.NewPipeline(supervision.PipelineOpts{
		Store:    f.store,
		Catalog:  catalog,
		Resolver: f.registry,
		Delivery: NewDelivery(f.adapter),
		Now:      func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	capture := templates.NewCapture(templates.CaptureOpts{Store: f.forms, NewID: func() string { return "uuid-1" }})
	f.engine, err = supervision.NewEngine(supervision.EngineOpts{
		Store:    f.store,
		Machine:  machine,
		Pipeline: pipeline,
		Extra:    []supervision.Recognizer{capture},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.commands, err = NewCommandHandler(CommandHandlerOpts{
		Engine:   f.engine,
		Registry: f.registry,
		Capture:  capture,
		Cache:    f.cache,
	})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}
	f.router, err = NewRouter(RouterOpts{Engine: f.engine, Commands: f.commands, Adapter: f.adapter, BotUserID: "bot"})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return f
}

const (
	auditChat    = "-100"
	evidenceChat = "-200"
	operator     = "42"
)

func command(chat, line string) InboundEvent {
	name, args, _ := SplitCommand(line)
	return InboundEvent{Platform: "mock", Kind: KindCommand, ChatID: chat, Group: true, UserID: operator, Command: name, Args: args}
}

func textEvent(chat, body string) InboundEvent {
	return InboundEvent{Platform: "mock", Kind: KindText, ChatID: chat, Group: true, UserID: operator, Text: body}
}

func selection(code, messageID string) InboundEvent {
	return InboundEvent{Platform: "mock", Kind: KindSelection, ChatID: auditChat, Group: true, UserID: operator, Text: code, MessageID: messageID}
}

func location(lat, lon float64) InboundEvent {
	return InboundEvent{Platform: "mock", Kind: KindLocation, ChatID: auditChat, Group: true, UserID: operator,
		Coords: &supervision.Coordinates{Lat: lat, Lon: lon}}
}

func media(kind supervision.MediaKind, ref string) InboundEvent {
	return InboundEvent{Platform: "mock", Kind: KindMedia, ChatID: auditChat, Group: true, UserID: operator,
		Media: &supervision.RawMedia{Kind: kind, Ref: ref}}
}

// lastText returns the text of the most recent message sent.
func (f *fixture) lastText(t *testing.T) string {
	t.Helper()
	msg, ok := f.adapter.LastSent()
	if !ok {
		t.Fatal("no message sent")
	}
	return msg.Text
}
