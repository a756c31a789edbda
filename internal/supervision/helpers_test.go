package supervision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/fieldaudit/internal/replica"
)

// fakeDelivery records every call in order.
type fakeDelivery struct {
	mu      sync.Mutex
	calls   []string
	texts   []string
	failOn  string // call prefix that fails, e.g. "batch"
	batches [][]MediaItem
}

func (d *fakeDelivery) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if d.failOn != "" && strings.HasPrefix(call, d.failOn) {
		return errors.New("destination unavailable")
	}
	return nil
}

func (d *fakeDelivery) SendText(_ context.Context, dest, text string) error {
	d.mu.Lock()
	d.texts = append(d.texts, text)
	d.mu.Unlock()
	return d.record("text:" + dest)
}

func (d *fakeDelivery) SendMediaBatch(_ context.Context, dest string, items []MediaItem) error {
	d.mu.Lock()
	d.batches = append(d.batches, append([]MediaItem(nil), items...))
	d.mu.Unlock()
	return d.record(fmt.Sprintf("batch:%s:%d", dest, len(items)))
}

func (d *fakeDelivery) SendLocalMedia(_ context.Context, dest string, h *replica.Handle) error {
	return d.record("local:" + dest + ":" + filepath.Base(h.Path()))
}

func (d *fakeDelivery) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeTable struct {
	mu   sync.Mutex
	rows []map[string]string
	tabs []string
	err  error
	// onAppend runs before the row is recorded.
	onAppend func()
}

func (f *fakeTable) AppendRow(_ context.Context, table string, fields map[string]string) error {
	if f.onAppend != nil {
		f.onAppend()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tabs = append(f.tabs, table)
	f.rows = append(f.rows, fields)
	return f.err
}

type fakeResolver map[string]string

func (r fakeResolver) Resolve(origin string) (string, bool) {
	dest, ok := r[origin]
	return dest, ok
}

type fakeLookup struct {
	mu    sync.Mutex
	data  map[string]TemplateData
	err   error
	calls int
}

func (f *fakeLookup) Lookup(_ context.Context, code string) (*TemplateData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if td, ok := f.data[code]; ok {
		return &td, nil
	}
	return nil, nil
}

// fakeProcessor writes a replica file for every photo.
type fakeProcessor struct {
	dir    *replica.Dir
	fail   bool
	labels []string
}

func (p *fakeProcessor) Process(_ context.Context, ref string, _ *Coordinates, label string) *replica.Handle {
	p.labels = append(p.labels, label)
	if p.fail {
		return nil
	}
	h, err := p.dir.Create("wm", ".jpg")
	if err != nil {
		return nil
	}
	if err := os.WriteFile(h.Path(), []byte(ref), 0o644); err != nil {
		return nil
	}
	return h
}

var fixedNow = time.Date(2026, 3, 2, 15, 4, 5, 0, time.UTC)

type harness struct {
	store    *Store
	delivery *fakeDelivery
	table    *fakeTable
	resolver fakeResolver
	lookup   *fakeLookup
	proc     *fakeProcessor
	machine  *Machine
	pipeline *Pipeline
	engine   *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    NewStore(nil),
		delivery: &fakeDelivery{},
		table:    &fakeTable{},
		resolver: fakeResolver{"-100": "-200"},
		lookup:   &fakeLookup{data: map[string]TemplateData{}},
		proc:     &fakeProcessor{dir: replica.NewDir(t.TempDir())},
	}
	now := func() time.Time { return fixedNow }
	collector := NewCollector(CollectorOpts{MaxMedia: DefaultMaxMedia, Processor: h.proc, Now: now})
	h.machine = NewMachine(DefaultCatalog(), collector, h.lookup, nil)

	var err error
	h.pipeline, err = NewPipeline(PipelineOpts{
		Store:    h.store,
		Catalog:  DefaultCatalog(),
		Resolver: h.resolver,
		Delivery: h.delivery,
		Table:    h.table,
		Now:      now,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	h.engine, err = NewEngine(EngineOpts{Store: h.store, Machine: h.machine, Pipeline: h.pipeline})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return h
}

var testScope = Scope{Chat: "-100", User: "42"}

func sel(code string) Event { return Event{Kind: EventSelection, Text: code} }
func text(body string) Event { return Event{Kind: EventText, Text: body} }
func photo(ref string) Event { return Event{Kind: EventMedia, Media: &RawMedia{Kind: MediaPhoto, Ref: ref}} }
func video(ref string) Event { return Event{Kind: EventMedia, Media: &RawMedia{Kind: MediaVideo, Ref: ref}} }
func loc(lat, lon float64) Event {
	return Event{Kind: EventLocation, Coords: &Coordinates{Lat: lat, Lon: lon}}
}

// drive sends events in order and returns the replies of the last one.
func (h *harness) drive(t *testing.T, events ...Event) []Reply {
	t.Helper()
	var replies []Reply
	for _, ev := range events {
		replies = h.engine.Handle(context.Background(), testScope, ev)
	}
	return replies
}

// toFacade starts a session and walks it to facade collection.
func (h *harness) toFacade(t *testing.T) *Session {
	t.Helper()
	h.engine.Start(testScope)
	h.drive(t, sel(SupervisorCode(0)), sel(OperatorCode(0)), text("PED123"), sel(CodeTypeCold), loc(-12.05, -77.03))
	s, ok := h.store.Get(testScope)
	if !ok {
		t.Fatal("session missing after setup")
	}
	if s.State != CollectFacadeMedia {
		t.Fatalf("State = %v, want %v", s.State, CollectFacadeMedia)
	}
	return s
}

func replyText(replies []Reply) string {
	var parts []string
	for _, r := range replies {
		parts = append(parts, r.Text)
	}
	return strings.Join(parts, "\n---\n")
}
