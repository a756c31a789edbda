package links

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/fieldaudit/internal/config"
	"github.com/zulandar/fieldaudit/internal/db"
)

type memStore struct {
	cfg     Config
	saves   int
	saveErr error
	loadErr error
}

func (m *memStore) Load(context.Context) (Config, error) {
	return m.cfg.clone(), m.loadErr
}

func (m *memStore) Save(_ context.Context, cfg Config) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.cfg = cfg.clone()
	return nil
}

var testKeys = []string{"rafael", "edgar", "pruebas"}

func newRegistry(t *testing.T, s Store) *Registry {
	t.Helper()
	r, err := NewRegistry(RegistryOpts{Store: s, Keys: testKeys})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

// --- Registry tests ---

func TestNewRegistry_Required(t *testing.T) {
	if _, err := NewRegistry(RegistryOpts{Keys: testKeys}); err == nil {
		t.Error("expected error without store")
	}
	if _, err := NewRegistry(RegistryOpts{Store: &memStore{}}); err == nil {
		t.Error("expected error without keys")
	}
}

func TestRegistry_SetEvidenceAndLink(t *testing.T) {
	ctx := context.Background()
	s := &memStore{}
	r := newRegistry(t, s)

	if _, ok := r.Resolve("-100"); ok {
		t.Fatal("Resolve succeeded on an empty registry")
	}
	if err := r.SetEvidence(ctx, "edgar", "-200"); err != nil {
		t.Fatalf("SetEvidence: %v", err)
	}
	dest, err := r.Link(ctx, "-100", "edgar")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if dest != "-200" {
		t.Errorf("Link dest = %q, want -200", dest)
	}
	if got, ok := r.Resolve("-100"); !ok || got != "-200" {
		t.Errorf("Resolve = %q, %v, want -200, true", got, ok)
	}
	if s.saves != 2 || s.cfg.Links["-100"] != "-200" {
		t.Errorf("store saves = %d cfg = %+v", s.saves, s.cfg)
	}

	// Re-pointing the evidence key leaves existing links alone.
	if err := r.SetEvidence(ctx, "edgar", "-300"); err != nil {
		t.Fatalf("SetEvidence: %v", err)
	}
	if got, _ := r.Resolve("-100"); got != "-200" {
		t.Errorf("Resolve after re-point = %q, want -200", got)
	}
}

func TestRegistry_Errors(t *testing.T) {
	ctx := context.Background()
	s := &memStore{}
	r := newRegistry(t, s)

	if err := r.SetEvidence(ctx, "nadie", "-1"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("SetEvidence unknown key: %v, want ErrUnknownKey", err)
	}
	if _, err := r.Link(ctx, "-100", "nadie"); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Link unknown key: %v, want ErrUnknownKey", err)
	}
	if _, err := r.Link(ctx, "-100", "rafael"); !errors.Is(err, ErrNoEvidence) {
		t.Errorf("Link without evidence: %v, want ErrNoEvidence", err)
	}
	if s.saves != 0 {
		t.Errorf("saves = %d, want 0 after rejected mutations", s.saves)
	}
}

func TestRegistry_SaveFailureKeepsState(t *testing.T) {
	s := &memStore{saveErr: errors.New("disk full")}
	r := newRegistry(t, s)
	if err := r.SetEvidence(context.Background(), "rafael", "-5"); err == nil {
		t.Fatal("expected save error")
	}
	if snap := r.Snapshot(); snap.Evidence[0].Chat != "" {
		t.Errorf("evidence applied despite failed save: %+v", snap.Evidence[0])
	}
}

func TestRegistry_LoadFailureKeepsState(t *testing.T) {
	s := &memStore{cfg: Config{Links: map[string]string{"-1": "-2"}}}
	r := newRegistry(t, s)
	s.loadErr = errors.New("corrupt")
	if err := r.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if _, ok := r.Resolve("-1"); !ok {
		t.Error("link lost after failed reload")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	s := &memStore{cfg: Config{
		Evidence: map[string]string{"pruebas": "-9"},
		Links:    map[string]string{"-3": "-9", "-1": "-9"},
	}}
	r := newRegistry(t, s)
	snap := r.Snapshot()
	if len(snap.Evidence) != 3 || snap.Evidence[0].Key != "rafael" || snap.Evidence[2].Chat != "-9" {
		t.Errorf("Evidence = %+v", snap.Evidence)
	}
	if len(snap.Links) != 2 || snap.Links[0].Origin != "-1" {
		t.Errorf("Links = %+v, want sorted by origin", snap.Links)
	}
}

// --- FileStore tests ---

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "nope.json"), nil)
	cfg, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Evidence) != 0 || len(cfg.Links) != 0 {
		t.Errorf("cfg = %+v, want empty", cfg)
	}
}

func TestFileStore_ReadsNumericIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "group_links.json")
	raw := `{"evidencias": {"edgar": -1002003004005}, "links": {"-100123": -1002003004005}}`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := NewFileStore(path, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Evidence["edgar"] != "-1002003004005" {
		t.Errorf("Evidence[edgar] = %q", cfg.Evidence["edgar"])
	}
	if cfg.Links["-100123"] != "-1002003004005" {
		t.Errorf("Links[-100123] = %q", cfg.Links["-100123"])
	}
}

func TestFileStore_SaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "links.json")
	fs := NewFileStore(path, nil)
	in := Config{
		Evidence: map[string]string{"edgar": "-42", "slack": "C0123"},
		Links:    map[string]string{"-7": "-42"},
	}
	if err := fs.Save(context.Background(), in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// Numeric ids stay numbers for older readers of the file.
	if !strings.Contains(string(data), `"edgar": -42`) || !strings.Contains(string(data), `"slack": "C0123"`) {
		t.Errorf("file = %s", data)
	}

	out, err := fs.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Evidence["slack"] != "C0123" || out.Links["-7"] != "-42" {
		t.Errorf("round trip = %+v", out)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want only the links file", len(entries))
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileStore(path, nil).Load(context.Background()); err == nil {
		t.Error("expected parse error")
	}
}

func TestFileStore_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "links.json")
	fs := NewFileStore(path, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- fs.Watch(ctx, func() { changed <- struct{}{} })
	}()

	// The watcher needs a moment to register; keep writing until it reports.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for seen := false; !seen; {
		select {
		case <-tick.C:
			if err := fs.Save(ctx, Config{Links: map[string]string{"-1": "-2"}}); err != nil {
				t.Fatalf("Save: %v", err)
			}
		case <-changed:
			seen = true
		case <-deadline:
			t.Fatal("no change notification")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}

// --- DBStore tests ---

func TestDBStore_RoundTrip(t *testing.T) {
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	ctx := context.Background()
	store := NewDBStore(gdb)

	r := newRegistry(t, store)
	if err := r.SetEvidence(ctx, "rafael", "-500"); err != nil {
		t.Fatalf("SetEvidence: %v", err)
	}
	if _, err := r.Link(ctx, "-10", "rafael"); err != nil {
		t.Fatalf("Link: %v", err)
	}

	// A second registry over the same tables sees the state.
	r2 := newRegistry(t, store)
	if got, ok := r2.Resolve("-10"); !ok || got != "-500" {
		t.Errorf("Resolve = %q, %v, want -500, true", got, ok)
	}

	// Save replaces rather than merges.
	if err := store.Save(ctx, Config{Evidence: map[string]string{"edgar": "-1"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	cfg, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Links) != 0 || len(cfg.Evidence) != 1 || cfg.Evidence["edgar"] != "-1" {
		t.Errorf("cfg = %+v", cfg)
	}
}
