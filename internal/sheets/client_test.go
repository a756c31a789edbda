package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/fieldaudit/internal/templates"
)

// fakeAPI is an in-memory spreadsheet keyed by tab name.
type fakeAPI struct {
	tabs      map[string][][]string
	ids       map[string]int64
	gets      []string
	appends   []string
	deleted   []int
	getErr    error
	appendErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{tabs: map[string][][]string{}, ids: map[string]int64{}}
}

func tabOf(rng string) string {
	rng = strings.TrimPrefix(rng, "'")
	if i := strings.Index(rng, "'"); i >= 0 {
		return strings.ReplaceAll(rng[:i], "''", "'")
	}
	return rng
}

func (f *fakeAPI) Get(_ context.Context, _ string, rng string) ([][]string, error) {
	f.gets = append(f.gets, rng)
	if f.getErr != nil {
		return nil, f.getErr
	}
	rows := f.tabs[tabOf(rng)]
	if strings.HasSuffix(rng, "!1:1") {
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[:1], nil
	}
	return rows, nil
}

func (f *fakeAPI) Append(_ context.Context, _ string, rng string, row []string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	tab := tabOf(rng)
	f.appends = append(f.appends, tab)
	f.tabs[tab] = append(f.tabs[tab], row)
	return nil
}

func (f *fakeAPI) DeleteRow(_ context.Context, _ string, sheetID int64, row int) error {
	for tab, id := range f.ids {
		if id == sheetID {
			rows := f.tabs[tab]
			f.tabs[tab] = append(rows[:row-1:row-1], rows[row:]...)
		}
	}
	f.deleted = append(f.deleted, row)
	return nil
}

func (f *fakeAPI) SheetID(_ context.Context, _ string, tab string) (int64, error) {
	id, ok := f.ids[tab]
	if !ok {
		return 0, errors.New("no such tab")
	}
	return id, nil
}

var templateHeaders = []string{"FechaPlantilla", "ChatID", "UsuarioID", "CódigoPedido", "Técnico", "Contrata", "Distrito", "Gestor", "PlantillaRaw", "PlantillaUUID"}

func newTestClient(api *fakeAPI) *Client {
	return newClient(api, ClientOpts{SpreadsheetID: "sheet-1", TemplatesTab: "Plantillas"})
}

// --- AppendRow tests ---

func TestAppendRow_MapsByHeader(t *testing.T) {
	api := newFakeAPI()
	api.tabs["Supervisiones"] = [][]string{{" Técnico ", "Código de pedido", "Vacía"}}
	c := newTestClient(api)

	err := c.AppendRow(context.Background(), "Supervisiones", map[string]string{
		"Código de pedido": "PED1",
		"Técnico":          "Luis",
		"Desconocido":      "dropped",
	})
	if err != nil {
		t.Fatalf("AppendRow: %v", err)
	}
	got := api.tabs["Supervisiones"][1]
	want := []string{"Luis", "PED1", ""}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("row = %q, want %q", got, want)
	}
}

func TestAppendRow_NoHeaders(t *testing.T) {
	c := newTestClient(newFakeAPI())
	if err := c.AppendRow(context.Background(), "Vacío", map[string]string{"a": "b"}); err == nil {
		t.Error("expected error for tab without headers")
	}
}

func TestAppendRow_Errors(t *testing.T) {
	api := newFakeAPI()
	api.tabs["T"] = [][]string{{"a"}}
	api.appendErr = errors.New("quota exceeded")
	err := newTestClient(api).AppendRow(context.Background(), "T", map[string]string{"a": "1"})
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("error = %v, want wrapped quota error", err)
	}
}

func TestHeaders_Cached(t *testing.T) {
	api := newFakeAPI()
	api.tabs["T"] = [][]string{{"a", "b"}}
	c := newTestClient(api)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.Headers(ctx, "T"); err != nil {
			t.Fatalf("Headers: %v", err)
		}
	}
	if len(api.gets) != 1 {
		t.Errorf("gets = %d, want 1 for cached headers", len(api.gets))
	}

	c.ClearCache()
	if _, err := c.Headers(ctx, "T"); err != nil {
		t.Fatalf("Headers: %v", err)
	}
	if len(api.gets) != 2 {
		t.Errorf("gets = %d, want a refetch after ClearCache", len(api.gets))
	}
}

func TestA1(t *testing.T) {
	if got := a1("Plan tillas", "1:1"); got != "'Plan tillas'!1:1" {
		t.Errorf("a1 = %q", got)
	}
	if got := a1("O'Brien", ""); got != "'O''Brien'" {
		t.Errorf("a1 = %q", got)
	}
}

// --- Template tests ---

func seedTemplates(api *fakeAPI) {
	api.tabs["Plantillas"] = [][]string{
		templateHeaders,
		{"t1", "-100", "42", "PED1", "Ana", "C1", "Surco", "G1", "raw", "u-1"},
		{"t2", "-100", "7", "PED2", "Bea", "C2", "Lince", "G2", "raw", "u-2"},
		{"t3", "-100", "42", "PED1", "Carla", "C3", "Miraflores", "G3", "raw", "u-3"},
		{"t4", "-100", "42", " PED1 "},
	}
	api.ids["Plantillas"] = 0
}

func TestLookup_LastMatchWins(t *testing.T) {
	api := newFakeAPI()
	seedTemplates(api)
	td, err := newTestClient(api).Lookup(context.Background(), "PED1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if td == nil {
		t.Fatal("Lookup returned nil")
	}
	// The short last row matches but has empty trailing cells.
	if td.Technician != "" || td.TemplateID != "" {
		t.Errorf("td = %+v, want the short last row", td)
	}

	api.tabs["Plantillas"] = api.tabs["Plantillas"][:4]
	td, err = newTestClient(api).Lookup(context.Background(), "PED1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if td.Technician != "Carla" || td.District != "Miraflores" || td.Manager != "G3" || td.TemplateID != "u-3" || td.Contractor != "C3" {
		t.Errorf("td = %+v", td)
	}
}

func TestLookup_NotFound(t *testing.T) {
	api := newFakeAPI()
	seedTemplates(api)
	td, err := newTestClient(api).Lookup(context.Background(), "NOPE")
	if err != nil || td != nil {
		t.Errorf("Lookup = %+v, %v, want nil, nil", td, err)
	}

	// A tab without the code column never matches.
	api.tabs["Plantillas"] = [][]string{{"Otro"}, {"PED1"}}
	td, err = newTestClient(api).Lookup(context.Background(), "PED1")
	if err != nil || td != nil {
		t.Errorf("Lookup = %+v, %v, want nil, nil", td, err)
	}
}

func TestLookup_Error(t *testing.T) {
	api := newFakeAPI()
	api.getErr = errors.New("403")
	if _, err := newTestClient(api).Lookup(context.Background(), "PED1"); err == nil {
		t.Error("expected error")
	}
}

func TestAppendTemplate(t *testing.T) {
	api := newFakeAPI()
	api.tabs["Plantillas"] = [][]string{templateHeaders}
	c := newTestClient(api)
	err := c.AppendTemplate(context.Background(), templates.Record{
		UUID:      "u-9",
		Chat:      "-100",
		User:      "42",
		Form:      templates.Form{OrderCode: "PED9", Technician: "Luis"},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("AppendTemplate: %v", err)
	}
	row := api.tabs["Plantillas"][1]
	if row[0] != "2026-01-02 03:04:05" || row[3] != "PED9" || row[4] != "Luis" || row[9] != "u-9" {
		t.Errorf("row = %q", row)
	}
}

func TestDeleteLastTemplate(t *testing.T) {
	api := newFakeAPI()
	seedTemplates(api)
	c := newTestClient(api)
	ctx := context.Background()

	found, err := c.DeleteLastTemplate(ctx, "-100", "42", "PED1")
	if err != nil || !found {
		t.Fatalf("DeleteLastTemplate = %v, %v", found, err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != 5 {
		t.Errorf("deleted rows = %v, want [5]", api.deleted)
	}

	found, err = c.DeleteLastTemplate(ctx, "-100", "99", "PED1")
	if err != nil || found {
		t.Errorf("other user: found = %v, err = %v", found, err)
	}
}

// --- Credential tests ---

func TestCredentials_InlineFixesNewlines(t *testing.T) {
	inline := `{"type":"service_account","private_key":"-----BEGIN-----\\nabc\\n-----END-----"}`
	data, err := credentials(ClientOpts{CredentialsJSON: inline})
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if info["private_key"] != "-----BEGIN-----\nabc\n-----END-----" {
		t.Errorf("private_key = %q", info["private_key"])
	}
}

func TestCredentials_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	if err := os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := credentials(ClientOpts{CredentialsFile: path})
	if err != nil || !strings.Contains(string(data), "service_account") {
		t.Errorf("credentials = %s, %v", data, err)
	}

	if _, err := credentials(ClientOpts{}); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := credentials(ClientOpts{CredentialsJSON: "{bad"}); err == nil {
		t.Error("expected error for malformed inline credentials")
	}
}

func TestNew_RequiresSpreadsheet(t *testing.T) {
	if _, err := New(context.Background(), ClientOpts{CredentialsJSON: "{}"}); err == nil {
		t.Error("expected error without spreadsheet id")
	}
}
