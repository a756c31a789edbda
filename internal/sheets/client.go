// Package sheets stores supervision rows and order templates in a Google
// Sheets spreadsheet. Each tab's first row holds the column headers; rows
// are written by header name.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/zulandar/fieldaudit/internal/supervision"
	"github.com/zulandar/fieldaudit/internal/templates"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Template tab columns read back by Lookup and DeleteLastTemplate.
const (
	colOrderCode  = "CódigoPedido"
	colTechnician = "Técnico"
	colContractor = "Contrata"
	colDistrict   = "Distrito"
	colManager    = "Gestor"
	colUUID       = "PlantillaUUID"
	colChat       = "ChatID"
	colUser       = "UsuarioID"
)

// Client reads and writes one spreadsheet.
type Client struct {
	api          valuesAPI
	spreadsheet  string
	templatesTab string
	loc          *time.Location
	cache        *cache.Cache // headers and sheet ids by tab
	log          *zap.Logger
}

// ClientOpts configures a Client.
type ClientOpts struct {
	SpreadsheetID   string
	TemplatesTab    string
	CredentialsJSON string // inline service account key; wins over the file
	CredentialsFile string
	HeaderTTL       time.Duration
	Location        *time.Location
	Logger          *zap.Logger
}

// New authenticates with the service account and returns a Client.
func New(ctx context.Context, opts ClientOpts) (*Client, error) {
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}
	key, err := credentials(opts)
	if err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, key, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: credentials: %w", err)
	}
	svc, err := gsheets.NewService(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("sheets: service: %w", err)
	}
	return newClient(serviceAPI{svc: svc}, opts), nil
}

func newClient(api valuesAPI, opts ClientOpts) *Client {
	c := &Client{
		api:          api,
		spreadsheet:  opts.SpreadsheetID,
		templatesTab: opts.TemplatesTab,
		loc:          opts.Location,
		log:          opts.Logger,
	}
	ttl := opts.HeaderTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.cache = cache.New(ttl, 2*ttl)
	if c.templatesTab == "" {
		c.templatesTab = "Plantillas"
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// credentials returns the service account key. Keys pasted into
// environment variables often carry literal "\n" in private_key; those are
// turned back into newlines.
func credentials(opts ClientOpts) ([]byte, error) {
	if opts.CredentialsJSON != "" {
		var info map[string]interface{}
		if err := json.Unmarshal([]byte(opts.CredentialsJSON), &info); err != nil {
			return nil, fmt.Errorf("sheets: inline credentials: %w", err)
		}
		if pk, ok := info["private_key"].(string); ok && strings.Contains(pk, `\n`) {
			info["private_key"] = strings.ReplaceAll(pk, `\n`, "\n")
		}
		return json.Marshal(info)
	}
	if opts.CredentialsFile == "" {
		return nil, fmt.Errorf("sheets: credentials are required")
	}
	data, err := os.ReadFile(opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets: read credentials: %w", err)
	}
	return data, nil
}

// a1 quotes a tab name for A1 notation.
func a1(tab, rng string) string {
	q := "'" + strings.ReplaceAll(tab, "'", "''") + "'"
	if rng == "" {
		return q
	}
	return q + "!" + rng
}

// Headers returns the trimmed first row of tab, cached.
func (c *Client) Headers(ctx context.Context, tab string) ([]string, error) {
	if v, ok := c.cache.Get("headers:" + tab); ok {
		return v.([]string), nil
	}
	rows, err := c.api.Get(ctx, c.spreadsheet, a1(tab, "1:1"))
	if err != nil {
		return nil, fmt.Errorf("sheets: headers %s: %w", tab, err)
	}
	var headers []string
	if len(rows) > 0 {
		for _, h := range rows[0] {
			headers = append(headers, strings.TrimSpace(h))
		}
	}
	c.cache.SetDefault("headers:"+tab, headers)
	return headers, nil
}

// ClearCache drops cached headers and sheet ids.
func (c *Client) ClearCache() {
	c.cache.Flush()
	c.log.Info("sheets cache cleared")
}

// AppendRow writes fields under matching headers. Keys without a header are
// dropped and headers without a key are left empty.
func (c *Client) AppendRow(ctx context.Context, tab string, fields map[string]string) error {
	headers, err := c.Headers(ctx, tab)
	if err != nil {
		return err
	}
	if len(headers) == 0 {
		return fmt.Errorf("sheets: tab %s has no header row", tab)
	}
	row := make([]string, len(headers))
	for i, h := range headers {
		row[i] = fields[h]
	}
	if err := c.api.Append(ctx, c.spreadsheet, a1(tab, "A1"), row); err != nil {
		return fmt.Errorf("sheets: append %s: %w", tab, err)
	}
	return nil
}

// table is a tab's rows with a header index.
type table struct {
	index map[string]int
	rows  [][]string // data rows; rows[i] is sheet row i+2
}

func (t table) cell(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (c *Client) read(ctx context.Context, tab string) (table, error) {
	headers, err := c.Headers(ctx, tab)
	if err != nil {
		return table{}, err
	}
	all, err := c.api.Get(ctx, c.spreadsheet, a1(tab, ""))
	if err != nil {
		return table{}, fmt.Errorf("sheets: read %s: %w", tab, err)
	}
	t := table{index: make(map[string]int, len(headers))}
	for i, h := range headers {
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	if len(all) > 1 {
		t.rows = all[1:]
	}
	return t, nil
}

// lastMatch returns the sheet row number of the last data row whose
// columns equal criteria, or 0.
func (t table) lastMatch(criteria map[string]string) int {
	for col := range criteria {
		if _, ok := t.index[col]; !ok {
			return 0
		}
	}
	last := 0
	for i, row := range t.rows {
		ok := true
		for col, want := range criteria {
			if t.cell(row, col) != strings.TrimSpace(want) {
				ok = false
				break
			}
		}
		if ok {
			last = i + 2
		}
	}
	return last
}

// Lookup returns the newest template for code, or nil when there is none.
func (c *Client) Lookup(ctx context.Context, code string) (*supervision.TemplateData, error) {
	t, err := c.read(ctx, c.templatesTab)
	if err != nil {
		return nil, err
	}
	n := t.lastMatch(map[string]string{colOrderCode: code})
	if n == 0 {
		return nil, nil
	}
	row := t.rows[n-2]
	return &supervision.TemplateData{
		Technician: t.cell(row, colTechnician),
		Contractor: t.cell(row, colContractor),
		District:   t.cell(row, colDistrict),
		Manager:    t.cell(row, colManager),
		TemplateID: t.cell(row, colUUID),
	}, nil
}

// AppendTemplate writes r to the templates tab.
func (c *Client) AppendTemplate(ctx context.Context, r templates.Record) error {
	return c.AppendRow(ctx, c.templatesTab, r.Row(c.loc))
}

// DeleteLastTemplate deletes the newest template row of chat and user for
// code.
func (c *Client) DeleteLastTemplate(ctx context.Context, chat, user, code string) (bool, error) {
	t, err := c.read(ctx, c.templatesTab)
	if err != nil {
		return false, err
	}
	n := t.lastMatch(map[string]string{colChat: chat, colUser: user, colOrderCode: code})
	if n == 0 {
		return false, nil
	}
	id, err := c.sheetID(ctx, c.templatesTab)
	if err != nil {
		return false, err
	}
	if err := c.api.DeleteRow(ctx, c.spreadsheet, id, n); err != nil {
		return false, fmt.Errorf("sheets: delete row %d: %w", n, err)
	}
	return true, nil
}

func (c *Client) sheetID(ctx context.Context, tab string) (int64, error) {
	if v, ok := c.cache.Get("sheet:" + tab); ok {
		return v.(int64), nil
	}
	id, err := c.api.SheetID(ctx, c.spreadsheet, tab)
	if err != nil {
		return 0, fmt.Errorf("sheets: sheet id %s: %w", tab, err)
	}
	c.cache.SetDefault("sheet:"+tab, id)
	return id, nil
}
