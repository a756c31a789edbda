package links

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// chatID accepts chat ids written as JSON numbers or strings and writes
// numeric ids back as numbers.
type chatID string

func (c *chatID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = chatID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("chat id %s: %w", b, err)
	}
	*c = chatID(n.String())
	return nil
}

func (c chatID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(c), 10, 64); err == nil {
		return []byte(c), nil
	}
	return json.Marshal(string(c))
}

type fileDoc struct {
	Evidence map[string]chatID `json:"evidencias"`
	Links    map[string]chatID `json:"links"`
}

// FileStore keeps the registry in a JSON file:
//
//	{"evidencias": {"<key>": <chat>}, "links": {"<origin>": <chat>}}
type FileStore struct {
	path string
	log  *zap.Logger
}

// NewFileStore returns a FileStore for path.
func NewFileStore(path string, log *zap.Logger) *FileStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileStore{path: path, log: log}
}

// Path returns the file path.
func (f *FileStore) Path() string {
	return f.path
}

// Load reads the file. A missing file is an empty registry.
func (f *FileStore) Load(context.Context) (Config, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", f.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, nil
	}
	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", f.path, err)
	}
	cfg := Config{Evidence: make(map[string]string, len(doc.Evidence)), Links: make(map[string]string, len(doc.Links))}
	for k, v := range doc.Evidence {
		cfg.Evidence[k] = string(v)
	}
	for k, v := range doc.Links {
		cfg.Links[k] = string(v)
	}
	return cfg, nil
}

// Save writes the file through a temp file and rename.
func (f *FileStore) Save(_ context.Context, cfg Config) error {
	doc := fileDoc{Evidence: make(map[string]chatID, len(cfg.Evidence)), Links: make(map[string]chatID, len(cfg.Links))}
	for k, v := range cfg.Evidence {
		doc.Evidence[k] = chatID(v)
	}
	for k, v := range cfg.Links {
		doc.Links[k] = chatID(v)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", f.path, err)
	}
	return nil
}

// Watch calls changed whenever the file is written or replaced, until ctx
// is cancelled. The parent directory is watched since a rename into place
// drops a watch on the file itself.
func (f *FileStore) Watch(ctx context.Context, changed func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("links: watch: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("links: watch: mkdir %s: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("links: watch %s: %w", dir, err)
	}
	target := filepath.Clean(f.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				changed()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.log.Warn("links watcher error", zap.Error(err))
		}
	}
}
