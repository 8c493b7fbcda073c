package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"scriptoria/internal/model"
)

const (
	HistoryFileName = "history.json"

	// MaxEntries bounds the history document; appends evict the oldest entries beyond it.
	MaxEntries = 50
)

// History is the JSON-backed generation log.
//
// Every operation loads the whole document, mutates it in memory and writes it back while
// holding mu, so concurrent callers only ever observe complete snapshots. A missing or
// unparseable document reads as an empty history.
type History struct {
	path string

	mu sync.Mutex
}

func NewHistory(path string) (*History, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: path is empty")
	}
	return &History{path: filepath.Clean(path)}, nil
}

// DefaultHistoryPath places history.json next to the running executable.
func DefaultHistoryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), HistoryFileName), nil
}

func (h *History) Path() string { return h.path }

// Append inserts e at index 0 and truncates to MaxEntries. Entries pushed out of the window are
// returned oldest-last so callers can archive them.
func (h *History) Append(e model.Entry) ([]model.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.load()
	entries = append([]model.Entry{e.Clone()}, entries...)
	var evicted []model.Entry
	if len(entries) > MaxEntries {
		evicted = append(evicted, entries[MaxEntries:]...)
		entries = entries[:MaxEntries]
	}
	if err := h.save(entries); err != nil {
		return nil, err
	}
	return evicted, nil
}

// Read returns a copy of the history, newest first. A non-empty project keeps only entries whose
// defaulted project matches it exactly.
func (h *History) Read(project string) ([]model.Entry, error) {
	h.mu.Lock()
	entries := h.load()
	h.mu.Unlock()

	out := make([]model.Entry, 0, len(entries))
	for _, e := range entries {
		if project != "" && e.ProjectOrDefault() != project {
			continue
		}
		out = append(out, e.Clone())
	}
	return out, nil
}

// Get returns the entry at index i.
func (h *History) Get(i int) (model.Entry, bool, error) {
	h.mu.Lock()
	entries := h.load()
	h.mu.Unlock()

	if i < 0 || i >= len(entries) {
		return model.Entry{}, false, nil
	}
	return entries[i].Clone(), true, nil
}

// Update merges p into the entry at index i. An out-of-range index is a no-op (nothing is
// written) and reports false.
func (h *History) Update(i int, p model.EntryPatch) (model.Entry, bool, error) {
	return h.mutate(i, func(e *model.Entry) { p.Apply(e) })
}

// ToggleFavorite flips the favorite flag at index i and returns the new value.
func (h *History) ToggleFavorite(i int) (favorite bool, ok bool, err error) {
	e, ok, err := h.mutate(i, func(e *model.Entry) {
		fav := !e.Favorite
		model.EntryPatch{Favorite: &fav}.Apply(e)
	})
	return e.Favorite, ok, err
}

func (h *History) mutate(i int, fn func(*model.Entry)) (model.Entry, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.load()
	if i < 0 || i >= len(entries) {
		return model.Entry{}, false, nil
	}
	fn(&entries[i])
	if err := h.save(entries); err != nil {
		return model.Entry{}, false, err
	}
	return entries[i].Clone(), true, nil
}

// Delete removes the entry at index i, shifting later entries down by one. An out-of-range index
// is a no-op and reports false.
func (h *History) Delete(i int) (model.Entry, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.load()
	if i < 0 || i >= len(entries) {
		return model.Entry{}, false, nil
	}
	removed := entries[i]
	entries = append(entries[:i], entries[i+1:]...)
	if err := h.save(entries); err != nil {
		return model.Entry{}, false, err
	}
	return removed, true, nil
}

// Clear resets the document to an empty list and returns what it held.
func (h *History) Clear() ([]model.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.load()
	if err := h.save([]model.Entry{}); err != nil {
		return nil, err
	}
	return entries, nil
}

func (h *History) Stats() (model.Stats, error) {
	h.mu.Lock()
	entries := h.load()
	h.mu.Unlock()
	return model.ComputeStats(entries), nil
}

// load must be called with mu held.
func (h *History) load() []model.Entry {
	b, err := os.ReadFile(h.path)
	if err != nil {
		return []model.Entry{}
	}
	entries, ok := parseHistory(b)
	if !ok {
		return []model.Entry{}
	}
	return entries
}

// save must be called with mu held.
func (h *History) save(entries []model.Entry) error {
	if entries == nil {
		entries = []model.Entry{}
	}
	b, err := encodeHistory(entries)
	if err != nil {
		return err
	}
	dir := filepath.Dir(h.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomicWriteFile(dir, ".history-*.tmp", h.path, b, 0o644)
}

// parseHistory decodes a history document. ok is false when the bytes are not a JSON array;
// callers treat that the same as a missing document. Inside an array each entry is decoded on
// its own, and only elements that are not objects are dropped.
func parseHistory(b []byte) (entries []model.Entry, ok bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '[' {
		return []model.Entry{}, false
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return []model.Entry{}, false
	}
	entries = make([]model.Entry, 0, len(raw))
	for _, r := range raw {
		r = bytes.TrimSpace(r)
		if len(r) == 0 || r[0] != '{' {
			continue
		}
		var e model.Entry
		if err := json.Unmarshal(r, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, true
}

func encodeHistory(entries []model.Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
