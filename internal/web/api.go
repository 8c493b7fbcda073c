package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"scriptoria/internal/archive"
	"scriptoria/internal/generate"
	"scriptoria/internal/model"
)

const maxJSONBody = 1 << 20

var errInvalidJSON = errors.New("invalid json")

type apiGenerateRequest struct {
	Idea        string          `json:"idea"`
	Mode        string          `json:"mode"`
	Temperature json.RawMessage `json:"temperature"`
	MaxTokens   json.RawMessage `json:"max_tokens"`
	Project     string          `json:"project"`
}

type apiGenerateResponse struct {
	Output string      `json:"output"`
	Entry  model.Entry `json:"entry"`
}

// readJSONObject decodes the request body into v. An empty body decodes as {}.
func readJSONObject(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return errInvalidJSON
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil
	}
	if b[0] != '{' {
		return errInvalidJSON
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errInvalidJSON
	}
	return nil
}

// present reports whether a JSON field was sent with a non-null value.
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

func numberProblem(err error) string {
	if errors.Is(err, model.ErrOutOfRange) {
		return "out of range"
	}
	return "must be a number"
}

// pathIndex parses the {index} wildcard. Anything that is not a non-negative integer is reported
// as not found, the same as an index past the end.
func pathIndex(r *http.Request) (int, bool) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || i < 0 {
		return 0, false
	}
	return i, true
}

func (s *Server) handleAPIGenerate(w http.ResponseWriter, r *http.Request) {
	var req apiGenerateRequest
	if err := readJSONObject(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	idea := strings.TrimSpace(req.Idea)
	if idea == "" {
		writeJSONError(w, http.StatusBadRequest, "idea is required")
		return
	}

	mode := model.Mode(req.Mode)
	if mode == "" {
		mode = model.DefaultMode
	}
	temperature := generate.DefaultTemperature
	if present(req.Temperature) {
		v, err := model.FloatValue(req.Temperature)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "temperature "+numberProblem(err))
			return
		}
		temperature = v
	}
	maxTokens := generate.DefaultMaxTokens
	if present(req.MaxTokens) {
		v, err := model.IntValue(req.MaxTokens)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "max_tokens "+numberProblem(err))
			return
		}
		maxTokens = v
	}
	project := strings.TrimSpace(req.Project)
	if project == "" {
		project = model.DefaultProject
	}

	output := s.gen.Generate(r.Context(), generate.Request{
		Idea:        idea,
		Mode:        mode,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	entry := model.Entry{
		Project:     project,
		Idea:        idea,
		Mode:        mode,
		Output:      output,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	if !s.appendEntry(w, r, entry) {
		return
	}
	writeJSON(w, http.StatusOK, apiGenerateResponse{Output: output, Entry: entry})
}

// appendEntry stores e and archives whatever the retention bound pushed out. On failure it has
// already written a 500 response.
func (s *Server) appendEntry(w http.ResponseWriter, r *http.Request, e model.Entry) bool {
	evicted, err := s.history.Append(e)
	if err != nil {
		s.writeStoreError(w, r, "append", err)
		return false
	}
	s.archiveEntries(r, archive.ReasonEvicted, evicted)
	s.hub.broadcast()
	return true
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error("history write failed", "op", op, "err", err, "request_id", requestIDFrom(r.Context()))
	writeJSONError(w, http.StatusInternalServerError, "history write failed")
}

func (s *Server) handleAPIHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := s.history.Read(r.URL.Query().Get("project"))
	if err != nil {
		s.writeStoreError(w, r, "read", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAPIHistoryClear(w http.ResponseWriter, r *http.Request) {
	removed, err := s.history.Clear()
	if err != nil {
		s.writeStoreError(w, r, "clear", err)
		return
	}
	s.archiveEntries(r, archive.ReasonCleared, removed)
	s.hub.broadcast()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAPIHistoryDelete(w http.ResponseWriter, r *http.Request) {
	i, ok := pathIndex(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	removed, ok, err := s.history.Delete(i)
	if err != nil {
		s.writeStoreError(w, r, "delete", err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	s.archiveEntries(r, archive.ReasonDeleted, []model.Entry{removed})
	s.hub.broadcast()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleAPIHistoryFavorite(w http.ResponseWriter, r *http.Request) {
	i, ok := pathIndex(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	fav, ok, err := s.history.ToggleFavorite(i)
	if err != nil {
		s.writeStoreError(w, r, "favorite", err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	s.hub.broadcast()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "favorite": fav})
}

func (s *Server) handleAPIHistoryTags(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := readJSONObject(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	tags := []string{}
	if raw, present := body["tags"]; present {
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil || list == nil {
			writeJSONError(w, http.StatusBadRequest, "tags must be a list")
			return
		}
		tags = list
	}

	i, ok := pathIndex(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	e, ok, err := s.history.Update(i, model.EntryPatch{Tags: &tags})
	if err != nil {
		s.writeStoreError(w, r, "tags", err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	s.hub.broadcast()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tags": e.Tags})
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.history.Stats()
	if err != nil {
		s.writeStoreError(w, r, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleAPIArchive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := archive.ListOptions{Project: q.Get("project")}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}
	records, err := s.archive.List(r.Context(), opts)
	if err != nil {
		s.log.Error("archive read failed", "err", err, "request_id", requestIDFrom(r.Context()))
		writeJSONError(w, http.StatusInternalServerError, "archive read failed")
		return
	}
	writeJSON(w, http.StatusOK, records)
}
