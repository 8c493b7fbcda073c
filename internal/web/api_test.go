package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"scriptoria/internal/archive"
	"scriptoria/internal/generate"
	"scriptoria/internal/model"
	"scriptoria/internal/store"
)

const lighthouseIdea = "A lighthouse keeper finds a message in a bottle that predicts the future."

type testEnv struct {
	srv     *Server
	h       http.Handler
	history *store.History
	archive *archive.Archive
}

func newTestEnv(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	dir := t.TempDir()

	hist, err := store.NewHistory(filepath.Join(dir, "history.json"))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	gen, err := generate.NewService(generate.ServiceConfig{})
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	arc, err := archive.Open(context.Background(), filepath.Join(dir, "archive.sqlite"))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	t.Cleanup(func() { _ = arc.Close() })

	cfg := ServerConfig{History: hist, Generator: gen, Archive: arc}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return &testEnv{srv: srv, h: srv.Handler(), history: hist, archive: arc}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func (e *testEnv) seed(t *testing.T, entries ...model.Entry) {
	t.Helper()
	// Appends prepend, so seed oldest first.
	for i := len(entries) - 1; i >= 0; i-- {
		if _, err := e.history.Append(entries[i]); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
}

func TestAPIGenerate_CharactersDefaultsProject(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/generate", `{"idea":"`+lighthouseIdea+`","mode":"characters"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Output string      `json:"output"`
		Entry  model.Entry `json:"entry"`
	}
	decodeBody(t, rr, &resp)

	for _, want := range []string{"Protagonist", "Antagonist", "Supporting"} {
		if !strings.Contains(resp.Output, want) {
			t.Fatalf("output missing %q:\n%s", want, resp.Output)
		}
	}
	for _, prefix := range []string{"Name:", "Age:", "Arc:", "Logline:"} {
		if n := strings.Count(resp.Output, prefix); n != 3 {
			t.Fatalf("expected 3 %q lines, got %d", prefix, n)
		}
	}
	if resp.Entry.Project != "default" || resp.Entry.Mode != model.ModeCharacters {
		t.Fatalf("entry=%#v", resp.Entry)
	}
	if resp.Entry.Temperature == nil || *resp.Entry.Temperature != 0.8 {
		t.Fatalf("temperature=%v", resp.Entry.Temperature)
	}
	if resp.Entry.MaxTokens == nil || *resp.Entry.MaxTokens != 800 {
		t.Fatalf("max_tokens=%v", resp.Entry.MaxTokens)
	}

	stored, _ := env.history.Read("")
	if len(stored) != 1 || stored[0].Output != resp.Output || stored[0].Project != "default" {
		t.Fatalf("stored=%#v", stored)
	}
}

func TestAPIGenerate_ExplicitParameters(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/generate", `{"idea":"  heist on a train ","mode":"plan","temperature":0,"max_tokens":120,"project":"demo"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Output string      `json:"output"`
		Entry  model.Entry `json:"entry"`
	}
	decodeBody(t, rr, &resp)

	if resp.Entry.Idea != "heist on a train" || resp.Entry.Project != "demo" {
		t.Fatalf("entry=%#v", resp.Entry)
	}
	if resp.Entry.Temperature == nil || *resp.Entry.Temperature != 0 {
		t.Fatalf("explicit zero temperature should be kept, got %v", resp.Entry.Temperature)
	}
	if resp.Entry.MaxTokens == nil || *resp.Entry.MaxTokens != 120 {
		t.Fatalf("max_tokens=%v", resp.Entry.MaxTokens)
	}
	if !strings.HasPrefix(resp.Output, "Production Plan for: heist on a train") {
		t.Fatalf("output=%q", resp.Output)
	}
}

func TestAPIGenerate_CoercesNumericParameters(t *testing.T) {
	tests := []struct {
		name            string
		params          string
		wantTemperature float64
		wantMaxTokens   int
	}{
		{"numeric strings", `"temperature":"0.5","max_tokens":"300"`, 0.5, 300},
		{"fractional max_tokens", `"max_tokens":300.7`, generate.DefaultTemperature, 300},
		{"explicit zero max_tokens", `"max_tokens":0`, generate.DefaultTemperature, 0},
		{"negative max_tokens", `"max_tokens":-5`, generate.DefaultTemperature, -5},
		{"nulls use defaults", `"temperature":null,"max_tokens":null`, generate.DefaultTemperature, generate.DefaultMaxTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rr := env.do(t, http.MethodPost, "/api/generate", `{"idea":"x",`+tt.params+`}`)
			if rr.Code != http.StatusOK {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			var resp struct {
				Entry model.Entry `json:"entry"`
			}
			decodeBody(t, rr, &resp)
			if resp.Entry.Temperature == nil || *resp.Entry.Temperature != tt.wantTemperature {
				t.Fatalf("temperature=%v want %v", resp.Entry.Temperature, tt.wantTemperature)
			}
			if resp.Entry.MaxTokens == nil || *resp.Entry.MaxTokens != tt.wantMaxTokens {
				t.Fatalf("max_tokens=%v want %d", resp.Entry.MaxTokens, tt.wantMaxTokens)
			}
		})
	}
}

func TestAPIGenerate_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty idea", `{"idea":""}`, "idea is required"},
		{"blank idea", `{"idea":"   ","mode":"plan"}`, "idea is required"},
		{"missing idea", `{"mode":"plan"}`, "idea is required"},
		{"empty body", ``, "idea is required"},
		{"malformed", `{"idea":`, "invalid json"},
		{"not an object", `["idea"]`, "invalid json"},
		{"word temperature", `{"idea":"x","temperature":"warm"}`, "temperature must be a number"},
		{"bool max_tokens", `{"idea":"x","max_tokens":true}`, "max_tokens must be a number"},
		{"huge max_tokens", `{"idea":"x","max_tokens":1e300}`, "max_tokens out of range"},
		{"huge temperature", `{"idea":"x","temperature":1e400}`, "temperature out of range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			env.h.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			var body map[string]string
			decodeBody(t, rr, &body)
			if body["error"] != tt.want {
				t.Fatalf("error=%q want %q", body["error"], tt.want)
			}
			stored, _ := env.history.Read("")
			if len(stored) != 0 {
				t.Fatalf("no entry should be created, got %d", len(stored))
			}
		})
	}
}

func TestAPIHistory_ProjectFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t,
		model.Entry{Project: "demo", Idea: "d2", Mode: model.ModePlan, Output: "o"},
		model.Entry{Idea: "x", Mode: model.ModeScreenplay, Output: "o"},
		model.Entry{Project: "demo", Idea: "d1", Mode: model.ModePlan, Output: "o"},
	)

	rr := env.do(t, http.MethodGet, "/api/history?project=demo", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var got []model.Entry
	decodeBody(t, rr, &got)
	if len(got) != 2 || got[0].Idea != "d2" || got[1].Idea != "d1" {
		t.Fatalf("filtered=%#v", got)
	}

	rr = env.do(t, http.MethodGet, "/api/history?project=default", "")
	decodeBody(t, rr, &got)
	if len(got) != 1 || got[0].Idea != "x" {
		t.Fatalf("default project should match entries without one: %#v", got)
	}

	rr = env.do(t, http.MethodGet, "/api/history", "")
	decodeBody(t, rr, &got)
	if len(got) != 3 {
		t.Fatalf("unfiltered=%d", len(got))
	}
}

func TestAPIHistory_EmptyIsList(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/history", "")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestAPIFavorite_TogglesAndNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t,
		model.Entry{Idea: "a", Output: "o"},
		model.Entry{Idea: "b", Output: "o"},
	)

	rr := env.do(t, http.MethodPost, "/api/history/1/favorite", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK       bool `json:"ok"`
		Favorite bool `json:"favorite"`
	}
	decodeBody(t, rr, &resp)
	if !resp.OK || !resp.Favorite {
		t.Fatalf("resp=%#v", resp)
	}
	stored, _ := env.history.Read("")
	if stored[0].Favorite || !stored[1].Favorite || stored[1].Idea != "b" {
		t.Fatalf("stored=%#v", stored)
	}

	rr = env.do(t, http.MethodPost, "/api/history/1/favorite", "")
	decodeBody(t, rr, &resp)
	if resp.Favorite {
		t.Fatalf("second toggle should clear favorite")
	}

	for _, idx := range []string{"2", "99", "-1", "abc"} {
		rr = env.do(t, http.MethodPost, "/api/history/"+idx+"/favorite", "")
		if rr.Code != http.StatusNotFound {
			t.Fatalf("index %s: status=%d", idx, rr.Code)
		}
		var body map[string]string
		decodeBody(t, rr, &body)
		if body["error"] != "not found" {
			t.Fatalf("index %s: body=%v", idx, body)
		}
	}
}

func TestAPITags(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, model.Entry{Idea: "a", Output: "o", Tags: []string{"old"}})

	rr := env.do(t, http.MethodPost, "/api/history/0/tags", `{"tags":["noir","short"]}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		OK   bool     `json:"ok"`
		Tags []string `json:"tags"`
	}
	decodeBody(t, rr, &resp)
	if !resp.OK || strings.Join(resp.Tags, ",") != "noir,short" {
		t.Fatalf("resp=%#v", resp)
	}
	stored, _ := env.history.Read("")
	if strings.Join(stored[0].Tags, ",") != "noir,short" {
		t.Fatalf("tags should replace the list, got %v", stored[0].Tags)
	}

	rr = env.do(t, http.MethodPost, "/api/history/0/tags", `{}`)
	decodeBody(t, rr, &resp)
	if rr.Code != http.StatusOK || resp.Tags == nil || len(resp.Tags) != 0 {
		t.Fatalf("missing tags should clear: status=%d resp=%#v", rr.Code, resp)
	}

	for _, body := range []string{`{"tags":"noir"}`, `{"tags":[1,2]}`, `{"tags":null}`, `{"tags":{"a":1}}`} {
		rr = env.do(t, http.MethodPost, "/api/history/0/tags", body)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", body, rr.Code)
		}
		var e map[string]string
		decodeBody(t, rr, &e)
		if e["error"] != "tags must be a list" {
			t.Fatalf("%s: error=%q", body, e["error"])
		}
	}

	rr = env.do(t, http.MethodPost, "/api/history/3/tags", `{"tags":["x"]}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("out of range: status=%d", rr.Code)
	}
}

func TestAPIDelete_ShiftsAndArchives(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t,
		model.Entry{Idea: "a", Output: "o"},
		model.Entry{Idea: "b", Output: "o"},
		model.Entry{Idea: "c", Output: "o"},
	)

	rr := env.do(t, http.MethodDelete, "/api/history/1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	stored, _ := env.history.Read("")
	if len(stored) != 2 || stored[0].Idea != "a" || stored[1].Idea != "c" {
		t.Fatalf("stored=%#v", stored)
	}

	rr = env.do(t, http.MethodDelete, "/api/history/2", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("out of range delete: status=%d", rr.Code)
	}
	stored, _ = env.history.Read("")
	if len(stored) != 2 {
		t.Fatalf("out of range delete must not change history")
	}

	rr = env.do(t, http.MethodGet, "/api/archive", "")
	var records []archive.Record
	decodeBody(t, rr, &records)
	if len(records) != 1 || records[0].Reason != archive.ReasonDeleted || records[0].Entry.Idea != "b" {
		t.Fatalf("archive=%#v", records)
	}
}

func TestAPIClearAndStats(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t,
		model.Entry{Project: "demo", Idea: "a", Mode: model.ModePlan, Output: "o"},
		model.Entry{Idea: "b", Output: "o"},
		model.Entry{Project: "demo", Idea: "c", Mode: model.ModeCharacters, Output: "o"},
	)

	rr := env.do(t, http.MethodGet, "/api/stats", "")
	var st model.Stats
	decodeBody(t, rr, &st)
	if st.Total != 3 || st.Projects["demo"] != 2 || st.Projects["default"] != 1 {
		t.Fatalf("stats=%#v", st)
	}
	if st.Modes["screenplay"] != 1 || st.Modes["plan"] != 1 || st.Modes["characters"] != 1 {
		t.Fatalf("modes=%#v", st.Modes)
	}

	rr = env.do(t, http.MethodPost, "/api/history/clear", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"ok":true}` {
		t.Fatalf("clear: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/stats", "")
	if strings.TrimSpace(rr.Body.String()) != `{"projects":{},"modes":{},"total":0}` {
		t.Fatalf("stats after clear=%s", rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/archive?project=demo&limit=1", "")
	var records []archive.Record
	decodeBody(t, rr, &records)
	if len(records) != 1 || records[0].Reason != archive.ReasonCleared || records[0].Entry.Project != "demo" {
		t.Fatalf("archive=%#v", records)
	}

	rr = env.do(t, http.MethodGet, "/api/archive?limit=many", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status=%d", rr.Code)
	}
}

func TestAPIGenerate_EvictionIsArchived(t *testing.T) {
	env := newTestEnv(t, nil)
	for i := 0; i < store.MaxEntries; i++ {
		if _, err := env.history.Append(model.Entry{Idea: "seed", Output: "o"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rr := env.do(t, http.MethodPost, "/api/generate", `{"idea":"one more"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	stored, _ := env.history.Read("")
	if len(stored) != store.MaxEntries || stored[0].Idea != "one more" {
		t.Fatalf("len=%d first=%q", len(stored), stored[0].Idea)
	}
	n, err := env.archive.Count(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("archived=%d err=%v", n, err)
	}
}

func TestAPIArchive_DisabledIsEmpty(t *testing.T) {
	env := newTestEnv(t, func(c *ServerConfig) { c.Archive = nil })

	rr := env.do(t, http.MethodGet, "/api/archive", "")
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestAPIDelete_ArchivesAfterClientGoesAway(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, model.Entry{Idea: "gone", Mode: model.ModePlan, Output: "o"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodDelete, "/api/history/0", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	env.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	records, err := env.archive.List(context.Background(), archive.ListOptions{})
	if err != nil {
		t.Fatalf("archive list: %v", err)
	}
	if len(records) != 1 || records[0].Entry.Idea != "gone" || records[0].Reason != archive.ReasonDeleted {
		t.Fatalf("archived=%#v", records)
	}
}
