package web

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"scriptoria/internal/model"
)

func TestHistoryHub_BroadcastDoesNotBlock(t *testing.T) {
	h := newHistoryHub()
	ch, cancel := h.subscribe()

	for i := 0; i < 100; i++ {
		h.broadcast()
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected a full buffer, got %d/%d", len(ch), cap(ch))
	}
	if h.subscribers() != 1 {
		t.Fatalf("subscribers=%d", h.subscribers())
	}
	cancel()
	if h.subscribers() != 0 {
		t.Fatalf("cancel should unsubscribe")
	}
}

func TestHistoryEvents_PatchesPanelOnMutation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, model.Entry{Idea: "watched idea", Output: "o"})

	ts := httptest.NewServer(env.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+historyEventsPath, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type=%q", ct)
	}

	deadline := time.Now().Add(3 * time.Second)
	for env.srv.hub.subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("stream never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	post, err := ts.Client().Post(ts.URL+"/api/history/0/favorite", "application/json", nil)
	if err != nil {
		t.Fatalf("favorite: %v", err)
	}
	post.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var sawEvent, sawPanel bool
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: datastar-patch-elements") {
			sawEvent = true
		}
		if sawEvent && strings.Contains(line, `id="history-panel"`) {
			sawPanel = true
		}
		if sawPanel && strings.Contains(line, `class="entry favorite"`) {
			return
		}
	}
	t.Fatalf("no panel patch received (event=%v panel=%v err=%v)", sawEvent, sawPanel, sc.Err())
}
