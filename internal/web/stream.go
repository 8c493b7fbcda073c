package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/starfederation/datastar-go/datastar"
)

const historyPanelSelector = "#history-panel"

// handleHistoryEvents keeps the index page's history panel current. Each history mutation made
// through this server re-renders the panel and patches it in place.
func (s *Server) handleHistoryEvents(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.URL.Query().Get("project"))

	sse := datastar.NewSSE(w, r)

	ch, cancel := s.hub.subscribe()
	defer cancel()

	keepAlive := time.NewTicker(25 * time.Second)
	defer keepAlive.Stop()

	render := func() (string, error) {
		panel, err := s.historyPanel(project)
		if err != nil {
			return "", err
		}
		return s.renderTemplate("history_panel", panel)
	}

	patch := func() {
		html, err := render()
		if err != nil {
			_ = sse.ExecuteScript(fmt.Sprintf(`console.error(%q)`, err.Error()))
			return
		}
		_ = sse.PatchElements(html, datastar.WithSelector(historyPanelSelector), datastar.WithMode(datastar.ElementPatchModeOuter))
	}

	// The page may have been rendered before this stream connected.
	patch()

	for {
		select {
		case <-sse.Context().Done():
			return
		case <-keepAlive.C:
			_ = sse.PatchSignals([]byte(`{}`))
		case <-ch:
			patch()
		}
	}
}
