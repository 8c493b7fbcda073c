package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"scriptoria/internal/archive"
	"scriptoria/internal/generate"
	"scriptoria/internal/logging"
	"scriptoria/internal/model"
	"scriptoria/internal/store"
)

//go:embed templates/*.html static/*.css
var assetsFS embed.FS

type ServerConfig struct {
	History   *store.History
	Generator *generate.Service

	// Archive is optional; entries leaving the history are dropped when nil.
	Archive *archive.Archive

	Logger *slog.Logger

	// RateLimitRPS limits generation requests per client IP. Zero disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	history *store.History
	gen     *generate.Service
	archive *archive.Archive
	log     *slog.Logger
	tmpl    *template.Template

	hub     *historyHub
	limiter *ipRateLimiter
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.History == nil {
		return nil, errors.New("web: history store is nil")
	}
	if cfg.Generator == nil {
		return nil, errors.New("web: generator is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	tmpl, err := template.New("base").Funcs(template.FuncMap{
		"trim":     strings.TrimSpace,
		"markdown": renderMarkdownHTML,
		"excerpt":  excerpt,
		"join":     strings.Join,
	}).ParseFS(assetsFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	srv := &Server{
		history: cfg.History,
		gen:     cfg.Generator,
		archive: cfg.Archive,
		log:     logger,
		tmpl:    tmpl,
		hub:     newHistoryHub(),
	}
	if cfg.RateLimitRPS > 0 {
		srv.limiter = newIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	return srv, nil
}

const historyEventsPath = "/history/events"

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /static/app.css", s.handleAppCSS)
	mux.HandleFunc("GET "+historyEventsPath, s.handleHistoryEvents)
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("POST /generate", s.rateLimited(http.HandlerFunc(s.handleFormGenerate), writeTextError))
	mux.Handle("POST /api/generate", s.rateLimited(http.HandlerFunc(s.handleAPIGenerate), writeJSONError))
	mux.HandleFunc("GET /api/history", s.handleAPIHistory)
	mux.HandleFunc("POST /api/history/clear", s.handleAPIHistoryClear)
	mux.HandleFunc("DELETE /api/history/{index}", s.handleAPIHistoryDelete)
	mux.HandleFunc("POST /api/history/{index}/favorite", s.handleAPIHistoryFavorite)
	mux.HandleFunc("POST /api/history/{index}/tags", s.handleAPIHistoryTags)
	mux.HandleFunc("GET /api/stats", s.handleAPIStats)
	mux.HandleFunc("GET /api/archive", s.handleAPIArchive)

	compressed := compress(mux, s.log)
	routed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// SSE must reach the client unbuffered.
		if r.URL.Path == historyEventsPath {
			mux.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
	return withRequestID(s.withAccessLog(routed))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleAppCSS(w http.ResponseWriter, r *http.Request) {
	b, err := assetsFS.ReadFile("static/app.css")
	if err != nil || len(b) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

const archiveTimeout = 5 * time.Second

// archiveEntries records entries that left the live history. Failures are logged, never returned:
// the history mutation has already happened. The write outlives a disconnected client.
func (s *Server) archiveEntries(r *http.Request, reason archive.Reason, entries []model.Entry) {
	if s.archive == nil || len(entries) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), archiveTimeout)
	defer cancel()
	if err := s.archive.Put(ctx, reason, entries); err != nil {
		s.log.Warn("archive write failed", "reason", string(reason), "count", len(entries), "err", err, "request_id", requestIDFrom(r.Context()))
	}
}

func (s *Server) renderTemplate(name string, data any) (string, error) {
	var b strings.Builder
	if err := s.tmpl.ExecuteTemplate(&b, name, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (s *Server) writeHTMLTemplate(w http.ResponseWriter, name string, data any) {
	html, err := s.renderTemplate(name, data)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, html)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeTextError(w http.ResponseWriter, status int, msg string) {
	http.Error(w, msg, status)
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// historyHub fans out "history changed" notifications to live SSE subscribers.
type historyHub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newHistoryHub() *historyHub {
	return &historyHub{subs: map[chan struct{}]struct{}{}}
}

func (h *historyHub) subscribe() (ch chan struct{}, cancel func()) {
	ch = make(chan struct{}, 8)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
		close(ch)
	}
}

// broadcast never blocks; a subscriber with a full buffer already has a pending refresh.
func (h *historyHub) broadcast() {
	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *historyHub) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
