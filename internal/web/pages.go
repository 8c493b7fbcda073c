package web

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"scriptoria/internal/generate"
	"scriptoria/internal/model"
)

type baseVM struct {
	Now       string
	StreamURL string
}

func baseVMForRequest(streamURL string) baseVM {
	return baseVM{
		Now:       time.Now().Format(time.RFC3339),
		StreamURL: streamURL,
	}
}

type historyRowVM struct {
	Index int
	model.Entry
}

type projectCountVM struct {
	Name  string
	Count int
}

type historyPanelVM struct {
	Project  string
	Rows     []historyRowVM
	Total    int
	Projects []projectCountVM
}

type indexVM struct {
	baseVM
	Modes []model.Mode
	Panel historyPanelVM
}

type resultVM struct {
	baseVM
	Idea   string
	Mode   model.Mode
	Output string
}

// historyPanel keeps each row's position in the unfiltered history so that row actions address
// the right entry even when a project filter is active.
func (s *Server) historyPanel(project string) (historyPanelVM, error) {
	entries, err := s.history.Read("")
	if err != nil {
		return historyPanelVM{}, err
	}
	project = strings.TrimSpace(project)
	st := model.ComputeStats(entries)

	vm := historyPanelVM{Project: project, Total: st.Total}
	for i, e := range entries {
		if project != "" && e.ProjectOrDefault() != project {
			continue
		}
		vm.Rows = append(vm.Rows, historyRowVM{Index: i, Entry: e})
	}
	for name, n := range st.Projects {
		vm.Projects = append(vm.Projects, projectCountVM{Name: name, Count: n})
	}
	sort.Slice(vm.Projects, func(i, j int) bool { return vm.Projects[i].Name < vm.Projects[j].Name })
	return vm, nil
}

func streamURLFor(project string) string {
	if project == "" {
		return historyEventsPath
	}
	return historyEventsPath + "?project=" + url.QueryEscape(project)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.URL.Query().Get("project"))
	panel, err := s.historyPanel(project)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	vm := indexVM{
		baseVM: baseVMForRequest(streamURLFor(project)),
		Modes:  model.Modes,
		Panel:  panel,
	}
	s.writeHTMLTemplate(w, "index.html", vm)
}

// handleFormGenerate serves the plain HTML form. Entries it stores carry no project or sampling
// parameters.
func (s *Server) handleFormGenerate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	idea := strings.TrimSpace(r.PostFormValue("idea"))
	if idea == "" {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	mode := model.Mode(r.PostFormValue("mode"))
	if mode == "" {
		mode = model.DefaultMode
	}

	output := s.gen.Generate(r.Context(), generate.Request{
		Idea:        idea,
		Mode:        mode,
		Temperature: generate.DefaultTemperature,
		MaxTokens:   generate.DefaultMaxTokens,
	})
	if !s.appendEntry(w, r, model.Entry{Idea: idea, Mode: mode, Output: output}) {
		return
	}
	s.writeHTMLTemplate(w, "result.html", resultVM{
		baseVM: baseVMForRequest(""),
		Idea:   idea,
		Mode:   mode,
		Output: output,
	})
}
