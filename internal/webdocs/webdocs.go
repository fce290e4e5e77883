// Package webdocs serves the human-facing landing page: an HTML catalog of
// the tools and resources exposed on each endpoint group. Tool descriptions
// are authored in markdown and rendered with goldmark.
package webdocs

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
	"sync"

	"github.com/yuin/goldmark"

	"github.com/KennethLeeJE8/datadam-mcp-sub001/internal/toolset"
	"github.com/KennethLeeJE8/datadam-mcp-sub001/mcp"
)

// Group is one documented endpoint group.
type Group struct {
	Name      string
	Path      string
	Tools     *toolset.Set
	Resources []mcp.Resource
}

// Handler renders the documentation page. The page is assembled once on first
// request and cached; the tool catalog is immutable after startup.
type Handler struct {
	serverInfo mcp.ImplementationInfo
	groups     []Group
	log        *slog.Logger

	once sync.Once
	page []byte
	err  error
}

// New builds a docs handler over the given endpoint groups.
func New(serverInfo mcp.ImplementationInfo, log *slog.Logger, groups ...Group) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{serverInfo: serverInfo, groups: groups, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	h.once.Do(func() { h.page, h.err = h.render() })
	if h.err != nil {
		h.log.Error("docs.render.fail", slog.String("err", h.err.Error()))
		http.Error(w, "failed to render documentation", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(h.page)
}

type toolDoc struct {
	Name        string
	Description template.HTML
}

type groupDoc struct {
	Name      string
	Path      string
	Tools     []toolDoc
	Resources []mcp.Resource
}

var pageTmpl = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; color: #1a1a1a; }
h1 { border-bottom: 2px solid #ddd; padding-bottom: .3rem; }
h2 code { background: #f3f3f3; padding: .1rem .4rem; border-radius: 4px; }
.tool { margin: 1rem 0; padding: .75rem 1rem; border: 1px solid #e3e3e3; border-radius: 6px; }
.tool h3 { margin: 0 0 .4rem; font-family: monospace; }
.resource { color: #555; }
footer { margin-top: 3rem; color: #888; font-size: .85rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Model Context Protocol server. Connect an MCP client to one of the endpoints below
using the streamable HTTP transport.</p>
{{range .Groups}}
<h2>Endpoint <code>{{.Path}}</code> &mdash; {{.Name}}</h2>
{{range .Tools}}
<div class="tool">
<h3>{{.Name}}</h3>
{{.Description}}
</div>
{{end}}
{{range .Resources}}
<p class="resource">Resource <code>{{.URI}}</code> ({{.Name}}): {{.Description}}</p>
{{end}}
{{end}}
<footer>{{.Version}}</footer>
</body>
</html>
`))

func (h *Handler) render() ([]byte, error) {
	data := struct {
		Title   string
		Version string
		Groups  []groupDoc
	}{
		Title:   h.serverInfo.Name,
		Version: h.serverInfo.Name + " " + h.serverInfo.Version,
	}

	for _, g := range h.groups {
		gd := groupDoc{Name: g.Name, Path: g.Path, Resources: g.Resources}
		for _, t := range g.Tools.List() {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(t.Description), &buf); err != nil {
				return nil, err
			}
			gd.Tools = append(gd.Tools, toolDoc{
				Name:        t.Name,
				Description: template.HTML(buf.String()),
			})
		}
		data.Groups = append(data.Groups, gd)
	}

	var out bytes.Buffer
	if err := pageTmpl.Execute(&out, data); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
