// ABOUTME: Embedded onboarding result pages and their stylesheet
// ABOUTME: Markdown sources are rendered once with goldmark into an html/template layout

package assets

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

//go:embed pages/*.md pages/layout.html
var pagesFS embed.FS

//go:embed static
var staticFS embed.FS

// Page names served by the control endpoint.
const (
	PageSuccess = "success"
	PageError   = "error"
)

// ErrUnknownPage is returned by Render for a name with no markdown source.
var ErrUnknownPage = errors.New("unknown page")

func init() {
	// may be missing from minimal mime databases
	_ = mime.AddExtensionType(".woff2", "font/woff2")
}

// PageData is the per-request part of a page. Message is shown verbatim
// (escaped) under the page body.
type PageData struct {
	Message string
}

type page struct {
	title string
	body  template.HTML
}

// Pages holds the pre-rendered page bodies.
type Pages struct {
	layout *template.Template
	pages  map[string]page
}

// LoadPages renders every embedded markdown page.
func LoadPages() (*Pages, error) {
	layout, err := template.ParseFS(pagesFS, "pages/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Linkify))

	entries, err := fs.Glob(pagesFS, "pages/*.md")
	if err != nil {
		return nil, err
	}

	p := &Pages{layout: layout, pages: make(map[string]page, len(entries))}
	for _, name := range entries {
		src, err := pagesFS.ReadFile(name)
		if err != nil {
			return nil, err
		}
		var buf bytes.Buffer
		if err := md.Convert(src, &buf); err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		key := strings.TrimSuffix(path.Base(name), ".md")
		p.pages[key] = page{
			title: titleOf(src),
			body:  template.HTML(buf.String()), //nolint:gosec // rendered from embedded markdown
		}
	}
	return p, nil
}

// Render writes the named page.
func (p *Pages) Render(w io.Writer, name string, data PageData) error {
	pg, ok := p.pages[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, name)
	}
	return p.layout.Execute(w, struct {
		Name    string
		Title   string
		Body    template.HTML
		Message string
	}{
		Name:    name,
		Title:   pg.title,
		Body:    pg.body,
		Message: data.Message,
	})
}

// Names lists the available pages.
func (p *Pages) Names() []string {
	names := make([]string, 0, len(p.pages))
	for name := range p.pages {
		names = append(names, name)
	}
	return names
}

// titleOf returns the first level-one heading of a markdown document.
func titleOf(src []byte) string {
	for _, line := range strings.Split(string(src), "\n") {
		if title, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(title)
		}
	}
	return "coven-fleet"
}

// mimeFromExt returns the MIME type for a file extension.
func mimeFromExt(ext string) string {
	switch ext {
	case ".css":
		return "text/css; charset=utf-8"
	case ".svg":
		return "image/svg+xml"
	case ".woff2":
		return "font/woff2"
	default:
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
		return "application/octet-stream"
	}
}

// FileServer serves the embedded static/ directory. Paths are relative to
// it, so strip /static/ before calling.
func FileServer() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("assets: failed to create sub filesystem: " + err.Error())
	}
	fileServer := http.FileServer(http.FS(sub))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ext := strings.ToLower(path.Ext(r.URL.Path)); ext != "" {
			w.Header().Set("Content-Type", mimeFromExt(ext))
		}
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})
}
