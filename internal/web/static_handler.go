package web

import (
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kuitang/plansite/internal/auth"
)

// StaticPageData contains data for static pages.
type StaticPageData struct {
	PageData
	Slug    string
	Content template.HTML
}

// staticPage maps a route to its markdown source.
type staticPage struct {
	path  string
	file  string
	title string
}

var staticPages = []staticPage{
	{path: "/about", file: "about.md", title: "About"},
	{path: "/privacy", file: "privacy.md", title: "Privacy Policy"},
	{path: "/refunds", file: "refunds.md", title: "Refunds and Plan Changes"},
}

// StaticHandler serves markdown-backed info pages. Browsers get the page
// rendered through static/page.html; "Accept: text/markdown" or a ".md"
// suffix returns the raw source.
type StaticHandler struct {
	renderer     *Renderer
	users        *auth.UserService
	staticSrcDir string
	cache        map[string][]byte
	cacheMu      sync.RWMutex
}

// NewStaticHandler creates a new static page handler reading markdown from staticSrcDir.
func NewStaticHandler(renderer *Renderer, users *auth.UserService, staticSrcDir string) *StaticHandler {
	return &StaticHandler{
		renderer:     renderer,
		users:        users,
		staticSrcDir: staticSrcDir,
		cache:        make(map[string][]byte),
	}
}

// RegisterRoutes registers static page routes on the given mux.
func (h *StaticHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	for _, page := range staticPages {
		html := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.servePage(w, r, page, wantsMarkdown(r))
		})
		raw := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h.servePage(w, r, page, true)
		})
		mux.Handle("GET "+page.path, authMiddleware.OptionalAuth(html))
		mux.Handle("GET "+page.path+".md", raw)
	}
}

func wantsMarkdown(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/markdown")
}

func (h *StaticHandler) servePage(w http.ResponseWriter, r *http.Request, page staticPage, raw bool) {
	md, err := h.readCached(filepath.Join(h.staticSrcDir, page.file))
	if err != nil {
		h.renderer.RenderError(w, http.StatusNotFound, "Page not found")
		return
	}

	w.Header().Set("Vary", "Accept")
	if raw {
		w.Header().Set("Content-Type", "text/markdown; charset=UTF-8")
		w.Write(md)
		return
	}

	data := StaticPageData{
		PageData: PageData{Title: page.title},
		Slug:     strings.TrimPrefix(page.path, "/"),
		Content:  template.HTML(renderMarkdownBytes(md)),
	}
	if userID := auth.GetUserID(r.Context()); userID != "" && h.users != nil {
		if user, err := h.users.Get(r.Context(), userID); err == nil {
			data.User = user
		}
	}

	if err := h.renderer.Render(w, "static/page.html", data); err != nil {
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to render page")
	}
}

// readCached reads a file with caching.
func (h *StaticHandler) readCached(path string) ([]byte, error) {
	h.cacheMu.RLock()
	content, ok := h.cache[path]
	h.cacheMu.RUnlock()
	if ok {
		return content, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	h.cacheMu.Lock()
	h.cache[path] = content
	h.cacheMu.Unlock()
	return content, nil
}

// ClearCache clears the static page cache (useful for development).
func (h *StaticHandler) ClearCache() {
	h.cacheMu.Lock()
	h.cache = make(map[string][]byte)
	h.cacheMu.Unlock()
}
