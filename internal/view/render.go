package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/starford/catnip/internal/records"
	"github.com/starford/catnip/internal/session"
)

//go:embed templates/*.tmpl
var embedded embed.FS

// Page is everything a render needs: the two store snapshots, the form
// state and the tab's change counter.
type Page struct {
	Version uint64
	Session session.State
	Records records.State
	UI      UIState
}

// Renderer executes the page templates. Templates come from the binary
// unless a directory is given, in which case Reload picks up edits.
type Renderer struct {
	dir  string
	fsys fs.FS

	mu   sync.RWMutex
	tmpl *template.Template
}

// NewRenderer parses the templates in dir, or the embedded ones when dir
// is empty.
func NewRenderer(dir string) (*Renderer, error) {
	r := &Renderer{dir: dir}
	if dir == "" {
		sub, err := fs.Sub(embedded, "templates")
		if err != nil {
			return nil, fmt.Errorf("view: embedded templates: %w", err)
		}
		r.fsys = sub
	} else {
		r.fsys = os.DirFS(dir)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the template directory, or "" for embedded templates.
func (r *Renderer) Dir() string {
	return r.dir
}

// Reload re-parses the templates. On error the previous set stays active.
func (r *Renderer) Reload() error {
	t, err := template.New("").Funcs(funcs).ParseFS(r.fsys, "*.tmpl")
	if err != nil {
		return fmt.Errorf("view: parse templates: %w", err)
	}
	if t.Lookup("page") == nil {
		return fmt.Errorf("view: parse templates: no \"page\" template")
	}
	r.mu.Lock()
	r.tmpl = t
	r.mu.Unlock()
	return nil
}

// Render writes the page. Nothing is written if execution fails.
func (r *Renderer) Render(w io.Writer, p Page) error {
	r.mu.RLock()
	t := r.tmpl
	r.mu.RUnlock()

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "page", p); err != nil {
		return fmt.Errorf("view: render: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

var funcs = template.FuncMap{
	"formatDate":    FormatDate,
	"minAge":        func() int { return MinAge },
	"maxAge":        func() int { return MaxAge },
	"confirmDelete": func() string { return MsgConfirmDelete },
}

// FormatDate renders the calendar date of t, e.g. "5/3/2024".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("1/2/2006")
}
