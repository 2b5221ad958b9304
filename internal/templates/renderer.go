package templates

import (
	"bytes"
	"fmt"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// sideEffects lists sprig helpers that read the process environment or the
// filesystem. Labels come from configuration and must not reach either.
var sideEffects = []string{"env", "expandenv", "readDir", "mustReadDir", "readFile", "mustReadFile", "glob"}

// Renderer compiles label templates against the sprig function set.
type Renderer struct {
	funcs template.FuncMap
}

// Template is a compiled label. It is safe for concurrent use.
type Template struct {
	tmpl *template.Template
}

func NewRenderer() *Renderer {
	funcs := sprig.TxtFuncMap()
	for _, name := range sideEffects {
		delete(funcs, name)
	}
	return &Renderer{funcs: funcs}
}

// Compile parses source as the label called name.
func (r *Renderer) Compile(name, source string) (*Template, error) {
	tmpl, err := template.New(name).Funcs(r.funcs).Parse(source)
	if err != nil {
		return nil, fmt.Errorf("templates: compile %q: %w", name, err)
	}
	return &Template{tmpl: tmpl}, nil
}

func (t *Template) Render(data LabelData) (string, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: execute %q: %w", t.tmpl.Name(), err)
	}
	return buf.String(), nil
}
