package templates

import "strings"

const (
	DefaultLoadingLabel       = "Fetching data..."
	DefaultSummaryStartLabel  = "Starting..."
	DefaultComponentDoneLabel = "{{ .Title }} ✓"
)

// LabelSources holds the raw progress label templates from configuration.
// Empty fields fall back to the defaults.
type LabelSources struct {
	Loading       string
	SummaryStart  string
	ComponentDone string
}

// LabelData is the context handed to progress label templates.
type LabelData struct {
	Title     string
	Report    string
	Month     int
	Year      int
	Completed int
	Total     int
}

// Labels renders progress labels. A nil *Labels renders defaults.
type Labels struct {
	loading       *Template
	summaryStart  *Template
	componentDone *Template
}

func NewLabels(renderer *Renderer, src LabelSources) (*Labels, error) {
	if renderer == nil {
		renderer = NewRenderer()
	}
	compile := func(name, source, fallback string) (*Template, error) {
		if strings.TrimSpace(source) == "" {
			source = fallback
		}
		return renderer.Compile(name, source)
	}

	loading, err := compile("loading", src.Loading, DefaultLoadingLabel)
	if err != nil {
		return nil, err
	}
	summaryStart, err := compile("summaryStart", src.SummaryStart, DefaultSummaryStartLabel)
	if err != nil {
		return nil, err
	}
	componentDone, err := compile("componentDone", src.ComponentDone, DefaultComponentDoneLabel)
	if err != nil {
		return nil, err
	}
	return &Labels{loading: loading, summaryStart: summaryStart, componentDone: componentDone}, nil
}

// DefaultLabels never fails because the default sources are constant.
func DefaultLabels() *Labels {
	labels, err := NewLabels(nil, LabelSources{})
	if err != nil {
		panic(err)
	}
	return labels
}

func (l *Labels) Loading(data LabelData) string {
	if l == nil {
		return DefaultLoadingLabel
	}
	return render(l.loading, data)
}

func (l *Labels) SummaryStart(data LabelData) string {
	if l == nil {
		return DefaultSummaryStartLabel
	}
	return render(l.summaryStart, data)
}

func (l *Labels) ComponentDone(data LabelData) string {
	if l == nil {
		return data.Title + " ✓"
	}
	return render(l.componentDone, data)
}

// render falls back to the title when execution fails.
func render(tmpl *Template, data LabelData) string {
	out, err := tmpl.Render(data)
	if err != nil {
		return data.Title
	}
	return out
}
