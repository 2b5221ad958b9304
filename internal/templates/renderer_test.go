package templates

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRendererRemovesSideEffectFunctions(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	renderer := NewRenderer()

	for _, fn := range []string{"env", "expandenv", "readFile", "readDir", "glob"} {
		_, err := renderer.Compile(fn, "{{ "+fn+" \"TEST_VAR\" }}")
		require.Error(t, err, fn)
	}
}

func TestRendererKeepsSprigHelpers(t *testing.T) {
	tmpl, err := NewRenderer().Compile("upper", "{{ upper .Report }} {{ .Month | printf \"%02d\" }}")
	require.NoError(t, err)

	rendered, err := tmpl.Render(LabelData{Report: "sales", Month: 3})
	require.NoError(t, err)
	require.Equal(t, "SALES 03", rendered)
}

func TestRendererReportsErrors(t *testing.T) {
	renderer := NewRenderer()

	_, err := renderer.Compile("broken", "{{ .Title ")
	require.ErrorContains(t, err, `"broken"`)

	tmpl, err := renderer.Compile("unknown", "{{ .Missing }}")
	require.NoError(t, err)
	_, err = tmpl.Render(LabelData{})
	require.ErrorContains(t, err, `"unknown"`)
}

func TestLabelsDefaults(t *testing.T) {
	labels := DefaultLabels()
	data := LabelData{Title: "Sales", Report: "sales", Month: 3, Year: 2024, Completed: 1, Total: 3}

	require.Equal(t, "Fetching data...", labels.Loading(data))
	require.Equal(t, "Starting...", labels.SummaryStart(data))
	require.Equal(t, "Sales ✓", labels.ComponentDone(data))

	var none *Labels
	require.Equal(t, "Fetching data...", none.Loading(data))
	require.Equal(t, "Sales ✓", none.ComponentDone(data))
}

func TestLabelsCustomSources(t *testing.T) {
	labels, err := NewLabels(NewRenderer(), LabelSources{
		Loading:       "Loading {{ .Title | lower }} for {{ .Month }}/{{ .Year }}",
		ComponentDone: "{{ .Completed }}/{{ .Total }} {{ .Report }}",
	})
	require.NoError(t, err)

	data := LabelData{Title: "App adoption", Report: "app-adoption", Month: 2, Year: 2025, Completed: 2, Total: 3}
	require.Equal(t, "Loading app adoption for 2/2025", labels.Loading(data))
	require.Equal(t, "Starting...", labels.SummaryStart(data))
	require.Equal(t, "2/3 app-adoption", labels.ComponentDone(data))
}

func TestLabelsFallBackToTitle(t *testing.T) {
	labels, err := NewLabels(nil, LabelSources{Loading: `{{ fail "nope" }}`})
	require.NoError(t, err)
	require.Equal(t, "Sales", labels.Loading(LabelData{Title: "Sales"}))

	_, err = NewLabels(nil, LabelSources{SummaryStart: "{{"})
	require.Error(t, err)
}
