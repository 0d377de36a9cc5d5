package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"chatbi/internal/models"
	"github.com/google/uuid"
)

// Artifact is the rendered report output of a run.
type Artifact struct {
	ID          string
	FileName    string
	URL         string
	Type        models.ArtifactType
	ContentType string
	Data        []byte
}

// Renderer produces a report artifact from a template. Per-chart issues that
// do not abort the render come back as warnings; an error means nothing was
// rendered.
type Renderer interface {
	Render(ctx context.Context, tmpl *models.ReportTemplate, format models.ExportFormat) (*Artifact, []models.RenderWarning, error)
}

// SourceState describes whether a chart's data source can be read.
type SourceState int

const (
	SourceAvailable SourceState = iota
	SourceMissing
	SourceRestricted
)

// SourceChecker reports the availability of a data source. The real check
// lives with the data-source subsystem; the renderer only consumes it.
type SourceChecker func(dataSourceID string) SourceState

// HTMLRenderer is the built-in renderer. Real PDF/PNG export is handled by a
// separate rendering service; this implementation produces an HTML artifact
// with the same warning and sizing semantics.
type HTMLRenderer struct {
	baseURL     string
	inlineMax   int64
	checkSource SourceChecker
}

func NewHTMLRenderer(baseURL string, inlineMax int64, checkSource SourceChecker) *HTMLRenderer {
	if checkSource == nil {
		checkSource = func(string) SourceState { return SourceAvailable }
	}
	return &HTMLRenderer{baseURL: baseURL, inlineMax: inlineMax, checkSource: checkSource}
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Name}}</title></head>
<body>
<h1>{{.Name}}</h1>
<p>{{.Description}}</p>
<p>Generated {{.GeneratedAt}}</p>
{{range .Charts}}
<div class="chart">
  <h2>{{.Title}}</h2>
  <p>{{.Type}} chart of {{range .Metrics}}{{.}} {{end}}by {{range .Dimensions}}{{.}} {{end}}</p>
</div>
{{end}}
</body>
</html>`))

type reportData struct {
	Name        string
	Description string
	GeneratedAt string
	Charts      []models.ChartConfig
}

// Render walks the template's charts in layout order, collects warnings for
// charts whose data source is missing or restricted, and fails only when
// every chart is unrenderable.
func (r *HTMLRenderer) Render(ctx context.Context, tmpl *models.ReportTemplate, format models.ExportFormat) (*Artifact, []models.RenderWarning, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var warnings []models.RenderWarning
	var rendered []models.ChartConfig
	for _, chart := range orderedCharts(tmpl) {
		switch r.checkSource(chart.DataSourceID) {
		case SourceMissing:
			warnings = append(warnings, models.RenderWarning{
				ChartID:    chart.ID,
				ChartTitle: chart.Title,
				Type:       models.WarningMissing,
				Message:    fmt.Sprintf("data source %s is unavailable", chart.DataSourceID),
			})
		case SourceRestricted:
			warnings = append(warnings, models.RenderWarning{
				ChartID:    chart.ID,
				ChartTitle: chart.Title,
				Type:       models.WarningRestricted,
				Message:    fmt.Sprintf("access to data source %s is restricted", chart.DataSourceID),
			})
		default:
			rendered = append(rendered, chart)
		}
	}

	if len(rendered) == 0 {
		return nil, warnings, fmt.Errorf("no renderable charts in template %q", tmpl.Name)
	}

	var buf bytes.Buffer
	err := reportTmpl.Execute(&buf, reportData{
		Name:        tmpl.Name,
		Description: tmpl.Description,
		GeneratedAt: time.Now().Format(time.RFC3339),
		Charts:      rendered,
	})
	if err != nil {
		return nil, warnings, fmt.Errorf("failed to render report: %v", err)
	}

	id := uuid.NewString()
	artifact := &Artifact{
		ID:          id,
		FileName:    fmt.Sprintf("%s.%s.html", id, format),
		URL:         fmt.Sprintf("%s/%s.%s.html", r.baseURL, id, format),
		ContentType: "text/html",
		Data:        buf.Bytes(),
	}
	// Oversized artifacts are delivered as a link instead of an inline
	// attachment.
	if r.inlineMax > 0 && int64(len(artifact.Data)) > r.inlineMax {
		artifact.Type = models.ArtifactLink
	} else {
		artifact.Type = models.ArtifactAttachment
	}
	return artifact, warnings, nil
}

// orderedCharts applies the template layout's chart order, appending any
// charts the layout does not mention in their original position.
func orderedCharts(tmpl *models.ReportTemplate) []models.ChartConfig {
	if tmpl.Layout == nil || len(tmpl.Layout.ChartOrder) == 0 {
		return tmpl.Charts
	}
	byID := make(map[string]models.ChartConfig, len(tmpl.Charts))
	for _, c := range tmpl.Charts {
		byID[c.ID] = c
	}
	ordered := make([]models.ChartConfig, 0, len(tmpl.Charts))
	placed := make(map[string]bool, len(tmpl.Charts))
	for _, id := range tmpl.Layout.ChartOrder {
		if c, ok := byID[id]; ok && !placed[id] {
			ordered = append(ordered, c)
			placed[id] = true
		}
	}
	for _, c := range tmpl.Charts {
		if !placed[c.ID] {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
