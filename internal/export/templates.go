package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var profileTemplate = template.Must(template.New("profile").Funcs(template.FuncMap{
	"lower": strings.ToLower,
}).Parse(profileHTML))

// TemplateData holds data for profile template rendering.
type TemplateData struct {
	DisplayName string
	ProfileType string
	GeneratedAt time.Time
	Sections    []TemplateSection
}

// TemplateSection is one rendered section.
type TemplateSection struct {
	Label   string
	Answers []TemplateAnswer
}

// TemplateAnswer is one rendered question/answer pair. Groups is populated
// for repeater answers, FileName for file answers, Value otherwise.
type TemplateAnswer struct {
	Label    string
	Value    string
	FileName string
	Groups   [][]TemplateAnswer
}

// RenderProfileHTML renders the profile template with provided data.
func RenderProfileHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := profileTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const profileHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.DisplayName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; border-bottom: 1px solid #ccc; padding-bottom: 0.25rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .answer { margin: 0.75rem 0; }
    .answer .label { font-weight: bold; }
    .group { background: #f5f5f5; padding: 0.5rem 1rem; margin: 0.5rem 0; border-left: 3px solid #333; }
    .file { font-style: italic; color: #444; }
  </style>
</head>
<body>
  <h1>{{.DisplayName}}</h1>
  <div class="meta">{{.ProfileType | lower}} profile | generated {{.GeneratedAt.Format "Jan 2, 2006"}}</div>
  {{range .Sections}}
  <h2>{{.Label}}</h2>
  {{range .Answers}}
  <div class="answer">
    <span class="label">{{.Label}}</span>
    {{if .Groups}}
      {{range .Groups}}
      <div class="group">
        {{range .}}<div><span class="label">{{.Label}}:</span> {{if .FileName}}<span class="file">{{.FileName}}</span>{{else}}{{.Value}}{{end}}</div>{{end}}
      </div>
      {{end}}
    {{else if .FileName}}
      <span class="file">{{.FileName}}</span>
    {{else}}
      <div>{{.Value}}</div>
    {{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
