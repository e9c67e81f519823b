package llm

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// articleTemplate is the fixed shape of a published digest. Sections render
// only when their list is non-empty so the markup never ends up half-formed.
var articleTemplate = template.Must(template.New("article").Parse(`<article class="ethereum-article">
  <div class="article-content mb-4">
    <p>{{.Summary}}</p>
  </div>
{{- if .MeetingSummaries}}
  <div class="meeting-summaries mb-4">
    <h2 class="section-title">Meeting Summaries</h2>
{{- range .MeetingSummaries}}
    <div class="meeting-summary mb-3">
      <h3>{{.Title}}</h3>
{{- if .KeyPoints}}
      <div class="key-points">
        <strong>Key points:</strong>
        <ul>
{{- range .KeyPoints}}
          <li>{{.}}</li>
{{- end}}
        </ul>
      </div>
{{- end}}
{{- if .Decisions}}
      <div class="decisions">
        <strong>Decisions:</strong>
        <ul>
{{- range .Decisions}}
          <li>{{.}}</li>
{{- end}}
        </ul>
      </div>
{{- end}}
    </div>
{{- end}}
  </div>
{{- end}}
{{- if .TechnicalUpdates}}
  <div class="technical-updates mb-4">
    <h2 class="section-title">Technical Updates</h2>
{{- range .TechnicalUpdates}}
    <div class="technical-update mb-3">
      <h3>{{.Area}}</h3>
      <p>{{.Changes}}</p>
{{- if .Impact}}
      <div class="update-impact"><strong>Impact:</strong> {{.Impact}}</div>
{{- end}}
    </div>
{{- end}}
  </div>
{{- end}}
</article>`))

var sanitizePolicy = newSanitizePolicy()

func newSanitizePolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").OnElements("div", "article", "h2", "h3", "h4", "p", "ul", "li")
	return p
}

// Sanitize strips anything outside the allowed markup from model-produced
// HTML before it is persisted or served.
func Sanitize(html string) string {
	return sanitizePolicy.Sanitize(html)
}

func renderArticle(summary weeklySummary) (string, error) {
	var b strings.Builder
	if err := articleTemplate.Execute(&b, summary); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}
	return Sanitize(b.String()), nil
}

// FailureHTML is the error-styled body stored on a failed generation attempt.
func FailureHTML(msg string) string {
	var b strings.Builder
	if err := failureTemplate.Execute(&b, msg); err != nil {
		return `<article class="ethereum-article article-failed"><p>Generation failed.</p></article>`
	}
	return b.String()
}

var failureTemplate = template.Must(template.New("failure").Parse(`<article class="ethereum-article article-failed">
  <div class="alert alert-danger">
    <h2>Article generation failed</h2>
    <p>{{.}}</p>
  </div>
</article>`))
