package surface

import (
	"html/template"
	"io"
	"strings"

	"github.com/callscope/callscope/pkg/analysis"
	"github.com/callscope/callscope/pkg/impact"
)

// HTMLRenderer writes a standalone page with collapsible caller trees.
type HTMLRenderer struct{}

var htmlFuncs = template.FuncMap{
	"upper": func(l impact.Level) string { return strings.ToUpper(string(l)) },
	"label": treeLabel,
}

var htmlPage = template.Must(template.New("page").Funcs(htmlFuncs).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 2rem; color: #1c2833; }
table { border-collapse: collapse; margin-bottom: 1.5rem; }
th, td { border: 1px solid #d5d8dc; padding: 0.3rem 0.6rem; text-align: left; }
code { font-size: 0.9em; }
ul.tree { list-style: none; padding-left: 1.2rem; border-left: 1px dotted #aab7b8; }
.level { font-weight: bold; padding: 0 0.3rem; border-radius: 3px; }
.critical { background: #E74C3C; color: #fff; }
.high { background: #E67E22; color: #fff; }
.medium { background: #F4D03F; }
.low { background: #2CD7C7; }
.none { background: #d5d8dc; }
.muted { color: #7f8c8d; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{len .Summary.ChangedFiles}} files changed, {{.Summary.ChangedFunctions}} functions changed, max impact
<span class="level {{.Summary.MaxLevel}}">{{upper .Summary.MaxLevel}}</span>.</p>
{{if .Summary.Groups}}
<table>
<tr><th>Function</th><th>File</th><th>Score</th><th>Callers</th><th>Depth</th><th>Level</th></tr>
{{range .Summary.Groups}}{{with .Primary}}<tr>
<td><code>{{.Name}}</code></td><td><code>{{.File}}:{{.Line}}</code></td>
<td>{{.Score.Score}}</td><td>{{.Score.Breadth}}</td><td>{{.Score.Depth}}</td>
<td><span class="level {{.Level}}">{{upper .Level}}</span></td>
</tr>{{end}}{{end}}
</table>
{{if .Summary.Hidden}}<p class="muted">... and {{.Summary.Hidden}} more groups</p>{{end}}
{{range .Summary.Groups}}
<details>
<summary><code>{{.Primary.Name}}</code> <span class="muted">{{.Primary.File}}</span>{{if .Related}} (+{{len .Related}} related){{end}}</summary>
{{if .Related}}<p>Related: {{range $i, $r := .Related}}{{if $i}}, {{end}}<code>{{$r.Name}}</code>{{end}}</p>{{end}}
{{if .EntryPoints}}<h4>Entry points</h4>
<ul>{{range .EntryPoints}}<li><code>{{.Name}}</code> <span class="muted">{{.File}}:{{.Line}}, depth {{.Depth}}</span></li>{{end}}</ul>{{end}}
<h4>Callers</h4>
<ul class="tree">{{template "node" .Tree}}</ul>
</details>
{{end}}
{{else}}
<p>No changed lines fall inside a known function.</p>
{{end}}
</body>
</html>
{{define "node"}}<li>{{label .}}{{if .Children}}<ul class="tree">{{range .Children}}{{template "node" .}}{{end}}</ul>{{end}}</li>{{end}}
`))

func (r *HTMLRenderer) Render(w io.Writer, result *analysis.Result, opts Options) error {
	summary, err := Summarize(result, opts)
	if err != nil {
		return err
	}
	title := opts.Title
	if title == "" {
		title = headline(summary)
	}
	return htmlPage.Execute(w, struct {
		Title   string
		Summary *Summary
	}{title, summary})
}
