package assemble

import (
	"html/template"
	"strings"
)

// pageData feeds documentTemplate.
type pageData struct {
	Title       string
	Topic       string
	Date        string
	Chapters    []string
	Body        template.HTML
	Disclaimer  string
	StyleSheet  template.CSS
	MathEnabled bool
}

const disclaimer = "This book was generated with the help of a language model. " +
	"It may contain inaccuracies; verify important facts against primary sources."

const baseStyle = `
body { font-family: Georgia, "Times New Roman", serif; line-height: 1.55; color: #222; }
h1, h2, h3 { font-family: "Helvetica Neue", Arial, sans-serif; color: #1a2a44; }
.cover { text-align: center; padding-top: 30%; page-break-after: always; }
.cover h1 { font-size: 2.6em; margin-bottom: 0.2em; }
.cover .topic { font-size: 1.3em; color: #555; }
.cover .date { margin-top: 3em; color: #888; }
.toc { page-break-after: always; }
.toc ol { line-height: 2; }
.page-break { page-break-after: always; break-after: page; }
figure.diagram { text-align: center; margin: 1.5em 0; page-break-inside: avoid; }
figure.diagram img { max-width: 100%; }
figcaption { font-size: 0.9em; color: #555; margin-top: 0.4em; }
pre { background: #f6f8fa; padding: 0.8em; overflow-x: auto; font-size: 0.85em; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ccc; padding: 0.3em 0.6em; }
.math.display { text-align: center; margin: 1em 0; }
footer.disclaimer { margin-top: 3em; font-size: 0.8em; color: #777; border-top: 1px solid #ddd; padding-top: 0.8em; }
`

var documentTemplate = template.Must(template.New("book").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>{{.StyleSheet}}</style>
{{- if .MathEnabled}}
<script>window.MathJax = { tex: { inlineMath: [['\\(', '\\)']], displayMath: [['\\[', '\\]']] } };</script>
<script defer src="https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-svg.js"></script>
{{- end}}
</head>
<body>
<section class="cover">
<h1>{{.Title}}</h1>
<p class="topic">{{.Topic}}</p>
<p class="date">{{.Date}}</p>
</section>
{{- if .Chapters}}
<nav class="toc">
<h2>Contents</h2>
<ol>
{{- range .Chapters}}
<li>{{.}}</li>
{{- end}}
</ol>
</nav>
{{- end}}
<main>
{{.Body}}
</main>
<footer class="disclaimer">{{.Disclaimer}}</footer>
</body>
</html>
`))

func renderPage(data pageData) (string, error) {
	var b strings.Builder
	if err := documentTemplate.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

// safeHTML marks converter output as trusted. Goldmark escapes raw HTML in
// its input, so the only markup here is what the converter and the
// placeholder resolvers produced.
func safeHTML(s string) template.HTML {
	return template.HTML(s) //nolint:gosec
}
