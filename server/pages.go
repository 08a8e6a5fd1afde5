package server

import (
	"html/template"
	"net/http"
)

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, system-ui, sans-serif; max-width: 46rem; margin: 3rem auto; padding: 0 1rem; line-height: 1.6; }
code { background: #f2f2f2; padding: 0.1rem 0.3rem; border-radius: 3px; }
button { font-size: 1rem; padding: 0.4rem 0.8rem; cursor: pointer; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>To Strap your system:</p>
<ol>
  {{if .BeforeInstall}}<li>{{.BeforeInstall}}</li>{{end}}
  <li>
    <form method="post" action="/auth/github">
      <button type="submit">Download the <code>strap.sh</code></button>
    </form>
    that's been customised for your GitHub user (or
    <a href="/strap.sh?text=1">view it</a> first). This will prompt for
    access to your email, public and private repositories; you'll need to
    provide access to any organizations whose repositories you need to be
    able to <code>git clone</code>. This is used to add a GitHub access
    token to the <code>strap.sh</code> script and is not otherwise used by
    this web application or stored anywhere.
  </li>
  <li>Run Strap in Terminal.app with <code>bash ~/Downloads/strap.sh</code>.</li>
  <li>
    If something failed, run Strap with more debugging output in
    Terminal.app with <code>bash ~/Downloads/strap.sh --debug</code> and
    {{if .IssuesURL}}file an issue at <a href="{{.IssuesURL}}">{{.IssuesURL}}</a>{{else}}try to debug it yourself{{end}}.
  </li>
  <li>
    Delete the customised <code>strap.sh</code> (it has a GitHub token in
    it) in Terminal.app with <code>rm -f ~/Downloads/strap.sh</code>
  </li>
  <li>Install additional software with <code>brew install</code>.</li>
</ol>
</body>
</html>
`))

type homePageData struct {
	Title         string
	BeforeInstall string
	IssuesURL     string
}

func (a *App) handleHome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := homePageData{
		Title:         "👢 Strap",
		BeforeInstall: a.Config.Script.BeforeInstall,
		IssuesURL:     a.Config.Script.IssuesURL,
	}
	if err := homeTemplate.Execute(w, data); err != nil {
		a.Logger.Error("render home page", "error", err)
	}
}
