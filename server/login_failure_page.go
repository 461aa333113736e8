package server

import (
	"fmt"
	"html/template"
	"maps"
	"net/http"
	"slices"
)

// diagnostics collects the reasons a login callback failed. Entries are HTML.
type diagnostics []template.HTML

// add appends a plain text message.
func (d *diagnostics) add(msg string) {
	*d = append(*d, template.HTML(template.HTMLEscapeString(msg)))
}

// addf appends an HTML message; args are escaped.
func (d *diagnostics) addf(format string, args ...any) {
	escaped := make([]any, len(args))
	for i, a := range args {
		escaped[i] = template.HTMLEscapeString(fmt.Sprint(a))
	}
	*d = append(*d, template.HTML(fmt.Sprintf(format, escaped...)))
}

// addTable appends a two column table of items, sorted by key.
func (d *diagnostics) addTable(items map[string]any) {
	*d = append(*d, htmlTable(items))
}

func htmlTable(items map[string]any) template.HTML {
	res := "<table style='width:80%;border:1px solid black;'>"
	for _, k := range slices.Sorted(maps.Keys(items)) {
		res += fmt.Sprintf("<tr><td>%s</td><td>%s</td></tr>",
			template.HTMLEscapeString(k), template.HTMLEscapeString(fmt.Sprint(items[k])))
	}
	res += "</table>"
	return template.HTML(res)
}

var loginFailedPage = template.Must(template.New("login_failed").Parse(`
<h2>Login failed</h2>

<p>Retry at <a href='{{.Login}}'>{{.Login}}</a></p>

<p>Try clearing the cookies for <b>.{{.Domain}}</b> by navigating to the correct
address for your browser:
<ul>
<li>chrome://settings/siteData?searchSubpage={{.Domain}}</li>
<li>brave://settings/siteData?searchSubpage={{.Domain}}</li>
<li>edge://settings/siteData (you will have to search for {{.Domain}} cookies)</li>
</ul></p>

<h4>Debug info</h4>
<ul>{{range .Messages}}<li>{{.}}</li>{{end}}</ul>
`))

func (s *Server) writeLoginFailed(w http.ResponseWriter, r *http.Request, msgs diagnostics) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := loginFailedPage.Execute(w, struct {
		Login    string
		Domain   string
		Messages diagnostics
	}{
		Login:    RouteUserLogin,
		Domain:   s.config.GetDomain(),
		Messages: msgs,
	})
	if err != nil {
		logError(r.Method, r.URL.Path, err.Error())
	}
}
