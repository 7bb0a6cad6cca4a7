package handlers

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"sync"
)

//go:embed openapi.json
var openAPISpec []byte

const openAPIPath = "/v1/openapi.json"

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <style>
      body { margin: 0; padding: 0; }
      redoc { display: block; height: 100vh; }
    </style>
  </head>
  <body>
    <redoc spec-url="{{.SpecURL}}"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>`))

// openAPIDoc is the embedded document with this deployment's base URL as its
// only server entry.
type openAPIDoc struct {
	once  sync.Once
	body  []byte
	title string
	err   error
}

func (d *openAPIDoc) load(baseURL string) ([]byte, string, error) {
	d.once.Do(func() {
		var doc map[string]any
		if err := json.Unmarshal(openAPISpec, &doc); err != nil {
			d.err = fmt.Errorf("decode openapi document: %w", err)
			return
		}
		if baseURL != "" {
			doc["servers"] = []map[string]string{{"url": baseURL}}
		}
		if info, ok := doc["info"].(map[string]any); ok {
			d.title, _ = info["title"].(string)
		}
		d.body, d.err = json.MarshalIndent(doc, "", "  ")
	})
	return d.body, d.title, d.err
}

func (a *App) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	body, _, err := a.docs.load(a.PublicBaseURL)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (a *App) OpenAPIDocs(w http.ResponseWriter, r *http.Request) {
	_, title, err := a.docs.load(a.PublicBaseURL)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = docsPage.Execute(w, struct{ Title, SpecURL string }{title + " Docs", openAPIPath})
}
