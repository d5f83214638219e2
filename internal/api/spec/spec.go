// Package spec embeds the settlement API's OpenAPI document.
package spec

import (
	"bytes"
	_ "embed"
	"net/http"
	"time"
)

//go:embed openapi.yaml
var openapi []byte

// loadedAt stands in for the document's modification time.
var loadedAt = time.Now()

// OpenAPIHandler serves the OpenAPI document the Swagger UI reads. HEAD and
// If-Modified-Since are handled by http.ServeContent.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, "openapi.yaml", loadedAt, bytes.NewReader(openapi))
	}
}
