package spec

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"net/http"
	"sync"
)

//go:embed openapi.yaml
var openapiFS embed.FS

type document struct {
	body []byte
	etag string
}

var loadDocument = sync.OnceValues(func() (document, error) {
	body, err := openapiFS.ReadFile("openapi.yaml")
	if err != nil {
		return document{}, err
	}
	sum := sha256.Sum256(body)
	return document{body: body, etag: `"` + hex.EncodeToString(sum[:8]) + `"`}, nil
})

// OpenAPIHandler serves the embedded OpenAPI document, honoring If-None-Match.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := loadDocument()
		if err != nil {
			http.Error(w, "openapi document not available", http.StatusInternalServerError)
			return
		}
		w.Header().Set("ETag", doc.etag)
		w.Header().Set("Cache-Control", "public, max-age=300")
		if r.Header.Get("If-None-Match") == doc.etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(doc.body)
	}
}
