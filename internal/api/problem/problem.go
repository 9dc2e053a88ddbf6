package problem

import (
	"encoding/json"
	"net/http"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.transfer-orchestrator.dev/"

// Details represents RFC 7807 Problem Details. The transfer fields are
// extensions set when the failure belongs to a recorded transfer.
type Details struct {
	Type                   string `json:"type"`
	Title                  string `json:"title"`
	Status                 int    `json:"status"`
	Detail                 string `json:"detail"`
	Instance               string `json:"instance"`
	RequestID              string `json:"request_id"`
	TransactionID          string `json:"transaction_id,omitempty"`
	TransferStatus         string `json:"transfer_status,omitempty"`
	ReconciliationRequired bool   `json:"reconciliation_required,omitempty"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteDetails(w, r, Details{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteDetails fills the request-derived fields of d and sends it.
func WriteDetails(w http.ResponseWriter, r *http.Request, d Details) {
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	d.RequestID = w.Header().Get("X-Request-ID")
	if r != nil {
		d.Instance = r.URL.Path
		if d.RequestID == "" {
			d.RequestID = r.Header.Get("X-Request-ID")
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(d.Status)
	_ = json.NewEncoder(w).Encode(d)
}
