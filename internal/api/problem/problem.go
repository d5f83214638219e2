package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const contentType = "application/problem+json"
const baseTypeURL = "https://errors.marketplace-settlement.dev/"

// Details represents RFC 7807 Problem Details. Error and Message repeat the
// type slug and detail for clients that only read those two fields.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	instance := ""
	requestID := ""
	if r != nil {
		instance = r.URL.Path
		requestID = r.Header.Get("X-Trace-ID")
	}
	if requestID == "" {
		requestID = w.Header().Get("X-Trace-ID")
	}

	code := strings.TrimPrefix(problemType, baseTypeURL)
	if code == "about:blank" {
		code = strings.ToLower(strings.ReplaceAll(title, " ", "-"))
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		Instance:  instance,
		RequestID: requestID,
		Error:     code,
		Message:   detail,
	})
}
