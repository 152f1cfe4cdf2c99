// Package problem writes RFC 7807 problem+json error bodies.
package problem

import (
	"encoding/json"
	"net/http"
)

const (
	contentType = "application/problem+json"
	baseTypeURL = "https://errors.deposit-settlement.dev/"
	traceHeader = "X-Trace-ID"
)

// Details is the standard member set. Extensions are merged beside it and
// can never shadow a standard member.
type Details struct {
	Type       string         `json:"type"`
	Title      string         `json:"title"`
	Status     int            `json:"status"`
	Detail     string         `json:"detail"`
	Instance   string         `json:"instance"`
	RequestID  string         `json:"request_id"`
	Extensions map[string]any `json:"-"`
}

func (d Details) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(d.Extensions)+6)
	for k, v := range d.Extensions {
		body[k] = v
	}
	body["type"] = d.Type
	body["title"] = d.Title
	body["status"] = d.Status
	body["detail"] = d.Detail
	body["instance"] = d.Instance
	body["request_id"] = d.RequestID
	return json.Marshal(body)
}

func Type(slug string) string {
	return baseTypeURL + slug
}

func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteWithExtensions(w, r, status, problemType, title, detail, nil)
}

// WriteWithExtensions is Write plus extension members, e.g. the deposit id a
// client needs to retry invoice creation.
func WriteWithExtensions(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, ext map[string]any) {
	d := Details{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: ext,
	}
	if d.Title == "" {
		d.Title = http.StatusText(status)
	}
	if d.Type == "" {
		d.Type = "about:blank"
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get(traceHeader)
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get(traceHeader)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
