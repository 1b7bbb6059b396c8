// Package httpx provides HTTP response utilities following RFC7807 problem details.
package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-cmms/internal/shared"
)

// ProblemDetail represents RFC7807 problem details.
type ProblemDetail struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// JSON sends a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// Problem sends an RFC7807 problem details response.
func Problem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// DecodeJSON decodes JSON request body into the target struct. Unknown fields
// and malformed bodies are reported as invalid input.
func DecodeJSON(r *http.Request, target any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("%w: decode body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

// DecodeOptionalJSON is DecodeJSON for endpoints whose body may be empty.
func DecodeOptionalJSON(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: decode body: %v", shared.ErrInvalidInput, err)
	}
	return nil
}

// Envelope wraps a payload with the degraded-success markers.
type Envelope struct {
	Data     any      `json:"data"`
	Degraded bool     `json:"degraded"`
	Warnings []string `json:"warnings,omitempty"`
}

// DegradedHeader lists the failed side effects of a degraded response.
const DegradedHeader = "X-Degraded-Effects"

// WithOutcome sends data with status, flagging degraded outcomes.
func WithOutcome(w http.ResponseWriter, status int, data any, outcome shared.Outcome) {
	if outcome.Degraded() {
		effects := make([]string, 0, len(outcome.Failures))
		for _, f := range outcome.Failures {
			effects = append(effects, string(f.Effect))
		}
		w.Header().Set(DegradedHeader, strings.Join(effects, ","))
	}
	JSON(w, status, Envelope{Data: data, Degraded: outcome.Degraded(), Warnings: outcome.Warnings()})
}
