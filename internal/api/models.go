package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Verb is the HTTP method used to deliver a photo.
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPut    Verb = "PUT"
	VerbPatch  Verb = "PATCH"
	VerbDelete Verb = "DELETE"
)

// DefaultVerb is used when a target is created without an explicit method.
const DefaultVerb = VerbPost

// Verbs lists every supported method in display order.
var Verbs = []Verb{VerbGet, VerbPost, VerbPut, VerbPatch, VerbDelete}

// ParseVerb normalizes s (trim + upper case) and checks it is supported.
// An empty string yields DefaultVerb.
func ParseVerb(s string) (Verb, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultVerb, nil
	}
	for _, v := range Verbs {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported method %q", s)
}

// Valid reports whether v is one of the supported methods.
func (v Verb) Valid() bool {
	for _, known := range Verbs {
		if v == known {
			return true
		}
	}
	return false
}

// TargetConfig describes where and how a captured photo is delivered.
// Values are treated as immutable once created.
type TargetConfig struct {
	ID   string `json:"id" yaml:"id"`     // Opaque unique identifier
	Verb Verb   `json:"verb" yaml:"verb"` // HTTP method
	URL  string `json:"url" yaml:"url"`   // Absolute http/https URL
	Note string `json:"note" yaml:"note"` // Sent as the "note" form field when non-empty
}

// NewTargetConfig builds a TargetConfig with a fresh ID and normalized fields.
func NewTargetConfig(verb Verb, url, note string) TargetConfig {
	if verb == "" {
		verb = DefaultVerb
	}
	return TargetConfig{
		ID:   uuid.NewString(),
		Verb: verb,
		URL:  strings.TrimSpace(url),
		Note: strings.TrimSpace(note),
	}
}

// Matches reports whether the config has the same normalized identity
// (verb + trimmed url + trimmed note) as the given values.
func (c TargetConfig) Matches(verb Verb, url, note string) bool {
	return c.Verb == verb &&
		strings.TrimSpace(c.URL) == strings.TrimSpace(url) &&
		strings.TrimSpace(c.Note) == strings.TrimSpace(note)
}

// Summary is a one-line description, e.g. "POST · https://host/upload · note".
func (c TargetConfig) Summary() string {
	note := strings.TrimSpace(c.Note)
	if note == "" {
		return fmt.Sprintf("%s · %s", c.Verb, c.URL)
	}
	return fmt.Sprintf("%s · %s · %s", c.Verb, c.URL, note)
}

// UploadExchange is the outcome of a successful (2xx) upload.
type UploadExchange struct {
	StatusCode      int    `json:"status_code"`
	RequestSummary  string `json:"request_summary"`
	ResponseSummary string `json:"response_summary"`
}

// UploadErrorReport describes a failed upload attempt. It is also the error
// type returned by Client.Upload.
type UploadErrorReport struct {
	Message         string  `json:"message"`                    // Human readable cause
	RequestSummary  string  `json:"request_summary"`            // May state that no request was built
	ResponseSummary *string `json:"response_summary,omitempty"` // Nil when no response was received

	cause error
}

// Error implements the error interface.
func (r *UploadErrorReport) Error() string {
	return r.Message
}

// Unwrap returns the transport error behind the report, if any.
func (r *UploadErrorReport) Unwrap() error {
	return r.cause
}

// HasResponse reports whether a response was received.
func (r *UploadErrorReport) HasResponse() bool {
	return r.ResponseSummary != nil
}

// NewErrorReport builds a report without an underlying cause.
func NewErrorReport(message, requestSummary string, responseSummary *string) *UploadErrorReport {
	return &UploadErrorReport{
		Message:         message,
		RequestSummary:  requestSummary,
		ResponseSummary: responseSummary,
	}
}

// AsErrorReport converts any error into a report. Errors that are not
// reports are wrapped with a "request was not created" summary.
func AsErrorReport(err error) *UploadErrorReport {
	if err == nil {
		return nil
	}
	var report *UploadErrorReport
	if errors.As(err, &report) {
		return report
	}
	return &UploadErrorReport{
		Message:        err.Error(),
		RequestSummary: "Request was not created.",
		cause:          err,
	}
}
