// Package history keeps a bounded, newest-first log of upload outcomes with
// running success and failure counts.
package history

import (
	"fmt"
	"sync"
	"time"

	"camera2url/internal/api"
)

// MaxRecords is the default window size.
const MaxRecords = 100

// Origin tells whether a capture was triggered by hand or by the timer.
type Origin string

const (
	OriginNone   Origin = ""
	OriginManual Origin = "manual"
	OriginTimer  Origin = "timer"
)

// Label returns the capitalized display name ("Manual", "Timer").
func (o Origin) Label() string {
	switch o {
	case OriginManual:
		return "Manual"
	case OriginTimer:
		return "Timer"
	default:
		return "Unknown"
	}
}

// ParseOrigin maps the stored string form back to an Origin.
func ParseOrigin(s string) (Origin, error) {
	switch Origin(s) {
	case OriginManual, OriginTimer:
		return Origin(s), nil
	default:
		return OriginNone, fmt.Errorf("unknown capture origin %q", s)
	}
}

// Record is a single upload attempt. Exactly one of StatusCode and
// ErrorMessage is set.
type Record struct {
	CaptureNumber   int       `json:"capture_number" yaml:"capture_number"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
	Success         bool      `json:"success" yaml:"success"`
	StatusCode      *int      `json:"status_code,omitempty" yaml:"status_code,omitempty"`
	ErrorMessage    *string   `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	RequestSummary  string    `json:"request_summary" yaml:"request_summary"`
	ResponseSummary *string   `json:"response_summary,omitempty" yaml:"response_summary,omitempty"`
	Origin          Origin    `json:"origin" yaml:"origin"`
}

// SuccessRecord builds the record for a successful exchange.
func SuccessRecord(captureNumber int, at time.Time, exchange api.UploadExchange, origin Origin) Record {
	code := exchange.StatusCode
	response := exchange.ResponseSummary
	return Record{
		CaptureNumber:   captureNumber,
		Timestamp:       at,
		Success:         true,
		StatusCode:      &code,
		RequestSummary:  exchange.RequestSummary,
		ResponseSummary: &response,
		Origin:          origin,
	}
}

// FailureRecord builds the record for a failed attempt.
func FailureRecord(captureNumber int, at time.Time, report *api.UploadErrorReport, origin Origin) Record {
	message := report.Message
	return Record{
		CaptureNumber:   captureNumber,
		Timestamp:       at,
		Success:         false,
		ErrorMessage:    &message,
		RequestSummary:  report.RequestSummary,
		ResponseSummary: report.ResponseSummary,
		Origin:          origin,
	}
}

// DisplayStatus is the short status shown in listings.
func (r Record) DisplayStatus() string {
	if r.Success {
		code := 0
		if r.StatusCode != nil {
			code = *r.StatusCode
		}
		return fmt.Sprintf("✓ Success (%d)", code)
	}
	return "✗ Failed"
}

// Valid reports whether the status-code/error-message invariant holds.
func (r Record) Valid() bool {
	return (r.StatusCode != nil) != (r.ErrorMessage != nil)
}

// Store is the bounded outcome window. It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	capacity int
	records  []Record
	success  int
	failure  int
}

// NewStore creates a store holding at most capacity records.
// A non-positive capacity selects MaxRecords.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = MaxRecords
	}
	return &Store{capacity: capacity}
}

// Append inserts r at the front, evicting the oldest record on overflow.
func (s *Store) Append(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, Record{})
	copy(s.records[1:], s.records)
	s.records[0] = r
	s.count(r, 1)

	for len(s.records) > s.capacity {
		evicted := s.records[len(s.records)-1]
		s.records = s.records[:len(s.records)-1]
		s.count(evicted, -1)
	}
}

func (s *Store) count(r Record, delta int) {
	if r.Success {
		s.success += delta
	} else {
		s.failure += delta
	}
}

// AddSuccess appends a success record stamped with the current time.
func (s *Store) AddSuccess(captureNumber int, exchange api.UploadExchange, origin Origin) Record {
	r := SuccessRecord(captureNumber, time.Now(), exchange, origin)
	s.Append(r)
	return r
}

// AddFailure appends a failure record stamped with the current time.
func (s *Store) AddFailure(captureNumber int, report *api.UploadErrorReport, origin Origin) Record {
	r := FailureRecord(captureNumber, time.Now(), report, origin)
	s.Append(r)
	return r
}

// Clear drops every record and zeroes the counters.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.success = 0
	s.failure = 0
}

// Records returns a copy of the window, newest first.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Last returns the newest record.
func (s *Store) Last() (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.records) == 0 {
		return Record{}, false
	}
	return s.records[0], true
}

// Counts returns the success and failure counts of the current window.
func (s *Store) Counts() (success, failure int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.success, s.failure
}

// Len returns the number of records in the window.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capacity returns the maximum window size.
func (s *Store) Capacity() int {
	return s.capacity
}
