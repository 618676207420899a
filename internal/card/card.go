// Package card encodes and decodes structured payloads carried inside a
// message's plain-text body. Two card kinds exist: a job posting summary
// and a job application with a decision status. The reserved-prefix scheme
// keeps the wire format compatible with servers that only know a text body;
// decoding is best-effort and never returns an error into the rendering
// path.
package card

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved body prefixes. Unknown prefixes decode to "not a card".
const (
	jobCardPrefix     = "::jobcard::"
	applicationPrefix = "::application::"
)

// Version is the only payload version this codec understands.
const Version = 1

// Kind identifies which card variant, if any, a message body carries.
type Kind int

const (
	KindNone Kind = iota
	KindJobCard
	KindApplication
)

// Status is a job application's decision state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusAccepted || s == StatusRejected
}

// CanTransition reports whether a decision moving s to next is allowed.
// Only pending applications can be decided; accepted and rejected are
// terminal.
func (s Status) CanTransition(next Status) bool {
	if s != StatusPending {
		return false
	}
	return next == StatusAccepted || next == StatusRejected
}

// JobCard is a job posting summary embedded in a conversation. Immutable
// once sent.
type JobCard struct {
	Version     int    `json:"v"`
	Title       string `json:"title"`
	Location    string `json:"location"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	Trade       string `json:"trade"`
	BudgetRange string `json:"budget_range"`
}

// Application is a job application embedded in a conversation. The message
// carrying it is immutable; a decision is modeled as a later message with
// an updated copy, not a mutation.
type Application struct {
	Version      int    `json:"v"`
	ID           string `json:"id"`
	JobPostingID string `json:"job_posting_id"`
	Title        string `json:"title"`
	Note         string `json:"note"`
	Status       Status `json:"status"`
}

// Detect reports which card kind, if any, a message body carries. It only
// inspects the prefix; a malformed payload behind a known prefix still
// decodes to nil.
func Detect(body string) Kind {
	switch {
	case strings.HasPrefix(body, jobCardPrefix):
		return KindJobCard
	case strings.HasPrefix(body, applicationPrefix):
		return KindApplication
	default:
		return KindNone
	}
}

// EncodeJobCard serializes a job card into a message body. The version
// field is stamped by the codec.
func EncodeJobCard(c JobCard) string {
	c.Version = Version
	data, _ := json.Marshal(c)
	return jobCardPrefix + string(data)
}

// DecodeJobCard extracts a job card from a message body. Returns nil if
// the prefix is absent, the JSON is malformed, or the version is unknown.
func DecodeJobCard(body string) *JobCard {
	payload, ok := strings.CutPrefix(body, jobCardPrefix)
	if !ok {
		return nil
	}
	var c JobCard
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil
	}
	if c.Version != Version {
		return nil
	}
	return &c
}

// EncodeApplication serializes an application into a message body.
func EncodeApplication(a Application) string {
	a.Version = Version
	if a.Status == "" {
		a.Status = StatusPending
	}
	data, _ := json.Marshal(a)
	return applicationPrefix + string(data)
}

// DecodeApplication extracts an application from a message body. Returns
// nil for a missing prefix, malformed JSON, unknown version, or an
// unrecognized status.
func DecodeApplication(body string) *Application {
	payload, ok := strings.CutPrefix(body, applicationPrefix)
	if !ok {
		return nil
	}
	var a Application
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil
	}
	if a.Version != Version || !a.Status.Valid() {
		return nil
	}
	return &a
}

// EncodeApplicationUpdate produces the message body for a decision on an
// application: a fresh copy of the card with the new status. The server is
// the authority on decisions; this only refuses transitions that are
// locally known to be invalid.
func EncodeApplicationUpdate(a Application, next Status) (string, error) {
	if !next.Valid() {
		return "", fmt.Errorf("card: unknown status %q", next)
	}
	if !a.Status.CanTransition(next) {
		return "", fmt.Errorf("card: application %s is %s, cannot transition to %s", a.ID, a.Status, next)
	}
	a.Status = next
	return EncodeApplication(a), nil
}
