// Package failure defines the closed set of error kinds surfaced by the
// itinerary pipeline and its collaborators. Callers branch on Kind rather than
// on message text.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure. The zero value is KindUnknown.
type Kind int

const (
	KindUnknown Kind = iota
	// KindInvalidInput is a caller error; never retried.
	KindInvalidInput
	// KindAuth is a failed credential exchange.
	KindAuth
	// KindTransient covers network failures, timeouts, 5xx and 429 responses.
	KindTransient
	// KindPermanent covers 4xx responses (other than 429) and malformed requests.
	KindPermanent
	// KindNotFound is a permanent failure where the upstream reported a missing resource.
	KindNotFound
	// KindExtraction means no JSON object could be located in a model reply.
	KindExtraction
	// KindParse means a located JSON object did not match the expected shape.
	KindParse
)

var kindNames = map[Kind]string{
	KindUnknown:      "unknown",
	KindInvalidInput: "invalid_input",
	KindAuth:         "auth_failure",
	KindTransient:    "transient_call_failure",
	KindPermanent:    "permanent_call_failure",
	KindNotFound:     "not_found",
	KindExtraction:   "extraction_failure",
	KindParse:        "parse_failure",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the tagged error carried through the pipeline.
type Error struct {
	Kind Kind
	// Op names the stage or operation that failed, e.g. "generate" or "credential".
	Op     string
	Detail string
	// StatusCode is the upstream HTTP status, when one was received.
	StatusCode int
	// Attempts is the number of attempts made before the failure was surfaced.
	Attempts int
	// Candidate holds the normalized JSON text for parse failures.
	Candidate string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Status maps the failure kind to the HTTP status returned to API callers,
// along with a message that is safe to return to them.
func (e *Error) Status() (int, string) {
	switch e.Kind {
	case KindInvalidInput:
		if e.Detail == "" {
			return http.StatusBadRequest, http.StatusText(http.StatusBadRequest)
		}
		return http.StatusBadRequest, e.Detail
	case KindNotFound:
		return http.StatusNotFound, "resource not found"
	case KindAuth:
		return http.StatusBadGateway, "upstream authentication failed"
	case KindTransient:
		return http.StatusBadGateway, "upstream service unavailable"
	case KindPermanent:
		return http.StatusBadGateway, "upstream service rejected the request"
	case KindExtraction, KindParse:
		return http.StatusInternalServerError, "error processing AI response"
	default:
		return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
	}
}

// New creates a failure of the given kind with a formatted detail message.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Op:     op,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Wrap tags err with the given kind. A nil err returns nil.
func Wrap(kind Kind, op string, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:   kind,
		Op:     op,
		Detail: detail,
		Err:    err,
	}
}

// ForStatus classifies an upstream HTTP status code: 429 and 5xx are
// transient, 404 is not-found, and all other non-2xx codes are permanent.
func ForStatus(op string, statusCode int, detail string) *Error {
	kind := KindPermanent
	switch {
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		kind = KindTransient
	case statusCode == http.StatusNotFound:
		kind = KindNotFound
	}

	return &Error{
		Kind:       kind,
		Op:         op,
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
