package audit

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Level is the zerolog level used for audit entries. It sits above the
	// standard levels so that audit entries are written regardless of the
	// configured log level.
	Level     = zerolog.Level(20)
	LevelName = "audit"

	// RequestIDHeader carries the request ID back to the caller.
	RequestIDHeader = "X-Request-Id"
)

type key struct{}

var logKey = key{}

// Entry is the audit record for a single request. Handlers and the services
// they call fill in fields as the request progresses; the entry is written
// once, when the request completes.
type Entry struct {
	RequestID string
	Method    string
	Path      string
	Status    int
	SourceIP  string
	UserAgent string

	Authorized     bool
	AuthSubject    string
	AuthRole       string
	AuthIssuer     string
	AuthAudience   []string
	AuthExpirySecs int64

	Destination string
	Stage       string
	Attempts    int
	StopCount   int
	FailureKind string

	GraphOperation string
	SiteID         string
	DriveID        string
	ListID         string

	Error string
}

func (e *Entry) MarshalZerologObject(event *zerolog.Event) {
	request := zerolog.Dict().
		Str("id", e.RequestID).
		Str("method", e.Method).
		Str("path", e.Path).
		Int("status", e.Status).
		Str("sourceIP", e.SourceIP).
		Str("userAgent", e.UserAgent)
	event.Dict("request", request)

	newSection().
		Bool("authorized", e.Authorized).
		Str("subject", e.AuthSubject).
		Str("role", e.AuthRole).
		Str("issuer", e.AuthIssuer).
		Strs("audience", e.AuthAudience).
		Expiry("expiry", e.AuthExpirySecs).
		WriteTo(event, "authorization")

	newSection().
		Str("destination", e.Destination).
		Str("stage", e.Stage).
		Int("attempts", e.Attempts).
		Int("stops", e.StopCount).
		Str("failureKind", e.FailureKind).
		WriteTo(event, "itinerary")

	newSection().
		Str("operation", e.GraphOperation).
		Str("siteID", e.SiteID).
		Str("driveID", e.DriveID).
		Str("listID", e.ListID).
		WriteTo(event, "graph")

	if e.Error != "" {
		event.Str("error", e.Error)
	}
}

// Begin records the request attributes on the entry.
func (e *Entry) Begin(r *http.Request) {
	e.Method = r.Method
	e.Path = r.URL.Path
	e.UserAgent = r.UserAgent()
	e.SourceIP = sourceIP(r)
}

// End returns a function, intended to be deferred, that writes the entry. If
// called during a panic, the panic is recorded on the entry and re-raised
// after the entry is written.
func (e *Entry) End(ctx context.Context) func() {
	return func() {
		if r := recover(); r != nil {
			if e.Error != "" {
				e.Error += "; "
			}
			e.Error += fmt.Sprintf("panic: %v", r)
			defer panic(r)
		}

		if e.Status == 0 {
			e.Status = http.StatusOK
		}

		log.Ctx(ctx).WithLevel(Level).EmbedObject(e).Msg(LevelName)
	}
}

// Middleware attaches a fresh Entry to each request context and writes it
// when the request completes, including when the handler panics.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, entry := Context(r.Context())

			entry.RequestID = r.Header.Get(RequestIDHeader)
			if entry.RequestID == "" {
				entry.RequestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, entry.RequestID)

			defer entry.End(ctx)()
			entry.Begin(r)

			recorder := &statusRecorder{ResponseWriter: w, entry: entry}
			next.ServeHTTP(recorder, r.WithContext(ctx))
		})
	}
}

// Context returns the audit entry for ctx, creating and attaching one if
// absent.
func Context(ctx context.Context) (context.Context, *Entry) {
	if entry, ok := ctx.Value(logKey).(*Entry); ok {
		return ctx, entry
	}

	entry := &Entry{}
	return context.WithValue(ctx, logKey, entry), entry
}

// Log returns the audit entry for ctx. Outside the middleware it returns a
// detached entry that is never written.
func Log(ctx context.Context) *Entry {
	_, entry := Context(ctx)
	return entry
}

func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	entry *Entry
}

func (s *statusRecorder) WriteHeader(statusCode int) {
	s.entry.Status = statusCode
	s.ResponseWriter.WriteHeader(statusCode)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
