package itinerary

import (
	"encoding/json"
	"strings"

	"github.com/wayfarer/wayfarer/internal/failure"
)

var controlWhitespace = strings.NewReplacer("\r", "", "\n", "", "\t", "")

// wireDocument distinguishes absent fields from empty ones.
type wireDocument struct {
	Destination   *string `json:"destination"`
	Stops         *[]Stop `json:"stops"`
	TotalDistance *string `json:"totalDistance"`
	TotalTime     *string `json:"totalTime"`
}

// Extract locates the JSON object in a model reply and decodes it. Text
// outside the outermost braces is ignored, and raw line breaks, tabs and
// trailing commas are repaired before decoding.
//
// A reply with no braces fails with failure.KindExtraction. A candidate that
// does not decode, or lacks destination, stops, totalDistance or totalTime,
// fails with failure.KindParse; the error's Candidate holds the normalized text.
func Extract(raw string) (Document, error) {
	candidate, err := locate(raw)
	if err != nil {
		return Document{}, err
	}

	candidate = Normalize(candidate)

	var wire wireDocument
	if err := json.Unmarshal([]byte(candidate), &wire); err != nil {
		return Document{}, parseFailure(candidate, "candidate is not valid itinerary JSON", err)
	}

	var missing []string
	if wire.Destination == nil {
		missing = append(missing, "destination")
	}
	if wire.Stops == nil {
		missing = append(missing, "stops")
	}
	if wire.TotalDistance == nil {
		missing = append(missing, "totalDistance")
	}
	if wire.TotalTime == nil {
		missing = append(missing, "totalTime")
	}
	if len(missing) > 0 {
		return Document{}, parseFailure(candidate, "missing required fields: "+strings.Join(missing, ", "), nil)
	}

	return Document{
		Destination:   *wire.Destination,
		Stops:         *wire.Stops,
		TotalDistance: *wire.TotalDistance,
		TotalTime:     *wire.TotalTime,
	}, nil
}

func locate(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || end < start {
		return "", failure.New(failure.KindExtraction, "extract", "no JSON object found in model reply")
	}
	return raw[start : end+1], nil
}

// Normalize strips carriage returns, newlines and tabs, then removes commas
// that precede a closing brace or bracket along with the spaces between
// them. Commas inside string literals are left alone.
func Normalize(candidate string) string {
	return dropTrailingCommas(controlWhitespace.Replace(candidate))
}

func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
		case c == '"':
			inString = true
		case c == ',':
			if j, ok := closerAfter(s, i+1); ok {
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closerAfter returns the index of the first non-space byte at or after i
// when that byte closes an object or array.
func closerAfter(s string, i int) (int, bool) {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ':
			continue
		case '}', ']':
			return i, true
		default:
			return 0, false
		}
	}
	return 0, false
}

func parseFailure(candidate, detail string, err error) error {
	return &failure.Error{
		Kind:      failure.KindParse,
		Op:        "extract",
		Detail:    detail,
		Candidate: candidate,
		Err:       err,
	}
}
