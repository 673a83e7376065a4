package audit

import (
	"time"

	"github.com/rs/zerolog"
)

// section collects the fields of one nested dictionary in an entry. Empty
// values are skipped, and a section with no fields is left out of the entry
// entirely.
type section struct {
	dict  *zerolog.Event
	empty bool
}

func newSection() *section {
	return &section{dict: zerolog.Dict(), empty: true}
}

func (s *section) Str(key, val string) *section {
	if val != "" {
		s.dict.Str(key, val)
		s.empty = false
	}
	return s
}

func (s *section) Strs(key string, vals []string) *section {
	if len(vals) > 0 {
		s.dict.Strs(key, vals)
		s.empty = false
	}
	return s
}

func (s *section) Int(key string, val int) *section {
	if val != 0 {
		s.dict.Int(key, val)
		s.empty = false
	}
	return s
}

// Bool is always written; false is meaningful.
func (s *section) Bool(key string, val bool) *section {
	s.dict.Bool(key, val)
	s.empty = false
	return s
}

// Expiry writes an absolute expiry and the time remaining until it.
func (s *section) Expiry(key string, unixSecs int64) *section {
	if unixSecs > 0 {
		exp := time.Unix(unixSecs, 0)
		s.dict.Time(key, exp).Dur(key+"Remaining", time.Until(exp).Round(time.Second))
		s.empty = false
	}
	return s
}

// WriteTo adds the section to parent under key, unless it is empty.
func (s *section) WriteTo(parent *zerolog.Event, key string) {
	if !s.empty {
		parent.Dict(key, s.dict)
	}
}
