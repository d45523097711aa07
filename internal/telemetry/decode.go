// Package telemetry turns notification payloads into samples and keeps the
// streamed samples for presentation.
//
// The peripheral sends one "<x>,<y>" text pair per notification, with '.' as
// the decimal separator. Decode is strict: anything that is not exactly two
// base-10 numbers is rejected, nothing is defaulted.
package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Sample is one decoded (x, y) pair. Seq is assigned by Stream.Append.
type Sample struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Seq uint64  `json:"seq"`
}

func (s Sample) String() string {
	return fmt.Sprintf("#%d(%g,%g)", s.Seq, s.X, s.Y)
}

// DecodeErrorKind classifies decode failures
type DecodeErrorKind string

const (
	KindEncoding     DecodeErrorKind = "encoding"
	KindFieldCount   DecodeErrorKind = "field_count"
	KindNumberFormat DecodeErrorKind = "number_format"
)

// DecodeError reports why a payload was rejected. Field is the zero-based
// index of the offending field for KindNumberFormat, -1 otherwise.
type DecodeError struct {
	Kind   DecodeErrorKind
	Field  int
	Fields int
	Err    error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindEncoding:
		return "decode: payload is not valid UTF-8"
	case KindFieldCount:
		return fmt.Sprintf("decode: expected 2 comma-separated fields, got %d", e.Fields)
	case KindNumberFormat:
		if e.Err != nil {
			return fmt.Sprintf("decode: field %d is not a number: %v", e.Field, e.Err)
		}
		return fmt.Sprintf("decode: field %d is not a number", e.Field)
	default:
		return "decode: " + string(e.Kind)
	}
}

// Is allows errors.Is to compare DecodeError values by Kind
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var (
	ErrEncoding     = &DecodeError{Kind: KindEncoding, Field: -1}
	ErrFieldCount   = &DecodeError{Kind: KindFieldCount, Field: -1}
	ErrNumberFormat = &DecodeError{Kind: KindNumberFormat, Field: -1}
)

var errNotDecimal = errors.New("not a base-10 number")

// Decode parses a notification payload into a Sample with Seq 0.
// A single trailing line terminator ("\n", "\r" or "\r\n") and spaces around
// each field are accepted.
func Decode(payload []byte) (Sample, error) {
	if !utf8.Valid(payload) {
		return Sample{}, &DecodeError{Kind: KindEncoding, Field: -1}
	}

	text := string(payload)
	text = strings.TrimSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\r")

	fields := strings.Split(text, ",")
	if len(fields) != 2 {
		return Sample{}, &DecodeError{Kind: KindFieldCount, Field: -1, Fields: len(fields)}
	}

	var values [2]float64
	for i, field := range fields {
		v, err := parseDecimal(strings.Trim(field, " \t"))
		if err != nil {
			return Sample{}, &DecodeError{Kind: KindNumberFormat, Field: i, Fields: 2, Err: err}
		}
		values[i] = v
	}
	return Sample{X: values[0], Y: values[1]}, nil
}

// parseDecimal accepts what strconv.ParseFloat accepts minus hex floats,
// NaN, Inf and digit separators.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, errNotDecimal
	}
	digits := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits = true
		case c == '.' || c == '+' || c == '-' || c == 'e' || c == 'E':
		default:
			return 0, errNotDecimal
		}
	}
	if !digits {
		return 0, errNotDecimal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return 0, numErr.Err
		}
		return 0, err
	}
	return v, nil
}
