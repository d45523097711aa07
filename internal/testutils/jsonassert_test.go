package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	failures []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.failures = append(r.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()

	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Assert(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		wantFail bool
	}{
		{
			name:     "identical",
			actual:   `{"state":"streaming","decode_errors":1}`,
			expected: `{"state":"streaming","decode_errors":1}`,
		},
		{
			name:     "extra keys ignored",
			actual:   `{"state":"idle","generation":4}`,
			expected: `{"state":"idle"}`,
		},
		{
			name:     "extra keys reported",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"state":"idle","generation":4}`,
			expected: `{"state":"idle"}`,
			wantFail: true,
		},
		{
			name:     "presence placeholder",
			actual:   `{"session":"0b7e6c1e","state":"connecting"}`,
			expected: `{"session":"<<PRESENCE>>","state":"connecting"}`,
		},
		{
			name:     "placeholder requires key",
			actual:   `{"state":"connecting"}`,
			expected: `{"session":"<<PRESENCE>>","state":"connecting"}`,
			wantFail: true,
		},
		{
			name:     "ignored fields in arrays",
			opts:     []Option{WithIgnoredFields("seq")},
			actual:   `[{"x":0,"y":0,"seq":7},{"x":1,"y":2.5,"seq":8}]`,
			expected: `[{"x":0,"y":0,"seq":0},{"x":1,"y":2.5,"seq":1}]`,
		},
		{
			name:     "value mismatch",
			actual:   `{"x":1}`,
			expected: `{"x":2}`,
			wantFail: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.wantFail {
				assert.NotEmpty(t, rec.failures, "comparison MUST fail")
			} else {
				assert.Empty(t, rec.failures, "comparison MUST pass")
			}
		})
	}
}

func TestJSONAsserter_AssertValue(t *testing.T) {
	rec := &recordingT{}
	NewJSONAsserter(rec).AssertValue(struct {
		Address string `json:"address"`
		RSSI    int    `json:"rssi"`
	}{"AA:01", -40}, `{"address":"AA:01","rssi":-40}`)
	assert.Empty(t, rec.failures)
}
