package validate

import (
	"encoding/json"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		opts    StringOptions
		valid   bool
		want    any
		errPart string
	}{
		{name: "trimmed", value: "  hello ", opts: StringOptions{Trim: true}, valid: true, want: "hello"},
		{name: "required nil", value: nil, opts: StringOptions{Required: true}, errPart: "is required"},
		{name: "required blank", value: "   ", opts: StringOptions{Required: true, Trim: true}, errPart: "is required"},
		{name: "optional nil", value: nil, valid: true, want: ""},
		{name: "wrong type", value: 42, errPart: "must be a string"},
		{name: "too short", value: "ab", opts: StringOptions{MinLength: 3}, errPart: "at least 3"},
		{name: "too long", value: "abcd", opts: StringOptions{MaxLength: 3}, errPart: "at most 3"},
		{name: "runes not bytes", value: "жжж", opts: StringOptions{MaxLength: 3}, valid: true, want: "жжж"},
		{name: "pattern", value: "ABC", opts: StringOptions{Pattern: regexp.MustCompile(`^[a-z]+$`), PatternHint: "lowercase"}, errPart: "expected lowercase"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := String("field", tt.value, tt.opts)
			assert.Equal(t, tt.valid, r.Valid)
			if tt.valid {
				assert.Equal(t, tt.want, r.Value)
				assert.Empty(t, r.Errors)
				return
			}
			require.NotEmpty(t, r.Errors)
			assert.Contains(t, strings.Join(r.Errors, "; "), tt.errPart)
			assert.Nil(t, r.Value)
		})
	}
}

func TestString_ReportsAllErrors(t *testing.T) {
	r := String("name", "A", StringOptions{MinLength: 2, Pattern: regexp.MustCompile(`^[a-z]+$`)})
	assert.False(t, r.Valid)
	assert.Len(t, r.Errors, 2)
}

func TestNumber(t *testing.T) {
	r := Number("n", "12.5", NumberOptions{})
	require.True(t, r.Valid)
	assert.Equal(t, 12.5, r.Value)

	r = Number("n", json.Number("7"), NumberOptions{Integer: true, Min: Float(1), Max: Float(10)})
	require.True(t, r.Valid)
	assert.Equal(t, 7.0, r.Value)

	assert.False(t, Number("n", 1.5, NumberOptions{Integer: true}).Valid)
	assert.False(t, Number("n", 0, NumberOptions{Positive: true}).Valid)
	assert.False(t, Number("n", 11, NumberOptions{Max: Float(10)}).Valid)
	assert.False(t, Number("n", "abc", NumberOptions{}).Valid)
	assert.False(t, Number("n", true, NumberOptions{}).Valid)
	assert.False(t, Number("n", nil, NumberOptions{Required: true}).Valid)
	assert.False(t, Number("n", "NaN", NumberOptions{}).Valid)
}

func TestBool(t *testing.T) {
	for _, in := range []any{true, "true", "YES", "1", "on", 1} {
		r := Bool("b", in)
		assert.True(t, r.Valid, "%v", in)
		assert.Equal(t, true, r.Value, "%v", in)
	}
	for _, in := range []any{false, "false", "no", "0", "off", 0.0} {
		r := Bool("b", in)
		assert.True(t, r.Valid, "%v", in)
		assert.Equal(t, false, r.Value, "%v", in)
	}
	assert.False(t, Bool("b", "maybe").Valid)
	assert.False(t, Bool("b", 2).Valid)
}

func TestArray(t *testing.T) {
	r := Array("labels", []any{" bug ", "ui"}, ArrayOptions{
		MaxItems: 3,
		Item: func(field string, v any) Result {
			return String(field, v, StringOptions{Required: true, Trim: true})
		},
	})
	require.True(t, r.Valid)
	assert.Equal(t, []any{"bug", "ui"}, r.Value)

	r = Array("labels", []string{"a", ""}, ArrayOptions{
		Item: func(field string, v any) Result {
			return String(field, v, StringOptions{Required: true})
		},
	})
	assert.False(t, r.Valid)
	assert.Equal(t, []string{"labels[1] is required"}, r.Errors)

	assert.False(t, Array("a", "not-array", ArrayOptions{}).Valid)
	assert.False(t, Array("a", []any{}, ArrayOptions{MinItems: 1}).Valid)
	assert.False(t, Array("a", []any{1, 2}, ArrayOptions{MaxItems: 1}).Valid)
}

func TestRequiredKeys(t *testing.T) {
	obj := map[string]any{"action": "opened", "sender": nil}
	r := RequiredKeys("payload", obj, "action", "sender", "repository")
	assert.False(t, r.Valid)
	assert.Equal(t, []string{"payload.sender is required", "payload.repository is required"}, r.Errors)

	assert.True(t, RequiredKeys("payload", obj, "action").Valid)
	assert.False(t, RequiredKeys("payload", nil, "action").Valid)
}

func TestFormats(t *testing.T) {
	assert.True(t, Email("email", "Dev@Example.com").Valid)
	assert.Equal(t, "dev@example.com", Email("email", "Dev@Example.com").Value)
	assert.False(t, Email("email", "Dev <dev@example.com>").Valid)
	assert.False(t, Email("email", "dev@localhost").Valid)

	assert.True(t, URL("url", "https://api.github.com/repos").Valid)
	assert.False(t, URL("url", "ftp://example.com").Valid)
	assert.False(t, URL("url", "/relative").Valid)

	r := UUID("id", "6F9619FF-8B86-D011-B42D-00C04FC964FF")
	require.True(t, r.Valid)
	assert.Equal(t, "6f9619ff-8b86-d011-b42d-00c04fc964ff", r.Value)
	assert.False(t, UUID("id", "not-a-uuid").Valid)

	d := Date("d", "2024-03-01")
	require.True(t, d.Valid)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d.Value)
	assert.True(t, Date("d", "2024-03-01T10:00:00Z").Valid)
	assert.False(t, Date("d", "01/03/2024").Valid)

	assert.True(t, Enum("e", "b", "a", "b").Valid)
	assert.False(t, Enum("e", "B", "a", "b").Valid)

	assert.True(t, Pattern("p", "abc", regexp.MustCompile(`^abc$`), "abc").Valid)
}

func TestMerge(t *testing.T) {
	r := Merge(ok("a"), fail("x bad"), fail("y bad"))
	assert.False(t, r.Valid)
	assert.Equal(t, []string{"x bad", "y bad"}, r.Errors)
	assert.Nil(t, r.Value)

	assert.True(t, Merge(ok("a"), ok("b")).Valid)
}
