// Package validate содержит zero-trust примитивы проверки недоверенного ввода.
// Каждая проверка — чистая функция от значения и опций: ни одна не трогает общее состояние.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Result: итог проверки: валидность, человекочитаемые ошибки и санитизированное значение.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
	Value  any      `json:"value,omitempty"`
}

func ok(v any) Result { return Result{Valid: true, Value: v} }

func fail(format string, args ...any) Result {
	return Result{Errors: []string{fmt.Sprintf(format, args...)}}
}

// Merge объединяет несколько результатов; значение берется из последнего валидного.
func Merge(results ...Result) Result {
	out := Result{Valid: true}
	for _, r := range results {
		if !r.Valid {
			out.Valid = false
			out.Errors = append(out.Errors, r.Errors...)
			continue
		}
		out.Value = r.Value
	}
	if !out.Valid {
		out.Value = nil
	}
	return out
}

type StringOptions struct {
	Required  bool
	Trim      bool
	MinLength int
	MaxLength int // 0 — без ограничения
	Pattern   *regexp.Regexp
	// PatternHint попадает в текст ошибки вместо самого регулярного выражения.
	PatternHint string
}

// String проверяет строку: тип, длину (в рунах), шаблон.
func String(field string, v any, opts StringOptions) Result {
	if v == nil {
		if opts.Required {
			return fail("%s is required", field)
		}
		return ok("")
	}
	s, isStr := v.(string)
	if !isStr {
		return fail("%s must be a string", field)
	}
	if opts.Trim {
		s = strings.TrimSpace(s)
	}
	if s == "" {
		if opts.Required {
			return fail("%s is required", field)
		}
		return ok("")
	}

	var errs []string
	n := len([]rune(s))
	if opts.MinLength > 0 && n < opts.MinLength {
		errs = append(errs, fmt.Sprintf("%s must be at least %d characters", field, opts.MinLength))
	}
	if opts.MaxLength > 0 && n > opts.MaxLength {
		errs = append(errs, fmt.Sprintf("%s must be at most %d characters", field, opts.MaxLength))
	}
	if opts.Pattern != nil && !opts.Pattern.MatchString(s) {
		hint := opts.PatternHint
		if hint == "" {
			hint = opts.Pattern.String()
		}
		errs = append(errs, fmt.Sprintf("%s has invalid format (expected %s)", field, hint))
	}
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return ok(s)
}

// Pattern: сокращение для String с обязательным шаблоном.
func Pattern(field string, v any, re *regexp.Regexp, hint string) Result {
	return String(field, v, StringOptions{Required: true, Trim: true, Pattern: re, PatternHint: hint})
}

type NumberOptions struct {
	Required bool
	Min      *float64
	Max      *float64
	Integer  bool
	Positive bool
}

// Float: помощник для NumberOptions.Min/Max.
func Float(f float64) *float64 { return &f }

// Number принимает числовые типы, json.Number и числовые строки.
func Number(field string, v any, opts NumberOptions) Result {
	if v == nil {
		if opts.Required {
			return fail("%s is required", field)
		}
		return ok(0.0)
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return fail("%s must be a number", field)
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return fail("%s must be a number", field)
		}
		f = parsed
	default:
		return fail("%s must be a number", field)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fail("%s must be a finite number", field)
	}

	var errs []string
	if opts.Integer && f != math.Trunc(f) {
		errs = append(errs, fmt.Sprintf("%s must be an integer", field))
	}
	if opts.Positive && f <= 0 {
		errs = append(errs, fmt.Sprintf("%s must be positive", field))
	}
	if opts.Min != nil && f < *opts.Min {
		errs = append(errs, fmt.Sprintf("%s must be >= %v", field, *opts.Min))
	}
	if opts.Max != nil && f > *opts.Max {
		errs = append(errs, fmt.Sprintf("%s must be <= %v", field, *opts.Max))
	}
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return ok(f)
}

// Bool приводит строковые формы ("true", "1", "yes", "on" ...) к bool.
func Bool(field string, v any) Result {
	switch b := v.(type) {
	case bool:
		return ok(b)
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "on":
			return ok(true)
		case "false", "0", "no", "off":
			return ok(false)
		}
	case float64:
		if b == 0 || b == 1 {
			return ok(b == 1)
		}
	case int:
		if b == 0 || b == 1 {
			return ok(b == 1)
		}
	}
	return fail("%s must be a boolean", field)
}

type ArrayOptions struct {
	Required bool
	MinItems int
	MaxItems int // 0 — без ограничения
	// Item проверяет каждый элемент; санитизированные значения собираются в Result.Value.
	Item func(field string, v any) Result
}

// Array проверяет длину массива и каждый элемент.
func Array(field string, v any, opts ArrayOptions) Result {
	var items []any
	switch a := v.(type) {
	case nil:
		if opts.Required {
			return fail("%s is required", field)
		}
		return ok([]any{})
	case []any:
		items = a
	case []string:
		items = make([]any, len(a))
		for i, s := range a {
			items[i] = s
		}
	default:
		return fail("%s must be an array", field)
	}

	var errs []string
	if opts.MinItems > 0 && len(items) < opts.MinItems {
		errs = append(errs, fmt.Sprintf("%s must contain at least %d items", field, opts.MinItems))
	}
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		errs = append(errs, fmt.Sprintf("%s must contain at most %d items", field, opts.MaxItems))
	}

	clean := make([]any, 0, len(items))
	if opts.Item != nil {
		for i, it := range items {
			r := opts.Item(fmt.Sprintf("%s[%d]", field, i), it)
			if !r.Valid {
				errs = append(errs, r.Errors...)
				continue
			}
			clean = append(clean, r.Value)
		}
	} else {
		clean = append(clean, items...)
	}

	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return ok(clean)
}

// RequiredKeys проверяет наличие обязательных ключей объекта. Сообщает обо всех пропусках сразу.
func RequiredKeys(field string, obj map[string]any, keys ...string) Result {
	if obj == nil {
		return fail("%s must be an object", field)
	}
	var errs []string
	for _, k := range keys {
		if v, present := obj[k]; !present || v == nil {
			errs = append(errs, fmt.Sprintf("%s.%s is required", field, k))
		}
	}
	if len(errs) > 0 {
		return Result{Errors: errs}
	}
	return ok(obj)
}

// Email проверяет адрес без display name.
func Email(field string, v any) Result {
	r := String(field, v, StringOptions{Required: true, Trim: true, MaxLength: 254})
	if !r.Valid {
		return r
	}
	s := r.Value.(string)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s || !strings.Contains(s[strings.LastIndex(s, "@")+1:], ".") {
		return fail("%s must be a valid email address", field)
	}
	return ok(strings.ToLower(s))
}

// URL принимает только абсолютные http(s) адреса.
func URL(field string, v any) Result {
	r := String(field, v, StringOptions{Required: true, Trim: true, MaxLength: 2048})
	if !r.Valid {
		return r
	}
	u, err := url.Parse(r.Value.(string))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fail("%s must be a valid http(s) URL", field)
	}
	return ok(u.String())
}

// UUID возвращает каноническое представление.
func UUID(field string, v any) Result {
	r := String(field, v, StringOptions{Required: true, Trim: true})
	if !r.Valid {
		return r
	}
	id, err := uuid.Parse(r.Value.(string))
	if err != nil {
		return fail("%s must be a valid UUID", field)
	}
	return ok(id.String())
}

// Date принимает RFC3339 или YYYY-MM-DD.
func Date(field string, v any) Result {
	r := String(field, v, StringOptions{Required: true, Trim: true})
	if !r.Valid {
		return r
	}
	s := r.Value.(string)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return ok(t)
		}
	}
	return fail("%s must be a valid date (RFC3339 or YYYY-MM-DD)", field)
}

// Enum проверяет вхождение в набор допустимых значений (с учетом регистра).
func Enum(field string, v any, allowed ...string) Result {
	r := String(field, v, StringOptions{Required: true, Trim: true})
	if !r.Valid {
		return r
	}
	s := r.Value.(string)
	for _, a := range allowed {
		if s == a {
			return ok(s)
		}
	}
	return fail("%s must be one of [%s]", field, strings.Join(allowed, ", "))
}
