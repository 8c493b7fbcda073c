package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrNotNumber  = errors.New("not a number")
	ErrOutOfRange = errors.New("out of range")
)

// FloatValue coerces a JSON number or numeric string to a finite float64.
func FloatValue(raw json.RawMessage) (float64, error) {
	s, err := numericText(raw)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if errors.Is(err, strconv.ErrRange) {
			return 0, ErrOutOfRange
		}
		return 0, ErrNotNumber
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, ErrNotNumber
	}
	return f, nil
}

// IntValue coerces a JSON number or numeric string to an int. Fractional numbers are truncated
// toward zero; values outside the int range are rejected rather than wrapped.
func IntValue(raw json.RawMessage) (int, error) {
	s, err := numericText(raw)
	if err != nil {
		return 0, err
	}
	if n, err := strconv.ParseInt(s, 10, 0); err == nil {
		return int(n), nil
	} else if errors.Is(err, strconv.ErrRange) {
		return 0, ErrOutOfRange
	}
	f, err := FloatValue(raw)
	if err != nil {
		return 0, err
	}
	f = math.Trunc(f)
	if f < math.MinInt || f >= -float64(math.MinInt) {
		return 0, ErrOutOfRange
	}
	return int(f), nil
}

func numericText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", ErrNotNumber
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", ErrNotNumber
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return "", ErrNotNumber
		}
		return s, nil
	}
	if raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9') {
		return string(raw), nil
	}
	return "", ErrNotNumber
}

// entryFields is Entry without its JSON methods.
type entryFields Entry

// UnmarshalJSON decodes an entry leniently. Text fields take any scalar as text and numeric
// fields accept numeric strings. Values that still do not fit, and unknown keys, are kept
// verbatim in Extra.
func (e *Entry) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = Entry{}
	keep := func(k string, v json.RawMessage) {
		if e.Extra == nil {
			e.Extra = map[string]json.RawMessage{}
		}
		e.Extra[k] = v
	}
	for k, v := range raw {
		if isNull(v) {
			continue
		}
		var err error
		switch k {
		case "project":
			e.Project = looseString(v)
		case "idea":
			e.Idea = looseString(v)
		case "mode":
			e.Mode = Mode(looseString(v))
		case "output":
			e.Output = looseString(v)
		case "favorite":
			err = json.Unmarshal(v, &e.Favorite)
		case "tags":
			var tags []string
			if err = json.Unmarshal(v, &tags); err == nil {
				e.Tags = tags
			}
		case "temperature":
			var f float64
			if f, err = FloatValue(v); err == nil {
				e.Temperature = &f
			}
		case "max_tokens":
			var n int
			if n, err = IntValue(v); err == nil {
				e.MaxTokens = &n
			}
		default:
			keep(k, v)
		}
		if err != nil {
			keep(k, v)
		}
	}
	return nil
}

// MarshalJSON writes the known fields in declaration order followed by the Extra keys, sorted.
// A known field that is set wins over an Extra value under the same key. HTML characters are
// left unescaped.
func (e Entry) MarshalJSON() ([]byte, error) {
	b, err := marshalUnescaped(entryFields(e))
	if err != nil || len(e.Extra) == 0 {
		return b, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(b, &known); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		if _, ok := known[k]; !ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return b, nil
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(b[:len(b)-1])
	for i, k := range keys {
		if i > 0 || len(known) > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalUnescaped(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(bytes.TrimSpace(e.Extra[k]))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalUnescaped(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// looseString returns a JSON string's value, or the raw JSON text of any other value.
func looseString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(bytes.TrimSpace(v))
	}
	return buf.String()
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
