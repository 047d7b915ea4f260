package fusion

import (
	"encoding/json"
	"math"
	"strconv"
)

// Envelope gives read access to a decoded provider payload. Every accessor
// tolerates missing keys and wrong types by returning the zero value.
type Envelope struct {
	data map[string]any
}

func NewEnvelope(data map[string]any) Envelope {
	return Envelope{data: data}
}

func (e Envelope) Raw() map[string]any {
	return e.data
}

func (e Envelope) Empty() bool {
	return len(e.data) == 0
}

// Path walks nested objects and reports whether the final key exists
func (e Envelope) Path(keys ...string) (any, bool) {
	var cur any = e.data
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func (e Envelope) Has(keys ...string) bool {
	v, ok := e.Path(keys...)
	return ok && v != nil
}

func (e Envelope) Map(keys ...string) Envelope {
	v, _ := e.Path(keys...)
	m, _ := v.(map[string]any)
	return Envelope{data: m}
}

func (e Envelope) Slice(keys ...string) []any {
	v, _ := e.Path(keys...)
	s, _ := v.([]any)
	return s
}

func (e Envelope) String(keys ...string) string {
	v, _ := e.Path(keys...)
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case json.Number:
		return s.String()
	}
	return ""
}

func (e Envelope) Float(keys ...string) float64 {
	v, _ := e.Path(keys...)
	f, _ := toFloat(v)
	return f
}

// FloatOK distinguishes a missing or non-numeric value from zero
func (e Envelope) FloatOK(keys ...string) (float64, bool) {
	v, _ := e.Path(keys...)
	return toFloat(v)
}

func (e Envelope) Int(keys ...string) int64 {
	return int64(e.Float(keys...))
}

func (e Envelope) Bool(keys ...string) bool {
	v, _ := e.Path(keys...)
	b, _ := v.(bool)
	return b
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
