// Package phpserial decodes and encodes the PHP serialize() format WordPress
// uses for array valued options and meta.
//
// Decoded values are nil, bool, int64, float64, string, []any (arrays whose
// keys are 0..n-1 in order) and *Array (any other array, and objects).
// Arrays and objects encode back in their decoded key order, so an
// unmodified value round-trips byte for byte. Plain Go maps encode with
// sorted keys.
package phpserial

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// SyntaxError reports malformed input.
type SyntaxError struct {
	Offset int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("phpserial: %s at offset %d", e.Msg, e.Offset)
}

// Unmarshal decodes one serialized value. Trailing input is an error.
func Unmarshal(data string) (any, error) {
	d := &decoder{data: data}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	if d.pos != len(d.data) {
		return nil, d.errorf("unexpected trailing data")
	}
	return v, nil
}

// MaybeUnmarshal decodes data when it is a serialized value and returns it
// unchanged otherwise. The boolean reports whether decoding happened.
func MaybeUnmarshal(data string) (any, bool) {
	if !LooksSerialized(data) {
		return data, false
	}
	v, err := Unmarshal(data)
	if err != nil {
		return data, false
	}
	return v, true
}

// LooksSerialized is a cheap pre-check on the leading type marker.
func LooksSerialized(data string) bool {
	data = strings.TrimSpace(data)
	if data == "N;" {
		return true
	}
	if len(data) < 4 || data[1] != ':' {
		return false
	}
	switch data[0] {
	case 'a', 'O':
		return strings.HasSuffix(data, "}")
	case 's':
		return strings.HasSuffix(data, "\";")
	case 'b', 'i', 'd':
		return strings.HasSuffix(data, ";")
	}
	return false
}

type decoder struct {
	data string
	pos  int
}

func (d *decoder) errorf(format string, args ...any) error {
	return &SyntaxError{Offset: d.pos, Msg: fmt.Sprintf(format, args...)}
}

func (d *decoder) expect(s string) error {
	if !strings.HasPrefix(d.data[d.pos:], s) {
		return d.errorf("expected %q", s)
	}
	d.pos += len(s)
	return nil
}

// until returns the text before the next occurrence of stop and moves past it.
func (d *decoder) until(stop byte) (string, error) {
	i := strings.IndexByte(d.data[d.pos:], stop)
	if i < 0 {
		return "", d.errorf("missing %q", stop)
	}
	s := d.data[d.pos : d.pos+i]
	d.pos += i + 1
	return s, nil
}

func (d *decoder) value() (any, error) {
	if d.pos+1 >= len(d.data) {
		return nil, d.errorf("unexpected end of input")
	}
	kind := d.data[d.pos]
	if kind == 'N' {
		return nil, d.expect("N;")
	}
	d.pos++
	if err := d.expect(":"); err != nil {
		return nil, err
	}
	switch kind {
	case 'b':
		s, err := d.until(';')
		if err != nil {
			return nil, err
		}
		switch s {
		case "0":
			return false, nil
		case "1":
			return true, nil
		}
		return nil, d.errorf("invalid bool %q", s)
	case 'i':
		s, err := d.until(';')
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, d.errorf("invalid int %q", s)
		}
		return n, nil
	case 'd':
		s, err := d.until(';')
		if err != nil {
			return nil, err
		}
		switch s {
		case "INF":
			return math.Inf(1), nil
		case "-INF":
			return math.Inf(-1), nil
		case "NAN":
			return math.NaN(), nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, d.errorf("invalid float %q", s)
		}
		return f, nil
	case 's':
		s, err := d.str()
		if err != nil {
			return nil, err
		}
		return s, d.expect(";")
	case 'a':
		return d.array("")
	case 'O':
		class, err := d.str()
		if err != nil {
			return nil, err
		}
		if err := d.expect(":"); err != nil {
			return nil, err
		}
		if class == "" {
			return nil, d.errorf("empty class name")
		}
		return d.array(class)
	}
	return nil, d.errorf("unknown type %q", kind)
}

// str reads `<len>:"<bytes>"`.
func (d *decoder) str() (string, error) {
	lenText, err := d.until(':')
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(lenText)
	if err != nil || n < 0 {
		return "", d.errorf("invalid length %q", lenText)
	}
	if err := d.expect(`"`); err != nil {
		return "", err
	}
	if d.pos+n > len(d.data) {
		return "", d.errorf("string overruns input")
	}
	s := d.data[d.pos : d.pos+n]
	d.pos += n
	return s, d.expect(`"`)
}

// array reads `<count>:{<key><value>...}`. Plain arrays keyed 0..n-1 in
// order decode to []any; everything else to *Array.
func (d *decoder) array(class string) (any, error) {
	countText, err := d.until(':')
	if err != nil {
		return nil, err
	}
	count, err := strconv.Atoi(countText)
	if err != nil || count < 0 {
		return nil, d.errorf("invalid element count %q", countText)
	}
	if err := d.expect("{"); err != nil {
		return nil, err
	}

	arr := NewArray(class)
	sequential := class == ""
	for i := 0; i < count; i++ {
		k, err := d.value()
		if err != nil {
			return nil, err
		}
		var key string
		intKey := false
		switch kv := k.(type) {
		case int64:
			key = strconv.FormatInt(kv, 10)
			intKey = true
			if kv != int64(i) {
				sequential = false
			}
		case string:
			key = kv
			sequential = false
		default:
			return nil, d.errorf("invalid array key type %T", k)
		}
		v, err := d.value()
		if err != nil {
			return nil, err
		}
		arr.add(key, intKey, v)
	}
	if err := d.expect("}"); err != nil {
		return nil, err
	}

	if sequential {
		values := make([]any, len(arr.entries))
		for i, e := range arr.entries {
			values[i] = e.value
		}
		return values, nil
	}
	return arr, nil
}

// Marshal encodes v. Supported inputs are the decoded types plus the other
// Go integer kinds, float32, []string, map[string]any and map[string]string.
func Marshal(v any) (string, error) {
	var b strings.Builder
	if err := encode(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encode(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("N;")
	case bool:
		if x {
			b.WriteString("b:1;")
		} else {
			b.WriteString("b:0;")
		}
	case int:
		fmt.Fprintf(b, "i:%d;", x)
	case int64:
		fmt.Fprintf(b, "i:%d;", x)
	case int32:
		fmt.Fprintf(b, "i:%d;", x)
	case uint64:
		fmt.Fprintf(b, "i:%d;", x)
	case uint:
		fmt.Fprintf(b, "i:%d;", x)
	case float32:
		encodeFloat(b, float64(x))
	case float64:
		encodeFloat(b, x)
	case string:
		fmt.Fprintf(b, "s:%d:\"%s\";", len(x), x)
	case []string:
		list := make([]any, len(x))
		for i, s := range x {
			list[i] = s
		}
		return encode(b, list)
	case []any:
		fmt.Fprintf(b, "a:%d:{", len(x))
		for i, item := range x {
			fmt.Fprintf(b, "i:%d;", i)
			if err := encode(b, item); err != nil {
				return err
			}
		}
		b.WriteString("}")
	case *Array:
		if x.Class != "" {
			fmt.Fprintf(b, "O:%d:\"%s\":%d:{", len(x.Class), x.Class, len(x.entries))
		} else {
			fmt.Fprintf(b, "a:%d:{", len(x.entries))
		}
		for _, e := range x.entries {
			if e.intKey {
				b.WriteString("i:" + e.key + ";")
			} else {
				fmt.Fprintf(b, "s:%d:\"%s\";", len(e.key), e.key)
			}
			if err := encode(b, e.value); err != nil {
				return err
			}
		}
		b.WriteString("}")
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, s := range x {
			m[k] = s
		}
		return encode(b, m)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(b, "a:%d:{", len(x))
		for _, k := range keys {
			if isIntKey(k) {
				b.WriteString("i:" + k + ";")
			} else {
				fmt.Fprintf(b, "s:%d:\"%s\";", len(k), k)
			}
			if err := encode(b, x[k]); err != nil {
				return err
			}
		}
		b.WriteString("}")
	default:
		return fmt.Errorf("phpserial: unsupported type %T", v)
	}
	return nil
}

func encodeFloat(b *strings.Builder, f float64) {
	switch {
	case math.IsInf(f, 1):
		b.WriteString("d:INF;")
	case math.IsInf(f, -1):
		b.WriteString("d:-INF;")
	case math.IsNaN(f):
		b.WriteString("d:NAN;")
	default:
		b.WriteString("d:" + strconv.FormatFloat(f, 'g', -1, 64) + ";")
	}
}
