package canonical

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// SerializationError reports a value that has no canonical encoding.
type SerializationError struct {
	// Path locates the offending value, e.g. "random_response[3]".
	Path string

	// Reason describes why the value was rejected.
	Reason string
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return "canonical: " + e.Reason
	}
	return fmt.Sprintf("canonical: %s: %s", e.Path, e.Reason)
}

var (
	marshalerType = reflect.TypeFor[json.Marshaler]()
	numberType    = reflect.TypeFor[json.Number]()
)

// Marshal returns the canonical encoding of v.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, reflect.ValueOf(v), ""); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v reflect.Value, path string) error {
	if !v.IsValid() {
		buf.WriteString("null")
		return nil
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		buf.WriteString("null")
		return nil
	}

	if v.Type() == numberType {
		return encodeNumber(buf, v.String(), path)
	}
	if v.Kind() != reflect.Interface && v.Type().Implements(marshalerType) && v.CanInterface() {
		return encodeMarshaler(buf, v.Interface().(json.Marshaler), path)
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		return encode(buf, v.Elem(), path)

	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(v.Bool()))

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(v.Int(), 10))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		buf.WriteString(strconv.FormatUint(v.Uint(), 10))

	case reflect.Float32, reflect.Float64:
		return encodeFloat(buf, v.Float(), v.Type().Bits(), path)

	case reflect.String:
		return writeString(buf, v.String(), path)

	case reflect.Slice:
		if v.IsNil() {
			buf.WriteString("null")
			return nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 && !v.Type().Elem().Implements(marshalerType) {
			// []byte follows encoding/json: a base64 string.
			return writeString(buf, base64.StdEncoding.EncodeToString(v.Bytes()), path)
		}
		return encodeArray(buf, v, path)

	case reflect.Array:
		return encodeArray(buf, v, path)

	case reflect.Map:
		return encodeMap(buf, v, path)

	case reflect.Struct:
		return encodeStruct(buf, v, path)

	default:
		return &SerializationError{Path: path, Reason: "unsupported type " + v.Type().String()}
	}
	return nil
}

func encodeNumber(buf *bytes.Buffer, s string, path string) error {
	if s == "" {
		s = "0"
	}
	if !json.Valid([]byte(s)) || !(s[0] == '-' || (s[0] >= '0' && s[0] <= '9')) {
		return &SerializationError{Path: path, Reason: fmt.Sprintf("invalid number literal %q", s)}
	}
	buf.WriteString(s)
	return nil
}

func encodeFloat(buf *bytes.Buffer, f float64, bits int, path string) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return &SerializationError{Path: path, Reason: "non-finite number " + strconv.FormatFloat(f, 'g', -1, 64)}
	}
	var (
		b   []byte
		err error
	)
	if bits == 32 {
		b, err = json.Marshal(float32(f))
	} else {
		b, err = json.Marshal(f)
	}
	if err != nil {
		return &SerializationError{Path: path, Reason: err.Error()}
	}
	buf.Write(b)
	return nil
}

// encodeMarshaler re-canonicalizes the output of a json.Marshaler so that
// raw fragments obey the same key ordering and spacing rules.
func encodeMarshaler(buf *bytes.Buffer, m json.Marshaler, path string) error {
	raw, err := m.MarshalJSON()
	if err != nil {
		return &SerializationError{Path: path, Reason: err.Error()}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return &SerializationError{Path: path, Reason: "invalid marshaler output: " + err.Error()}
	}
	return encode(buf, reflect.ValueOf(generic), path)
}

func encodeArray(buf *bytes.Buffer, v reflect.Value, path string) error {
	buf.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encode(buf, v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func encodeMap(buf *bytes.Buffer, v reflect.Value, path string) error {
	if v.IsNil() {
		buf.WriteString("null")
		return nil
	}
	if v.Type().Key().Kind() != reflect.String {
		return &SerializationError{Path: path, Reason: "non-string map key type " + v.Type().Key().String()}
	}

	keys := v.MapKeys()
	slices.SortFunc(keys, func(a, b reflect.Value) int {
		return strings.Compare(a.String(), b.String())
	})

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name := k.String()
		if err := writeString(buf, name, path); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, v.MapIndex(k), joinPath(path, name)); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeStruct(buf *bytes.Buffer, v reflect.Value, path string) error {
	buf.WriteByte('{')
	first := true
	for _, f := range structFields(v.Type()) {
		fv, ok := fieldByIndex(v, f.index)
		if !ok {
			continue
		}
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		if err := writeString(buf, f.name, path); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := encode(buf, fv, joinPath(path, f.name)); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

type field struct {
	name      string
	index     []int
	omitEmpty bool
}

// structFields lists the JSON-visible fields of t sorted by name. Fields of
// embedded structs are promoted; on a name clash the shallower field wins.
func structFields(t reflect.Type) []field {
	type pending struct {
		t     reflect.Type
		index []int
	}

	var out []field
	seen := make(map[string]bool)
	level := []pending{{t: t}}
	for len(level) > 0 {
		var next []pending
		for _, p := range level {
			for i := 0; i < p.t.NumField(); i++ {
				sf := p.t.Field(i)
				tag := sf.Tag.Get("json")
				if tag == "-" {
					continue
				}
				name, opts, _ := strings.Cut(tag, ",")
				index := append(slices.Clone(p.index), i)

				if sf.Anonymous && name == "" {
					ft := sf.Type
					if ft.Kind() == reflect.Pointer {
						ft = ft.Elem()
					}
					if ft.Kind() == reflect.Struct {
						next = append(next, pending{t: ft, index: index})
						continue
					}
				}
				if !sf.IsExported() {
					continue
				}
				if name == "" {
					name = sf.Name
				}
				if seen[name] {
					continue
				}
				seen[name] = true
				out = append(out, field{
					name:      name,
					index:     index,
					omitEmpty: slices.Contains(strings.Split(opts, ","), "omitempty"),
				})
			}
		}
		level = next
	}

	slices.SortFunc(out, func(a, b field) int {
		return strings.Compare(a.name, b.name)
	})
	return out
}

func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

const hexDigits = "0123456789abcdef"

// writeString writes s as an ASCII-only JSON string literal.
func writeString(buf *bytes.Buffer, s string, path string) error {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return &SerializationError{Path: path, Reason: fmt.Sprintf("invalid UTF-8 at byte %d", i)}
		}
		i += size

		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r >= 0x7f && r <= 0xffff):
				writeEscape(buf, r)
			case r > 0xffff:
				hi, lo := utf16.EncodeRune(r)
				writeEscape(buf, hi)
				writeEscape(buf, lo)
			default:
				buf.WriteByte(byte(r))
			}
		}
	}
	buf.WriteByte('"')
	return nil
}

func writeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xf])
	buf.WriteByte(hexDigits[(r>>8)&0xf])
	buf.WriteByte(hexDigits[(r>>4)&0xf])
	buf.WriteByte(hexDigits[r&0xf])
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}
