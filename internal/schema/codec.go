package schema

import (
	"database/sql"
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

var timeType = reflect.TypeFor[time.Time]()

// timeLayouts are tried in order when a driver hands back a timestamp as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// DBValue converts a Go value of this field into a driver argument.
// Structured kinds are encoded as JSON text.
func (f *Field) DBValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Kind.Structured() {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("schema: encode %s: %w", f.Name, err)
		}
		return string(b), nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		return rv.Elem().Interface(), nil
	}
	return v, nil
}

// Coerce converts loosely typed input (decoded JSON, query-string text) into
// the field's Go type. Structured kinds are re-decoded through JSON so a
// document of the wrong shape is rejected before it reaches the store.
func (f *Field) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Kind.Structured() {
		return f.coerceDocument(v)
	}
	dst := reflect.New(f.Type).Elem()
	if err := assign(dst, v); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", f.Name, err)
	}
	return dst.Interface(), nil
}

func (f *Field) coerceDocument(v any) (any, error) {
	if reflect.TypeOf(v) == f.Type {
		return v, nil
	}
	var b []byte
	switch raw := v.(type) {
	case json.RawMessage:
		b = raw
	case []byte:
		b = raw
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("schema: %s: %w", f.Name, err)
		}
	}
	ptr := reflect.New(f.Type)
	if err := json.Unmarshal(b, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("schema: %s: %w", f.Name, err)
	}
	return ptr.Elem().Interface(), nil
}

func (f *Field) scanner(dst reflect.Value) sql.Scanner {
	return fieldScanner{field: f, dst: dst}
}

type fieldScanner struct {
	field *Field
	dst   reflect.Value
}

func (s fieldScanner) Scan(src any) error {
	if src == nil {
		s.dst.Set(reflect.Zero(s.dst.Type()))
		return nil
	}
	if !s.field.Kind.Structured() {
		if err := assign(s.dst, src); err != nil {
			return fmt.Errorf("schema: scan %s: %w", s.field.Name, err)
		}
		return nil
	}

	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("schema: scan %s: %w", s.field.Name, err)
		}
		raw = b
	}
	ptr := reflect.New(s.dst.Type())
	if err := json.Unmarshal(raw, ptr.Interface()); err != nil {
		return fmt.Errorf("schema: scan %s: %w", s.field.Name, err)
	}
	s.dst.Set(ptr.Elem())
	return nil
}

// assign stores src into the addressable dst, converting between the shapes
// database drivers and JSON decoders produce.
func assign(dst reflect.Value, src any) error {
	if src == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	// Drivers may reuse the buffer after Scan returns.
	if b, ok := src.([]byte); ok {
		src = append([]byte(nil), b...)
	}
	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), src); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	sv := reflect.ValueOf(src)
	if sv.Type().AssignableTo(dst.Type()) {
		dst.Set(sv)
		return nil
	}
	if sc, ok := dst.Addr().Interface().(sql.Scanner); ok {
		return sc.Scan(src)
	}
	if s, ok := src.(string); ok && dst.Type() != timeType {
		if tu, ok := dst.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return tu.UnmarshalText([]byte(s))
		}
	}
	if n, ok := src.(json.Number); ok {
		src = n.String()
	}

	switch dst.Kind() {
	case reflect.String:
		switch v := src.(type) {
		case string:
			dst.SetString(v)
		case []byte:
			dst.SetString(string(v))
		case time.Time:
			dst.SetString(v.Format(time.RFC3339Nano))
		case float64:
			dst.SetString(strconv.FormatFloat(v, 'f', -1, 64))
		default:
			dst.SetString(fmt.Sprint(v))
		}
		return nil

	case reflect.Bool:
		switch v := src.(type) {
		case bool:
			dst.SetBool(v)
		case int64:
			dst.SetBool(v != 0)
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			dst.SetBool(b)
		case []byte:
			b, err := strconv.ParseBool(string(v))
			if err != nil {
				return err
			}
			dst.SetBool(b)
		default:
			return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
		}
		return nil

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := toInt(src)
		if err != nil {
			return err
		}
		if dst.OverflowInt(n) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
		return nil

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := toInt(src)
		if err != nil {
			return err
		}
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("value %d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
		return nil

	case reflect.Float32, reflect.Float64:
		switch v := src.(type) {
		case float64:
			dst.SetFloat(v)
		case int64:
			dst.SetFloat(float64(v))
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			dst.SetFloat(f)
		case []byte:
			f, err := strconv.ParseFloat(string(v), 64)
			if err != nil {
				return err
			}
			dst.SetFloat(f)
		default:
			return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
		}
		return nil

	case reflect.Slice:
		if dst.Type().Elem().Kind() == reflect.Uint8 {
			if s, ok := src.(string); ok {
				dst.SetBytes([]byte(s))
				return nil
			}
		}

	case reflect.Struct:
		if dst.Type() == timeType {
			var text string
			switch v := src.(type) {
			case string:
				text = v
			case []byte:
				text = string(v)
			default:
				return fmt.Errorf("cannot assign %T to time.Time", src)
			}
			for _, layout := range timeLayouts {
				if t, err := time.Parse(layout, text); err == nil {
					dst.Set(reflect.ValueOf(t))
					return nil
				}
			}
			return fmt.Errorf("unrecognized timestamp %q", text)
		}
	}

	if sv.Type().ConvertibleTo(dst.Type()) && sv.Kind() != reflect.String {
		dst.Set(sv.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", src, dst.Type())
}

func toInt(src any) (int64, error) {
	switch v := src.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("value %v is not an integer", v)
		}
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("cannot convert %T to integer", src)
}
