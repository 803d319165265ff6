package plist

import (
	"math"
	"reflect"
	"sort"
	"time"
)

// normalize converts an arbitrary Go value into the closed set of types the
// builders understand (nil, bool, int64, uint64, float64, string, []byte,
// time.Time, UID, []any and *Dict). Plain maps are emitted in sorted key
// order; integral floats become integers.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string, UID:
		return t, nil
	case int:
		return int64(t), nil
	case int8:
		return int64(t), nil
	case int16:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return normalizeUint(uint64(t)), nil
	case uint8:
		return int64(t), nil
	case uint16:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return normalizeUint(t), nil
	case float32:
		return normalizeFloat(float64(t)), nil
	case float64:
		return normalizeFloat(t), nil
	case []byte:
		return t, nil
	case time.Time:
		return t, nil
	case *Dict:
		if t == nil {
			return nil, nil
		}
		d := NewDict()
		for pair := t.Oldest(); pair != nil; pair = pair.Next() {
			nv, err := normalize(pair.Value)
			if err != nil {
				return nil, err
			}
			d.Set(pair.Key, nv)
		}
		return d, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := NewDict()
		for _, k := range keys {
			nv, err := normalize(t[k])
			if err != nil {
				return nil, err
			}
			d.Set(k, nv)
		}
		return d, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			nv, err := normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, &EncodeError{Value: v}
		}
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		d := NewDict()
		for _, k := range keys {
			nv, err := normalize(rv.MapIndex(k).Interface())
			if err != nil {
				return nil, err
			}
			d.Set(k.String(), nv)
		}
		return d, nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return normalizeUint(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return normalizeFloat(rv.Float()), nil
	}

	return nil, &EncodeError{Value: v}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return u
	}
	return int64(u)
}

// normalizeFloat applies the integer-valued check: 2.0 is written as an
// <integer>, 2.5 as a <real>
func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}
