package polycache

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// numberOf reports whether v is numeric: any Go integer or float kind
// (named types included) or json.Number. Booleans and numeric strings are not.
func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// assignNumber stores f into the number, or interface, dst points to.
func assignNumber(f float64, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("%w: destination must be a non-nil pointer, got %T", ErrSerialization, dst)
	}
	el := rv.Elem()
	switch el.Kind() {
	case reflect.Float32, reflect.Float64:
		el.SetFloat(f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if f != math.Trunc(f) || el.OverflowInt(int64(f)) {
			return fmt.Errorf("%w: %v does not fit %s", ErrSerialization, f, el.Type())
		}
		el.SetInt(int64(f))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if f < 0 || f != math.Trunc(f) || el.OverflowUint(uint64(f)) {
			return fmt.Errorf("%w: %v does not fit %s", ErrSerialization, f, el.Type())
		}
		el.SetUint(uint64(f))
	case reflect.Interface:
		if el.NumMethod() != 0 {
			return fmt.Errorf("%w: cannot store a number in %s", ErrSerialization, el.Type())
		}
		el.Set(reflect.ValueOf(f))
	default:
		return fmt.Errorf("%w: cannot store a number in %s", ErrSerialization, el.Type())
	}
	return nil
}

// PullAs reads key into a T. ok is false on a miss.
func PullAs[T any](ctx context.Context, c Cache, key string) (v T, ok bool, err error) {
	ok, err = c.PullInto(ctx, key, &v)
	if err != nil || !ok {
		var zero T
		return zero, ok, err
	}
	return v, true, nil
}
