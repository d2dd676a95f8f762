package starbind

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"go.starlark.net/starlark"
)

// interfaceToStarlarkValue converts a result of the debugger into a
// starlark.Value. Structs are converted through their JSON encoding, so
// that scripts see the same field names as the tool interface: objects
// become dicts and arrays become lists.
func interfaceToStarlarkValue(v interface{}) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(v), nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case error:
		return starlark.String(v.Error()), nil
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return starlark.None, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return starlark.None, err
	}
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	var x interface{}
	if err := dec.Decode(&x); err != nil {
		return starlark.None, err
	}
	return jsonToStarlarkValue(x), nil
}

// jsonToStarlarkValue converts a value decoded by encoding/json, with
// UseNumber set, into a starlark.Value. Dict keys are inserted in sorted
// order.
func jsonToStarlarkValue(x interface{}) starlark.Value {
	switch x := x.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case string:
		return starlark.String(x)
	case json.Number:
		if n, err := strconv.ParseInt(string(x), 10, 64); err == nil {
			return starlark.MakeInt64(n)
		}
		if n, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return starlark.MakeUint64(n)
		}
		f, _ := x.Float64()
		return starlark.Float(f)
	case float64:
		return starlark.Float(x)
	case []interface{}:
		elems := make([]starlark.Value, len(x))
		for i := range x {
			elems[i] = jsonToStarlarkValue(x[i])
		}
		return starlark.NewList(elems)
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		d := starlark.NewDict(len(keys))
		for _, k := range keys {
			d.SetKey(starlark.String(k), jsonToStarlarkValue(x[k]))
		}
		return d
	default:
		return starlark.String(fmt.Sprintf("%v", x))
	}
}

// unmarshalStarlarkValue unmarshals a starlark.Value 'val' into a Go variable 'dst'.
// This works similarly to encoding/json.Unmarshal and similar functions,
// but instead of getting its input from a byte buffer, it uses a
// starlark.Value. Dict keys are matched against the json name of struct
// fields, then against the field name.
func unmarshalStarlarkValue(val starlark.Value, dst interface{}, path string) error {
	return unmarshalStarlarkValueIntl(val, reflect.ValueOf(dst), path)
}

func unmarshalStarlarkValueIntl(val starlark.Value, dst reflect.Value, path string) (err error) {
	defer func() {
		// catches reflect panics
		ierr := recover()
		if ierr != nil {
			err = fmt.Errorf("error setting argument %q to %s: %v", path, val, ierr)
		}
	}()

	converr := func(args ...string) error {
		if len(args) > 0 {
			return fmt.Errorf("error setting argument %q: can not convert %s to %s: %s", path, val, dst.Type().String(), args[0])
		}
		return fmt.Errorf("error setting argument %q: can not convert %s to %s", path, val, dst.Type().String())
	}

	if _, isnone := val.(starlark.NoneType); isnone {
		return nil
	}

	for dst.Kind() == reflect.Ptr {
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		dst = dst.Elem()
	}

	switch val := val.(type) {
	case starlark.Bool:
		if dst.Kind() != reflect.Bool {
			return converr()
		}
		dst.SetBool(bool(val))
	case starlark.Int:
		switch dst.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			n, ok := val.Uint64()
			if !ok {
				return converr()
			}
			dst.SetUint(n)
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n, ok := val.Int64()
			if !ok {
				return converr()
			}
			dst.SetInt(n)
		default:
			return converr()
		}
	case starlark.Float:
		if dst.Kind() != reflect.Float32 && dst.Kind() != reflect.Float64 {
			return converr()
		}
		dst.SetFloat(float64(val))
	case starlark.String:
		if dst.Kind() != reflect.String {
			return converr()
		}
		dst.SetString(string(val))
	case starlark.Indexable:
		if dst.Kind() != reflect.Slice {
			return converr()
		}
		r := reflect.MakeSlice(dst.Type(), 0, val.Len())
		for i := 0; i < val.Len(); i++ {
			cur := reflect.New(dst.Type().Elem())
			err := unmarshalStarlarkValueIntl(val.Index(i), cur, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return err
			}
			r = reflect.Append(r, cur.Elem())
		}
		dst.Set(r)
	case *starlark.Dict:
		if dst.Kind() != reflect.Struct {
			return converr()
		}
		for _, k := range val.Keys() {
			if _, ok := k.(starlark.String); !ok {
				return converr(fmt.Sprintf("non-string key %q", k.String()))
			}
			fieldName := string(k.(starlark.String))
			dstfield := fieldByJSONName(dst, fieldName)
			if dstfield == (reflect.Value{}) {
				return converr(fmt.Sprintf("unknown field %s", fieldName))
			}
			valfield, _, _ := val.Get(starlark.String(fieldName))
			err := unmarshalStarlarkValueIntl(valfield, dstfield, path+"."+fieldName)
			if err != nil {
				return err
			}
		}
	default:
		return converr()
	}
	return nil
}

func fieldByJSONName(v reflect.Value, name string) reflect.Value {
	typ := v.Type()
	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("json")
		if comma := strings.Index(tag, ","); comma >= 0 {
			tag = tag[:comma]
		}
		if tag == name {
			return v.Field(i)
		}
	}
	return v.FieldByName(name)
}
