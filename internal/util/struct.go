package util

import (
	"reflect"

	"github.com/pkg/errors"
)

// IsStructInitialized reports an error naming every nil pointer, interface,
// map, slice, func or chan field of the struct s points to. Fields tagged
// `wire:"-"` are skipped.
func IsStructInitialized(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return errors.New("struct is nil")
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return errors.Errorf("expected struct, got %s", v.Kind())
	}

	var missing []string
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if field.Tag.Get("wire") == "-" || !field.IsExported() {
			continue
		}

		switch f := v.Field(i); f.Kind() {
		case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
			if f.IsNil() {
				missing = append(missing, field.Name)
			}
		default:
		}
	}

	if len(missing) > 0 {
		return errors.Errorf("uninitialized fields: %v", missing)
	}

	return nil
}
