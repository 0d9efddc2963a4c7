package pool

import (
	"reflect"
)

// addrKey identifies reference-like items by their address. The type is part
// of the key so two items of different types sharing an address (e.g. a
// struct and its first field) never collide.
type addrKey struct {
	typ reflect.Type
	ptr uintptr
}

// sliceKey identifies slices by their backing array window.
type sliceKey struct {
	typ reflect.Type
	ptr uintptr
	len int
	cap int
}

// identityKey returns a map key identifying item for collection checks.
// Pointers, maps, channels and unsafe pointers are keyed by address, slices by
// their backing array window, and other comparable values by value. It
// reports false for nil references, funcs and non-comparable values.
func identityKey(item any) (any, bool) {
	if item == nil {
		return nil, false
	}
	rv := reflect.ValueOf(item)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return nil, false
		}
		return addrKey{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.IsNil() {
			return nil, false
		}
		return sliceKey{typ: rv.Type(), ptr: rv.Pointer(), len: rv.Len(), cap: rv.Cap()}, true
	case reflect.Func:
		return nil, false
	}
	if !rv.Comparable() {
		return nil, false
	}
	return item, true
}

// checkableType reports whether values of t can ever carry an identity. It is
// used at construction to reject collection checks that could never work.
func checkableType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer, reflect.Slice, reflect.Interface:
		return true
	case reflect.Func:
		return false
	}
	return t.Comparable()
}
