// Package reflector extracts and caches type metadata for efficient
// repeated lookups, mainly event type names for the registry.
package reflector

import (
	"reflect"
	"sync"
)

// TypeInfo holds metadata about a reflected type.
type TypeInfo struct {
	// Name is the fully qualified name: "pkg/path.TypeName".
	Name string
	Type reflect.Type
}

var (
	mu    sync.RWMutex
	cache = map[reflect.Type]TypeInfo{}
)

// TypeInfoOf returns TypeInfo for the dynamic type of x.
func TypeInfoOf(x any) TypeInfo {
	return TypeInfoForType(reflect.TypeOf(x))
}

// TypeInfoFor returns TypeInfo for type parameter T.
func TypeInfoFor[T any]() TypeInfo {
	return TypeInfoForType(reflect.TypeFor[T]())
}

// TypeInfoForType returns TypeInfo for t. Pointer types resolve to their
// element type. Safe for concurrent use.
func TypeInfoForType(t reflect.Type) TypeInfo {
	if t == nil {
		return TypeInfo{}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	mu.RLock()
	ti, ok := cache[t]
	mu.RUnlock()
	if ok {
		return ti
	}

	ti = TypeInfo{Name: t.PkgPath() + "." + t.Name(), Type: t}

	mu.Lock()
	cache[t] = ti
	mu.Unlock()

	return ti
}
