package core

import (
	"reflect"

	"github.com/encodeous/weft/state"
)

// Get returns the module of type T. It panics if the module was not initialized.
func Get[T state.NyModule](s *state.State) T {
	t := reflect.TypeFor[T]()
	return s.Modules[t.String()].(T)
}
