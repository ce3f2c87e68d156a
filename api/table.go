package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/lunfardo314/nodexec/util"
)

var (
	ErrDuplicatePath = errors.New("handler already attached")
	ErrTableSealed   = errors.New("handler table is sealed")

	errWrongHash = errors.New("hash does not match header data")
)

// Table collects handlers of one API endpoint before the node starts serving it.
// The node seals the table when it starts, after that nothing can be attached
type Table struct {
	mutex    sync.RWMutex
	name     string
	handlers map[string]http.Handler
	sealed   bool
}

func NewTable(name string) *Table {
	return &Table{
		name:     name,
		handlers: make(map[string]http.Handler),
	}
}

func (t *Table) Name() string {
	return t.name
}

func (t *Table) Attach(path string, handler http.Handler) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.sealed {
		return fmt.Errorf("%w: can't attach '%s' to '%s'", ErrTableSealed, path, t.name)
	}
	if _, already := t.handlers[path]; already {
		return fmt.Errorf("%w: '%s' in '%s'", ErrDuplicatePath, path, t.name)
	}
	t.handlers[path] = handler
	return nil
}

func (t *Table) AttachFunc(path string, handler func(http.ResponseWriter, *http.Request)) error {
	return t.Attach(path, http.HandlerFunc(handler))
}

func (t *Table) Seal() {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.sealed = true
}

func (t *Table) IsSealed() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.sealed
}

func (t *Table) Paths() []string {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return util.KeysSorted(t.handlers)
}

func (t *Table) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return len(t.handlers)
}

// Mux seals the table and returns the router with all attached handlers
func (t *Table) Mux() *http.ServeMux {
	t.Seal()

	t.mutex.RLock()
	defer t.mutex.RUnlock()

	ret := http.NewServeMux()
	for path, h := range t.handlers {
		ret.Handle(path, h)
	}
	return ret
}
