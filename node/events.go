package node

import (
	"sync"

	"github.com/lunfardo314/nodexec/api"
	"github.com/lunfardo314/nodexec/util/queue"
)

// events delivers node events to handlers in the order of posting, on a separate goroutine.
// Posting never blocks the component which reports the event
type events struct {
	mutex    sync.RWMutex
	handlers []func(ev api.Event)
	queue    *queue.Queue[api.Event]
}

func newEvents() *events {
	ret := &events{}
	ret.queue = queue.New(ret.dispatch)
	return ret
}

func (e *events) onEvent(fun func(ev api.Event)) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.handlers = append(e.handlers, fun)
}

func (e *events) post(ev api.Event) {
	e.queue.Push(ev)
}

func (e *events) dispatch(ev api.Event) {
	e.mutex.RLock()
	handlers := e.handlers
	e.mutex.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// close delivers events already posted and waits for the dispatcher to exit
func (e *events) close() {
	e.queue.Close(true)
	<-e.queue.Done()
}
