// Package stopmon resolves the stop status of the node process exactly once,
// from whichever source fires first: operator interrupt or node fault
package stopmon

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/atomic"
)

type (
	Code int

	// Sink receives the stop code. It can be called any number of times from any goroutine
	Sink func(code Code)

	// Source invokes the sink when the stop condition occurs. done is closed when the stop code is known,
	// after that the source should release whatever it holds
	Source interface {
		Notify(sink Sink, done <-chan struct{})
	}

	SourceFunc func(sink Sink, done <-chan struct{})

	// Outcome is write-once status code
	Outcome struct {
		once    sync.Once
		done    chan struct{}
		code    Code
		ignored atomic.Int32
	}

	Monitor struct {
		mutex  sync.Mutex
		handle *WaitHandle
	}

	WaitHandle struct {
		outcome *Outcome
	}

	// SignalSource reports operator interrupt. The signal registration is released when done is closed
	SignalSource struct {
		signals  []os.Signal
		notified atomic.Bool
		stopped  chan struct{}
	}
)

const (
	CodeStopRequested = Code(0)
	CodeFault         = Code(1)
)

func (f SourceFunc) Notify(sink Sink, done <-chan struct{}) {
	f(sink, done)
}

func NewOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// Resolve sets the code if it is not set yet. Returns false if outcome was already resolved
func (o *Outcome) Resolve(code Code) bool {
	resolved := false
	o.once.Do(func() {
		o.code = code
		close(o.done)
		resolved = true
	})
	if !resolved {
		o.ignored.Inc()
	}
	return resolved
}

func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Code blocks until resolved
func (o *Outcome) Code() Code {
	<-o.done
	return o.code
}

func (o *Outcome) IsResolved() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Ignored number of resolve attempts after the first one
func (o *Outcome) Ignored() int {
	return int(o.ignored.Load())
}

func NewMonitor() *Monitor {
	return &Monitor{}
}

// Arm registers outcome resolver with the source. The monitor can be armed only once
func (m *Monitor) Arm(src Source) *WaitHandle {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.handle != nil {
		panic("stopmon: monitor already armed")
	}
	outcome := NewOutcome()
	m.handle = &WaitHandle{outcome: outcome}
	src.Notify(func(code Code) {
		outcome.Resolve(code)
	}, outcome.Done())
	return m.handle
}

// Block parks the caller until stop code is known
func (h *WaitHandle) Block() Code {
	return h.outcome.Code()
}

func (h *WaitHandle) Done() <-chan struct{} {
	return h.outcome.Done()
}

func (h *WaitHandle) Outcome() *Outcome {
	return h.outcome
}

// Merge returns source which passes the sink to all sources
func Merge(sources ...Source) Source {
	return SourceFunc(func(sink Sink, done <-chan struct{}) {
		for _, src := range sources {
			src.Notify(sink, done)
		}
	})
}

// OSSignals is the operator interrupt source. Default signals are SIGINT and SIGTERM.
// Each signal is reported as CodeStopRequested
func OSSignals(signals ...os.Signal) *SignalSource {
	if len(signals) == 0 {
		signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return &SignalSource{
		signals: signals,
		stopped: make(chan struct{}),
	}
}

// Notify can be called only once
func (s *SignalSource) Notify(sink Sink, done <-chan struct{}) {
	if s.notified.Swap(true) {
		panic("stopmon: signal source already in use")
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, s.signals...)
	go func() {
		defer close(s.stopped)
		defer signal.Stop(ch)
		for {
			select {
			case <-ch:
				sink(CodeStopRequested)
			case <-done:
				return
			}
		}
	}()
}

// Stopped is closed when the signals are not listened to anymore
func (s *SignalSource) Stopped() <-chan struct{} {
	return s.stopped
}
