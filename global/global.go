package global

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lunfardo314/nodexec/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	Logging interface {
		Log() *zap.SugaredLogger
		Tracef(tag string, format string, args ...any)
	}

	Metrics interface {
		MetricsRegistry() *prometheus.Registry
	}

	// NodeGlobal is the environment shared by all components of one process
	NodeGlobal interface {
		Logging
		Metrics
		Ctx() context.Context
		Stop()
		MarkWorkProcessStarted(name string)
		MarkWorkProcessStopped(name string)
		RepeatInBackground(name string, period time.Duration, fun func() bool, skipFirst ...bool)
	}

	Global struct {
		*zap.SugaredLogger
		ctx             context.Context
		stopFun         context.CancelFunc
		once            sync.Once
		metricsRegistry *prometheus.Registry
		// work processes
		wpMutex        sync.Mutex
		wpWG           sync.WaitGroup
		workProcesses  map[string]struct{}
		enabledTrace   atomic.Bool
		traceTagsMutex sync.RWMutex
		traceTags      map[string]struct{}
	}
)

// New creates global environment with the logger and the root context derived from ctx
func New(ctx context.Context, log *zap.SugaredLogger) *Global {
	ctx, cancelFun := context.WithCancel(ctx)
	return &Global{
		SugaredLogger:   log,
		ctx:             ctx,
		stopFun:         cancelFun,
		metricsRegistry: prometheus.NewRegistry(),
		workProcesses:   make(map[string]struct{}),
		traceTags:       make(map[string]struct{}),
	}
}

// NewDefault is used in tests and for commands which do not need configured logging
func NewDefault() *Global {
	return New(context.Background(), NewLogger("", zapcore.InfoLevel, nil, ""))
}

// Sub returns environment with the same context, metrics and trace tags but with named logger
func (l *Global) Sub(name string) *SubGlobal {
	return &SubGlobal{
		Global: l,
		log:    l.SugaredLogger.Named(name),
	}
}

func (l *Global) Ctx() context.Context {
	return l.ctx
}

func (l *Global) Stop() {
	l.once.Do(func() {
		l.Log().Info("global stop invoked")
		l.stopFun()
	})
}

func (l *Global) Log() *zap.SugaredLogger {
	return l.SugaredLogger
}

func (l *Global) MetricsRegistry() *prometheus.Registry {
	return l.metricsRegistry
}

func (l *Global) MarkWorkProcessStarted(name string) {
	l.wpMutex.Lock()
	defer l.wpMutex.Unlock()

	_, already := l.workProcesses[name]
	util.Assertf(!already, "work process '%s' already started", name)
	l.workProcesses[name] = struct{}{}
	l.wpWG.Add(1)
}

func (l *Global) MarkWorkProcessStopped(name string) {
	l.wpMutex.Lock()
	defer l.wpMutex.Unlock()

	_, found := l.workProcesses[name]
	util.Assertf(found, "unknown work process '%s'", name)
	delete(l.workProcesses, name)
	l.wpWG.Done()
}

// WaitAllWorkProcessesStop waits until every started work process reports stop.
// Returns error with the list of still running processes on timeout
func (l *Global) WaitAllWorkProcessesStop(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wpWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		l.Log().Infof("all work processes stopped")
		return nil
	case <-time.After(timeout):
		l.wpMutex.Lock()
		defer l.wpMutex.Unlock()
		return fmt.Errorf("work processes did not stop in %v: %s", timeout, strings.Join(util.KeysSorted(l.workProcesses), ","))
	}
}

// RepeatInBackground runs fun periodically as a work process until global context is done or fun returns false
func (l *Global) RepeatInBackground(name string, period time.Duration, fun func() bool, skipFirst ...bool) {
	l.MarkWorkProcessStarted(name)
	go func() {
		defer l.MarkWorkProcessStopped(name)

		if len(skipFirst) == 0 || !skipFirst[0] {
			if !fun() {
				return
			}
		}
		for {
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(period):
				if !fun() {
					return
				}
			}
		}
	}()
}

// StartTracingTags enables trace tags. Each element may be a comma separated list
func (l *Global) StartTracingTags(tags ...string) {
	l.traceTagsMutex.Lock()
	for _, t := range tags {
		for _, t1 := range strings.Split(t, ",") {
			if t1 = strings.TrimSpace(t1); t1 != "" {
				l.traceTags[t1] = struct{}{}
				l.enabledTrace.Store(true)
			}
		}
	}
	l.traceTagsMutex.Unlock()
}

func (l *Global) TraceLog(log *zap.SugaredLogger, tag string, format string, args ...any) {
	if !l.enabledTrace.Load() {
		return
	}

	l.traceTagsMutex.RLock()
	defer l.traceTagsMutex.RUnlock()

	for _, t := range strings.Split(tag, ",") {
		if _, ok := l.traceTags[t]; ok {
			log.Infof("TRACE(%s) %s", t, fmt.Sprintf(format, util.EvalLazyArgs(args...)...))
			return
		}
	}
}

func (l *Global) Tracef(tag string, format string, args ...any) {
	l.TraceLog(l.Log(), tag, format, args...)
}

// SubGlobal is the same environment with a named logger
type SubGlobal struct {
	*Global
	log *zap.SugaredLogger
}

func (s *SubGlobal) Log() *zap.SugaredLogger {
	return s.log
}

func (s *SubGlobal) Tracef(tag string, format string, args ...any) {
	s.TraceLog(s.log, tag, format, args...)
}
