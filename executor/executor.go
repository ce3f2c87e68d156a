// Package executor drives one invocation of the node process: verify, initialize the store
// or run the node through seeding and synchronization until stop is requested, then stop it
package executor

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lunfardo314/nodexec/config"
	"github.com/lunfardo314/nodexec/global"
	"github.com/lunfardo314/nodexec/node"
	"github.com/lunfardo314/nodexec/stopmon"
	"github.com/lunfardo314/nodexec/store"
	"github.com/lunfardo314/nodexec/util"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type (
	// NodeFactory creates the node when the run phase is reached
	NodeFactory func(env *global.Global, cfg *config.Configuration) (node.Node, error)

	Initializer interface {
		Initialize(dir string) (store.Result, error)
	}

	Option func(e *Executor)

	Executor struct {
		env         *global.Global
		sub         *global.SubGlobal
		log         *zap.SugaredLogger
		cfg         *config.Configuration
		out         io.Writer
		help        func() string
		newNode     NodeFactory
		initializer Initializer
		signals     stopmon.Source
		stopGrace   time.Duration

		invoked    atomic.Bool
		phase      atomic.Uint32
		history    []Phase
		status     Status
		node       node.Node
		milestones chan milestone
		phaseGauge prometheus.Gauge
	}

	milestoneKind byte

	milestone struct {
		kind milestoneKind
		err  error
	}
)

const (
	milestoneSeeded = milestoneKind(iota)
	milestoneSynchronized
	milestoneStopped
)

// the node has its own shutdown timeout. This is the margin on top of it
const stopGracePeriod = 5 * time.Second

func WithOutput(w io.Writer) Option {
	return func(e *Executor) {
		e.out = w
	}
}

// WithHelp sets the source of the text printed by the help command
func WithHelp(help func() string) Option {
	return func(e *Executor) {
		e.help = help
	}
}

func WithNodeFactory(f NodeFactory) Option {
	return func(e *Executor) {
		e.newNode = f
	}
}

func WithInitializer(init Initializer) Option {
	return func(e *Executor) {
		e.initializer = init
	}
}

// WithStopGracePeriod sets the margin on top of the node shutdown timeout
func WithStopGracePeriod(d time.Duration) Option {
	return func(e *Executor) {
		e.stopGrace = d
	}
}

// WithSignals replaces the operator interrupt source
func WithSignals(src stopmon.Source) Option {
	return func(e *Executor) {
		e.signals = src
	}
}

func defaultNodeFactory(env *global.Global, cfg *config.Configuration) (node.Node, error) {
	return node.New(env, cfg), nil
}

// New creates the executor of the command selected in cfg
func New(env *global.Global, cfg *config.Configuration, opts ...Option) *Executor {
	sub := env.Sub("[executor]")
	ret := &Executor{
		env:         env,
		sub:         sub,
		log:         sub.Log(),
		cfg:         cfg,
		out:         os.Stdout,
		help:        func() string { return msgInformation },
		newNode:     defaultNodeFactory,
		initializer: store.NewDirectoryInitializer(cfg.Network.Name),
		signals:     stopmon.OSSignals(),
		stopGrace:   stopGracePeriod,
		history:     []Phase{PhaseIdle},
		milestones:  make(chan milestone, 3),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.registerMetrics()
	return ret
}

// Invoke runs the command. Returns true on success. Can be called only once
func (e *Executor) Invoke() bool {
	util.Assertf(!e.invoked.Swap(true), "executor can be invoked only once")

	e.setPhase(PhaseVerifying)
	switch e.cfg.Command {
	case config.CommandHelp:
		e.doHelp()
		return e.succeed()
	case config.CommandSettings:
		e.doSettings()
		return e.succeed()
	case config.CommandVersion:
		e.doVersion()
		return e.succeed()
	}

	if err := e.cfg.Validate(); err != nil {
		e.log.Errorf(msgInvalidConfig, err)
		return e.fail(StatusInvalidConfig)
	}
	if e.cfg.Command == config.CommandInitChain {
		return e.doInitChain()
	}
	return e.run()
}

func (e *Executor) Phase() Phase {
	return Phase(e.phase.Load())
}

// History is the sequence of phases the invocation went through, starting with idle
func (e *Executor) History() []Phase {
	return append([]Phase(nil), e.history...)
}

// Status is the terminal status. Meaningful after Invoke returns
func (e *Executor) Status() Status {
	return e.status
}

func (e *Executor) setPhase(p Phase) {
	prev := e.Phase()
	util.Assertf(!prev.IsTerminal() && p > prev, "executor: wrong phase transition %s -> %s", prev, p)
	e.phase.Store(uint32(p))
	e.history = append(e.history, p)
	e.phaseGauge.Set(float64(p))
	e.sub.Tracef(TraceTag, "phase %s -> %s", prev, p)
}

func (e *Executor) succeed() bool {
	e.status = StatusOK
	e.setPhase(PhaseStopped)
	return true
}

func (e *Executor) fail(status Status) bool {
	e.status = status
	e.setPhase(PhaseFailed)
	e.log.Errorf("invocation failed with status %s", status)
	return false
}

func (e *Executor) doHelp() {
	_, _ = fmt.Fprintln(e.out, e.help())
}

func (e *Executor) doSettings() {
	_, _ = fmt.Fprintf(e.out, "%s\n\n%s", msgSettings, e.cfg.SettingsYAML())
}

func (e *Executor) doVersion() {
	_, _ = fmt.Fprintf(e.out, "%s\n", global.VersionLines().String())
}

func (e *Executor) doInitChain() bool {
	e.setPhase(PhaseInitializing)

	dir := e.cfg.Store.Dir
	e.log.Infof(msgInitializingChain, dir)
	res, err := e.initializer.Initialize(dir)
	switch res {
	case store.Created:
		e.log.Infof(msgInitChainCreated, dir)
		return e.succeed()
	case store.AlreadyInitialized:
		e.log.Errorf(msgInitChainExists, dir)
		return e.fail(StatusInitExists)
	}
	if errors.Is(err, store.ErrProbe) {
		e.log.Errorf(msgInitChainTry, dir, err)
	} else {
		e.log.Errorf(msgInitChainNew, dir, err)
	}
	return e.fail(StatusInitFailed)
}

// verify checks the store exists before anything is started
func (e *Executor) verify() bool {
	dir := e.cfg.Store.Dir
	initialized, err := store.IsInitialized(dir)
	if err != nil {
		e.log.Errorf(msgInitChainTry, dir, err)
		return false
	}
	if !initialized {
		e.log.Errorf(msgUninitializedChain, dir)
		return false
	}
	return true
}

func (e *Executor) logHeader() {
	e.log.Info(global.LogHeader())
	if e.cfg.ConfigFile != "" {
		e.log.Infof(msgUsingConfigFile, e.cfg.ConfigFile)
	} else {
		e.log.Info(msgUsingDefaultConfig)
	}
	e.log.Infof("configuration:\n%s", e.cfg.Lines("     ").String())
}

func (e *Executor) run() bool {
	e.logHeader()
	if !e.verify() {
		return e.fail(StatusUninitialized)
	}

	e.setPhase(PhaseStarting)
	e.log.Info(msgNodeInterrupt)
	e.log.Info(msgNodeStarting)

	var err error
	if e.node, err = e.newNode(e.env, e.cfg); err != nil {
		e.log.Errorf(msgNodeStartFail, err)
		return e.fail(StatusStartFailed)
	}
	if err = e.attachQueryAPI(); err == nil {
		err = e.attachSubscriptionAPI()
	}
	if err != nil {
		e.log.Errorf(msgNodeStartFail, err)
		e.node.Close()
		return e.fail(StatusStartFailed)
	}

	stop := e.monitorStop()
	if err = e.node.Start(e.milestoneHandler(milestoneSeeded)); err != nil {
		e.log.Errorf(msgNodeStartFail, err)
		e.node.Close()
		return e.fail(StatusStartFailed)
	}
	e.log.Info(msgNodeStarted)

	e.setPhase(PhaseSeeding)
	select {
	case m := <-e.milestones:
		util.Assertf(m.kind == milestoneSeeded, "executor: unexpected milestone %d", m.kind)
		if m.err != nil {
			e.log.Errorf(msgNodeSeedFail, m.err)
			return e.stopOnFailure(StatusSeedFailed)
		}
		e.log.Info(msgNodeSeeded)
	case <-stop.Done():
		return e.shutdown(stop.Block())
	}

	e.setPhase(PhaseSynchronizing)
	e.node.Run(e.milestoneHandler(milestoneSynchronized))
	select {
	case m := <-e.milestones:
		util.Assertf(m.kind == milestoneSynchronized, "executor: unexpected milestone %d", m.kind)
		if m.err != nil {
			if e.cfg.Sync.FailurePolicy == config.SyncFailureFatal {
				e.log.Errorf(msgNodeSyncFail, m.err)
				return e.stopOnFailure(StatusSyncFailed)
			}
			e.log.Warnf(msgNodeSyncIgnore, m.err)
		} else {
			e.log.Info(msgNodeSynced)
		}
	case <-stop.Done():
		return e.shutdown(stop.Block())
	}

	e.setPhase(PhaseRunning)
	return e.shutdown(stop.Block())
}

// milestoneHandler only passes the result to the invoking goroutine
func (e *Executor) milestoneHandler(kind milestoneKind) node.ResultHandler {
	return func(err error) {
		e.milestones <- milestone{kind: kind, err: err}
	}
}

// monitorStop arms the stop monitor with operator interrupt and the node fault, whichever comes first
func (e *Executor) monitorStop() *stopmon.WaitHandle {
	fault := stopmon.SourceFunc(func(sink stopmon.Sink, _ <-chan struct{}) {
		e.node.SubscribeFault(func(err error) {
			e.log.Errorf(msgNodeFault, err)
			sink(stopmon.CodeFault)
		})
	})
	return stopmon.NewMonitor().Arm(stopmon.Merge(e.signals, fault))
}

// shutdown stops the node after the stop outcome is resolved
func (e *Executor) shutdown(code stopmon.Code) bool {
	e.setPhase(PhaseStopping)
	e.log.Infof(msgNodeStopping, code)

	if err := e.stopNode(); err != nil {
		e.log.Errorf(msgNodeStopFail, err)
		return e.fail(StatusStopFailed)
	}
	e.log.Info(msgNodeStopped)
	if code != stopmon.CodeStopRequested {
		return e.fail(StatusNodeFault)
	}
	return e.succeed()
}

// stopOnFailure stops the node after failed milestone. The milestone failure is the status
func (e *Executor) stopOnFailure(status Status) bool {
	e.setPhase(PhaseStopping)
	e.log.Infof(msgNodeStopping, stopmon.CodeFault)

	if err := e.stopNode(); err != nil {
		e.log.Errorf(msgNodeStopFail, err)
	}
	return e.fail(status)
}

// stopNode waits for the stop completion of the node and releases it. Milestones which arrive late are ignored
func (e *Executor) stopNode() error {
	e.node.Stop(e.milestoneHandler(milestoneStopped))

	timeout := time.After(e.cfg.Node.ShutdownTimeout + e.stopGrace)
	for {
		select {
		case m := <-e.milestones:
			if m.kind != milestoneStopped {
				e.sub.Tracef(TraceTag, "milestone %d ignored while stopping: %v", m.kind, m.err)
				continue
			}
			e.log.Info(msgNodeUnmapping)
			e.node.Close()
			return m.err
		case <-timeout:
			// the node is left as is: releasing it would block behind the stop in progress
			return fmt.Errorf("node did not stop in %v", e.cfg.Node.ShutdownTimeout+e.stopGrace)
		}
	}
}
