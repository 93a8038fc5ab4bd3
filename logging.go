// logging.go - structured logging for the kernel.
//
// The kernel logs through a package-level, swappable logger, a
// "package-level global, configured once" idiom built on
// github.com/joeycumines/logiface (backed by github.com/joeycumines/stumpy's
// zero-allocation JSON event type) instead of a hand-rolled interface.
//
// Categories cover the kernel's components: "sched", "timer", "stack",
// "create", "executor"; they are tags on each entry, not separate switches.
// A logger configured at Init time (SetLogger or WithLogger) swaps the
// simulated idle wait for a short fixed sleep, so the idle loop polls
// tightly (see idle.go).
package preempt

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the structured logger type used throughout the kernel: a
// logiface.Logger bound to stumpy's Event type.
type Logger = logiface.Logger[*stumpy.Event]

var (
	globalLogger struct {
		sync.RWMutex
		logger  *Logger
		enabled atomic.Bool
	}
)

// SetLogger installs the package-level logger used by every kernel
// component that does not have one supplied via WithLogger. Passing nil
// restores the no-op default.
func SetLogger(l *Logger) {
	globalLogger.Lock()
	defer globalLogger.Unlock()
	globalLogger.logger = l
	globalLogger.enabled.Store(l != nil)
}

// NewDefaultLogger builds the default logger: stumpy's zero-alloc JSON
// backend at the given minimum level, writing to os.Stderr.
func NewDefaultLogger(level logiface.Level) *Logger {
	return stumpy.L.New(
		stumpy.L.WithLevel(level),
		stumpy.L.WithStumpy(),
	)
}

// loggingEnabled reports whether any structured logging is currently
// configured; this is the condition used to disable the simulated idle
// sleep.
func loggingEnabled() bool {
	return globalLogger.enabled.Load()
}

func getLogger() *Logger {
	globalLogger.RLock()
	defer globalLogger.RUnlock()
	return globalLogger.logger
}

// kernelLogger resolves to k.log if set at Init time, else the
// package-level global, else a nil-safe no-op.
func (k *Kernel) kernelLogger() *Logger {
	if k.log != nil {
		return k.log
	}
	return getLogger()
}

// logSched/logTimer/logStack/logCreate/logExecutor are small convenience
// wrappers, one per component category; each is a no-op (no allocation
// beyond the nil check) when no logger is configured.

func (k *Kernel) logSched(build func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event], msg string) {
	k.logCategory("sched", build, msg)
}

func (k *Kernel) logTimer(build func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event], msg string) {
	k.logCategory("timer", build, msg)
}

func (k *Kernel) logStack(build func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event], msg string) {
	k.logCategory("stack", build, msg)
}

func (k *Kernel) logCreate(build func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event], msg string) {
	k.logCategory("create", build, msg)
}

func (k *Kernel) logExecutor(build func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event], msg string) {
	k.logCategory("executor", build, msg)
}

func (k *Kernel) logCategory(category string, build func(b *logiface.Builder[*stumpy.Event]) *logiface.Builder[*stumpy.Event], msg string) {
	l := k.kernelLogger()
	if l == nil {
		return
	}
	b := l.Debug()
	if !b.Enabled() {
		return
	}
	b = b.Str("category", category)
	if build != nil {
		b = build(b)
	}
	b.Log(msg)
}
