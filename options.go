package preempt

// kernelOptions holds configuration for Kernel.Init. Defaults below are
// drawn from the constants of a representative STM32F401RE-class embedded
// target: a modest priority count, a handful of kilobytes of stack region,
// and a millisecond tick rate.
type kernelOptions struct {
	maxPriority          int
	arenaSizeBytes       int
	stackRegionSizeBytes int
	interruptStackSize   int
	programStackSize     int
	taskStackSize        int
	tickHz               uint64
	alarmCount           int
	delayIdle            bool
	port                 Port
	timerDriver          TimerDriver
	logger               *Logger
}

const (
	defaultMaxPriority          = 56 // idle occupies MAX_PRIORITY
	defaultArenaSizeBytes       = 64 * 1024
	defaultStackRegionSizeBytes = 20 * 1024
	defaultInterruptStackSize   = 2048
	defaultProgramStackSize     = 2048
	defaultTaskStackSize        = defaultProgramStackSize
	defaultTickHz               = 1000
	defaultAlarmCount           = 1
)

// Option configures a Kernel instance at Init time. A nil Option passed to
// Init is silently skipped, so callers can build an option slice
// conditionally without filtering out zero values themselves.
type Option func(*kernelOptions) error

// WithMaxPriority sets MAX_PRIORITY, the lowest-urgency numeric priority
// value; the idle task is always installed at this priority.
func WithMaxPriority(p int) Option {
	return func(opts *kernelOptions) error {
		opts.maxPriority = p
		return nil
	}
}

// WithArenaSize sets ARENA_SIZE_BYTES, the byte size of the TCB arena.
func WithArenaSize(bytes int) Option {
	return func(opts *kernelOptions) error {
		opts.arenaSizeBytes = bytes
		return nil
	}
}

// WithStackRegionSize sets STACK_REGION_SIZE_BYTES, the total byte size of
// the stack pool backing the stack allocator.
func WithStackRegionSize(bytes int) Option {
	return func(opts *kernelOptions) error {
		opts.stackRegionSizeBytes = bytes
		return nil
	}
}

// WithStackSizes sets INTERRUPT_STACK_SIZE, PROGRAM_STACK_SIZE and
// TASK_STACK_SIZE in one call.
func WithStackSizes(interruptSize, programSize, taskSize int) Option {
	return func(opts *kernelOptions) error {
		opts.interruptStackSize = interruptSize
		opts.programStackSize = programSize
		opts.taskStackSize = taskSize
		return nil
	}
}

// WithTickHz sets TICK_HZ, the timer tick frequency that determines the
// resolution of every delay.
func WithTickHz(hz uint64) Option {
	return func(opts *kernelOptions) error {
		opts.tickHz = hz
		return nil
	}
}

// WithAlarmCount sets ALARM_COUNT, the number of alarm channels the timer
// driver must expose (must be >= 1).
func WithAlarmCount(n int) Option {
	return func(opts *kernelOptions) error {
		opts.alarmCount = n
		return nil
	}
}

// WithDelayIdle toggles DELAY_IDLE: whether the executor busy-polls for a
// short period when only the idle task is ready, before invoking the idle
// instruction. This is forced on whenever a logger is configured at Init
// time, either package-wide via SetLogger or per kernel via WithLogger.
func WithDelayIdle(enabled bool) Option {
	return func(opts *kernelOptions) error {
		opts.delayIdle = enabled
		return nil
	}
}

// WithPort overrides the default simulated Port implementation.
func WithPort(p Port) Option {
	return func(opts *kernelOptions) error {
		opts.port = p
		return nil
	}
}

// WithTimerDriver overrides the default simulated TimerDriver implementation.
func WithTimerDriver(d TimerDriver) Option {
	return func(opts *kernelOptions) error {
		opts.timerDriver = d
		return nil
	}
}

// WithLogger attaches a structured logger (see logging.go) to the kernel.
func WithLogger(l *Logger) Option {
	return func(opts *kernelOptions) error {
		opts.logger = l
		return nil
	}
}

// resolveKernelOptions applies Option instances over the documented defaults.
func resolveKernelOptions(opts []Option) (*kernelOptions, error) {
	cfg := &kernelOptions{
		maxPriority:          defaultMaxPriority,
		arenaSizeBytes:       defaultArenaSizeBytes,
		stackRegionSizeBytes: defaultStackRegionSizeBytes,
		interruptStackSize:   defaultInterruptStackSize,
		programStackSize:     defaultProgramStackSize,
		taskStackSize:        defaultTaskStackSize,
		tickHz:               defaultTickHz,
		alarmCount:           defaultAlarmCount,
		delayIdle:            false,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
