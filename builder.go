package eventfold

import (
	"os"

	"k8s.io/utils/clock"
)

// NewBuilder starts configuration of a named Log. The name labels metrics and
// debug output and is unrelated to model names used for snapshotting.
func NewBuilder(name string) *Builder {
	return &Builder{
		log: &Log{
			name:       name,
			migrations: NewMigrations(),
			clock:      clock.RealClock{},
		},
		callbacks: Callbacks{
			Handlers: make(map[string]CallbackFunc),
		},
	}
}

type Builder struct {
	log       *Log
	callbacks Callbacks
}

// AddMigration registers the upgrade pipeline for cmd, each transform lifting
// data one schema version, applied at execution time.
func (b *Builder) AddMigration(cmd string, transforms ...Transform) {
	b.log.migrations.Add(cmd, transforms...)
}

// AddCallback registers the callback invoked with (result, record) after a
// successful execution of cmd.
func (b *Builder) AddCallback(cmd string, fn CallbackFunc) {
	b.callbacks.Handlers[cmd] = fn
}

// DefaultCallback registers the callback for commands with no per-cmd entry.
func (b *Builder) DefaultCallback(fn CallbackFunc) {
	b.callbacks.Default = fn
}

// OnError registers the callback receiving every failed execution. Without one
// failures are still counted and logged, but the caller loses the per-event
// detail.
func (b *Builder) OnError(fn ErrorFunc) {
	b.callbacks.Error = fn
}

// AddAppendHook registers an observer of committed appends.
func (b *Builder) AddAppendHook(fn AppendHookFunc) {
	b.log.hooks = append(b.log.hooks, fn)
}

// Build wires the stores and live model into a Log handle. The model is what
// live appends execute against; replays may target any model.
func (b *Builder) Build(events EventStore, pending PendingStore, snapshots SnapshotStore, model Model, opts ...BuildOption) *Log {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	l := b.log
	l.events = events
	l.pending = pending
	l.snapshots = snapshots

	if bo.clock != nil {
		l.clock = bo.clock
	}

	l.logger = bo.logger
	if l.logger == nil {
		l.logger = newSlogLogger(os.Stderr)
	}

	l.hasher = bo.hasher
	if l.hasher == nil {
		l.hasher = NewBcryptHasher(0)
	}

	l.debugMode = bo.debugMode
	l.sweepSpec = bo.sweepSpec

	cbs := b.callbacks
	if cbs.Error == nil {
		cbs.Error = loggingErrorFunc(l)
	}

	l.exec = &executor{
		logName:    l.name,
		model:      model,
		callbacks:  cbs,
		migrations: l.migrations,
		clock:      l.clock,
		logger:     l.logger,
		debugMode:  bo.debugMode,
	}

	return l
}

type buildOptions struct {
	clock     clock.PassiveClock
	logger    Logger
	hasher    PasswordHasher
	debugMode bool
	sweepSpec string
}

type BuildOption func(*buildOptions)

func WithClock(c clock.PassiveClock) BuildOption {
	return func(bo *buildOptions) {
		bo.clock = c
	}
}

func WithLogger(l Logger) BuildOption {
	return func(bo *buildOptions) {
		bo.logger = l
	}
}

func WithPasswordHasher(h PasswordHasher) BuildOption {
	return func(bo *buildOptions) {
		bo.hasher = h
	}
}

func WithDebugMode() BuildOption {
	return func(bo *buildOptions) {
		bo.debugMode = true
	}
}

// WithExpirySweep schedules SweepExpired plus a pending check on the given
// cron spec once Run is called. Without it expiry stays fully lazy.
func WithExpirySweep(spec string) BuildOption {
	return func(bo *buildOptions) {
		bo.sweepSpec = spec
	}
}
