package logging

import (
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var loggerMutex sync.RWMutex // guards access to global logger state

// loggers is the set of loggers in the system
var loggers = make(map[string]*zap.SugaredLogger)

var levels = make(map[string]zap.AtomicLevel)
var defaultLevel = zap.NewAtomicLevelAt(zapcore.InfoLevel)
var output = zapcore.AddSync(os.Stdout)

// sharedCore holds the encoder core every named logger writes through.
// Configure swaps it, so loggers created during package init still pick
// up the configured format. The encoder core accepts every level; level
// filtering happens per logger in dynamicCore.
var sharedCore = func() *atomic.Value {
	v := &atomic.Value{}
	v.Store(newCore(ColorizedOutput, output, zapcore.DebugLevel))
	return v
}()

var DefaultLogger = GetLogger("smart-proxy")

// dynamicCore gates entries on a per-logger atomic level and writes
// through the process-wide shared core. Both sides can change after the
// logger is built: SetLevel moves the gate, Configure swaps the core.
type dynamicCore struct {
	level  zap.AtomicLevel
	fields []zapcore.Field
}

func (c *dynamicCore) Enabled(l zapcore.Level) bool { return c.level.Enabled(l) }

func (c *dynamicCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &dynamicCore{level: c.level, fields: merged}
}

func (c *dynamicCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *dynamicCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	core := sharedCore.Load().(zapcore.Core)
	if len(c.fields) > 0 {
		core = core.With(c.fields)
	}
	return core.Write(ent, fields)
}

func (c *dynamicCore) Sync() error {
	return sharedCore.Load().(zapcore.Core).Sync()
}

func GetLogger(name string) *zap.SugaredLogger {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	log, ok := loggers[name]
	if !ok {
		level := zap.NewAtomicLevelAt(defaultLevel.Level())
		levels[name] = level

		log = zap.New(&dynamicCore{level: level}, zap.AddCaller()).
			Named(name).
			Sugar()

		loggers[name] = log
	}

	return log
}

// Configure applies the logging settings: the output format and the
// level every logger starts at. Loggers created before the call pick
// both up; SetLevel still overrides individual names afterwards.
func Configure(format LogFormat, level zapcore.Level) {
	sharedCore.Store(newCore(format, output, zapcore.DebugLevel))

	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	defaultLevel.SetLevel(level)
	for _, l := range levels {
		l.SetLevel(level)
	}
}

// SetLevel adjusts the level of a named logger at runtime.
func SetLevel(name string, level zapcore.Level) {
	loggerMutex.RLock()
	defer loggerMutex.RUnlock()
	if l, ok := levels[name]; ok {
		l.SetLevel(level)
	}
}
