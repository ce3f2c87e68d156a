package global

import (
	"fmt"

	"github.com/lunfardo314/nodexec/util"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const TimeLayoutDefault = "01-02 15:04:05.000"

func NewLogger(name string, level zapcore.Level, outputs []string, timeLayout string) *zap.SugaredLogger {
	ret, err := NewLoggerWithErrorOutputs(name, level, outputs, nil, timeLayout)
	util.AssertNoError(err)
	return ret
}

// NewLoggerWithErrorOutputs builds console logger. Error level messages are also written to errOutputs.
// Returns error if any of the outputs can't be opened
func NewLoggerWithErrorOutputs(name string, level zapcore.Level, outputs, errOutputs []string, timeLayout string) (*zap.SugaredLogger, error) {
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	if timeLayout == "" {
		timeLayout = TimeLayoutDefault
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      true,
		Encoding:         "console",
		EncoderConfig:    zap.NewDevelopmentEncoderConfig(),
		OutputPaths:      outputs,
		ErrorOutputPaths: outputs,
		DisableCaller:    true,
	}
	cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)

	log, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger.output: %w", err)
	}

	if len(errOutputs) > 0 {
		sink, _, err := zap.Open(errOutputs...)
		if err != nil {
			_ = log.Sync()
			return nil, fmt.Errorf("logger.error_output: %w", err)
		}
		errCore := zapcore.NewCore(zapcore.NewConsoleEncoder(cfg.EncoderConfig), sink, zapcore.ErrorLevel)
		log = log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, errCore)
		}))
	}
	log = log.WithOptions(zap.IncreaseLevel(level), zap.AddStacktrace(zapcore.FatalLevel))

	return log.Sugar().Named(name), nil
}

// ParseLevel returns info level for empty string. Unknown level is an error, info level is returned with it
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level '%s'", s)
	}
	return lvl, nil
}
