// Package logging configures the process-wide zap logger used by every
// other package (config, bot, routes, stream, ingest).
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the package-wide logger. Initialized by InitLogger before use.
var Logger *zap.Logger

func init() {
	// Safe default so packages imported before InitLogger runs (e.g. in
	// tests) never dereference a nil logger.
	Logger, _ = zap.NewProduction()
}

// InitLogger (re)configures Logger. Called once with conservative
// defaults at process start, then again once configuration (dev mode,
// log level, optional log file) has been loaded.
func InitLogger(dev bool, level string, logFile string) {
	var encoder zapcore.Encoder
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if dev {
		encoderCfg = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	writers := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if logFile != "" {
		writers = append(writers, zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MiB
			MaxBackups: 5,
			MaxAge:     28, // days
			Compress:   true,
		}))
	}

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(writers...), lvl)
	opts := []zap.Option{zap.AddCaller()}
	if dev {
		opts = append(opts, zap.Development())
	}
	Logger = zap.New(core, opts...)
}

// Mask redacts a URL-like string so it is safe to log: strips any
// "user:pass@" userinfo component and, failing that, truncates so a
// bare token/DSN never reaches a log line in full.
func Mask(raw string) string {
	if raw == "" {
		return ""
	}
	atIdx := -1
	schemeEnd := 0
	for i := 0; i < len(raw); i++ {
		if raw[i] == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			schemeEnd = i + 2
			break
		}
	}
	for i := schemeEnd; i < len(raw); i++ {
		if raw[i] == '@' {
			atIdx = i
		}
		if raw[i] == '/' {
			break
		}
	}
	if atIdx == -1 {
		if len(raw) <= 12 {
			return "***"
		}
		return raw[:4] + "***" + raw[len(raw)-4:]
	}
	return raw[:schemeEnd] + "***" + raw[atIdx:]
}
