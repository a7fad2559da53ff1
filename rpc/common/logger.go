package common

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Cache Logger (implements dragonboat's logger.ILogger)
// --------------------------------------------------------------------------

// levelNames maps dragonboat levels to the tags written in front of a line.
var levelNames = map[logger.LogLevel]string{
	logger.CRITICAL: "CRIT",
	logger.ERROR:    "ERROR",
	logger.WARNING:  "WARN",
	logger.INFO:     "INFO",
	logger.DEBUG:    "DEBUG",
}

// cacheLogger writes lines of the form "<time> LEVEL [name] message". Loggers of the
// cache packages are bracketed, raft internals are prefixed with "raft/".
type cacheLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *cacheLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *cacheLogger) Debugf(format string, args ...interface{}) {
	l.log(logger.DEBUG, format, args...)
}

func (l *cacheLogger) Infof(format string, args ...interface{}) {
	l.log(logger.INFO, format, args...)
}

func (l *cacheLogger) Warningf(format string, args ...interface{}) {
	l.log(logger.WARNING, format, args...)
}

func (l *cacheLogger) Errorf(format string, args ...interface{}) {
	l.log(logger.ERROR, format, args...)
}

func (l *cacheLogger) Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	l.log(logger.CRITICAL, "%s", msg)
	panic(msg)
}

func (l *cacheLogger) log(level logger.LogLevel, format string, args ...interface{}) {
	if l.level < level {
		return
	}
	l.logger.Printf("%-5s [%s] %s", levelNames[level], l.name, fmt.Sprintf(format, args...))
}

// CreateLogger is the dragonboat logger factory of the server.
func CreateLogger(pkgName string) logger.ILogger {
	name := pkgName
	if !isAppLogger(pkgName) {
		name = "raft/" + pkgName
	}
	return &cacheLogger{
		name:   name,
		level:  logger.INFO,
		logger: log.New(os.Stdout, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// --------------------------------------------------------------------------
// Levels
// --------------------------------------------------------------------------

// appLoggers are the package loggers of the cache itself.
var appLoggers = []string{"cache", "index", "cq", "async", "gcs", "store", "rpc", "transport/rpc", "transport/peer"}

// raftLoggers are the loggers dragonboat creates.
var raftLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb"}

func isAppLogger(name string) bool {
	for _, n := range appLoggers {
		if n == name {
			return true
		}
	}
	return false
}

// parseLogLevel converts a level name to a logger.LogLevel.
func parseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", level)
	}
}

// LogLevels holds the base level and per logger overrides of a server.
type LogLevels struct {
	Base      logger.LogLevel
	Overrides map[string]logger.LogLevel
}

// ParseLogLevels parses a level setting like "info" or "warn,cq=debug,gcs=error". The
// first element without a name is the base level of all loggers, named elements
// override single cache loggers.
func ParseLogLevels(setting string) (LogLevels, error) {
	levels := LogLevels{Base: logger.INFO, Overrides: map[string]logger.LogLevel{}}
	for _, part := range strings.Split(setting, ",") {
		name, value, named := strings.Cut(part, "=")
		if !named {
			lvl, err := parseLogLevel(part)
			if err != nil {
				return levels, err
			}
			levels.Base = lvl
			continue
		}
		name = strings.TrimSpace(name)
		if !isAppLogger(name) {
			return levels, fmt.Errorf("unknown logger %q: must be one of %s", name, strings.Join(appLoggers, ", "))
		}
		lvl, err := parseLogLevel(value)
		if err != nil {
			return levels, err
		}
		levels.Overrides[name] = lvl
	}
	return levels, nil
}

// Of returns the level of the named logger.
func (l LogLevels) Of(name string) logger.LogLevel {
	if lvl, ok := l.Overrides[name]; ok {
		return lvl
	}
	return l.Base
}

// String lists the levels of all cache loggers, e.g. "async=info cache=info cq=debug".
func (l LogLevels) String() string {
	names := append([]string(nil), appLoggers...)
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + strings.ToLower(levelNames[l.Of(n)])
	}
	return strings.Join(parts, " ")
}

// InitLoggers installs the logger factory and applies the configured levels. Raft
// internals only follow the base level.
func InitLoggers(config ServerConfig) error {
	levels, err := ParseLogLevels(config.LogLevel)
	if err != nil {
		return err
	}

	logger.SetLoggerFactory(CreateLogger)

	for _, name := range raftLoggers {
		logger.GetLogger(name).SetLevel(levels.Base)
	}
	for _, name := range appLoggers {
		logger.GetLogger(name).SetLevel(levels.Of(name))
	}

	logger.GetLogger("rpc").Infof("log levels: %s", levels)
	return nil
}
