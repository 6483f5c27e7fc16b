package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harborhq/contextd/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	loggersMu sync.Mutex

	// cfg holds the logging configuration applied to new loggers.
	cfg   Config
	cfgMu sync.Mutex
)

// Configure sets the logging configuration used for loggers created
// afterwards. Call it once at process start, before NewLogger.
func Configure(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	cfgMu.Lock()
	logCfg := cfg
	cfgMu.Unlock()

	logger := logrus.New()

	// Configure Level
	levelStr := "info" // Default level
	if os.Getenv("CONTEXTD_LOG_LEVEL") != "" {
		levelStr = os.Getenv("CONTEXTD_LOG_LEVEL")
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Configure Caller Reporting
	if os.Getenv("CONTEXTD_LOG_CALLER") == "true" || logCfg.ReportCaller {
		logger.SetReportCaller(true)
	}

	// Configure Formatter
	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	// Configure Output Sinks
	var writers []io.Writer

	// Configure File Sink
	var logFilePath string
	if logCfg.File.Enabled && logCfg.File.Path != "" {
		// Use explicitly configured path
		logFilePath = expandPath(logCfg.File.Path)
	} else if stateDir := paths.StateDir(); stateDir != "" {
		// Default to a date-based file under the state directory
		dateStr := time.Now().Format("2006-01-02")
		logFilePath = filepath.Join(stateDir, "logs", fmt.Sprintf("%s-%s.log", component, dateStr))
	}

	// Create and open the log file
	if logFilePath != "" {
		dir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			// Don't warn about default log dir creation failures
			if logCfg.File.Enabled {
				logger.Warnf("Failed to create log directory %s: %v", dir, err)
			}
		} else {
			file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err == nil {
				writers = append(writers, file)
			} else {
				// Only warn if explicitly configured
				if logCfg.File.Enabled {
					logger.Warnf("Failed to open log file %s: %v", logFilePath, err)
				}
			}
		}
	}

	// Determine if we should write structured logs to stderr
	shouldLogToStderr := false
	stderrMode := "auto"
	if logCfg.Format.StructuredToStderr != "" {
		stderrMode = logCfg.Format.StructuredToStderr
	}

	switch stderrMode {
	case "always":
		shouldLogToStderr = true
	case "never":
		shouldLogToStderr = false
	case "auto":
		// "auto" mode: log to stderr if debug is enabled, or if not in an interactive terminal
		isDebug := os.Getenv("CONTEXTD_DEBUG") == "1" || logger.GetLevel() == logrus.DebugLevel
		isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		// Suppress structured stderr logs in normal interactive use
		if isDebug || !isInteractive {
			shouldLogToStderr = true
		}
	}

	if shouldLogToStderr {
		writers = append(writers, os.Stderr)
	}

	// Configure the output based on the number of writers
	if len(writers) == 0 {
		// No writers configured - this is intentional in auto mode for interactive terminals
		logger.SetOutput(io.Discard)
	} else if len(writers) == 1 {
		logger.SetOutput(writers[0])
	} else {
		mw := io.MultiWriter(writers...)
		logger.SetOutput(mw)
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
