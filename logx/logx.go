package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

const (
	defaultLogFile    = "./logs/msig.log"
	defaultMaxSizeMB  = 100
	defaultMaxAgeDays = 14
)

// Options configures the rotating file logger. Zero values fall back to
// the LOGFILE* environment variables and then to package defaults.
type Options struct {
	Filename   string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Level      string `yaml:"level"`
	Stdout     bool   `yaml:"stdout"`
}

var (
	mu     sync.RWMutex
	level  = levelFromEnv()
	logger = log.New(newRotatingWriter(Options{}), "", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// Init replaces the global logger according to opts.
func Init(opts Options) {
	var w io.Writer = newRotatingWriter(opts)
	if opts.Stdout {
		w = io.MultiWriter(w, os.Stdout)
	}

	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
	if opts.Level != "" {
		level = ParseLevel(opts.Level)
	}
}

// SetOutput redirects all log lines to w. Used by tests and the CLI.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds)
}

func SetLevel(l Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func newRotatingWriter(opts Options) *lumberjack.Logger {
	filename := opts.Filename
	if filename == "" {
		filename = getLogFilename()
	}
	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = envInt("LOGFILE_MAX_SIZE_MB", defaultMaxSizeMB)
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = envInt("LOGFILE_MAX_AGE_DAYS", defaultMaxAgeDays)
	}
	return &lumberjack.Logger{
		Filename: filename,
		MaxSize:  maxSize, // megabytes
		MaxAge:   maxAge,  // days
	}
}

func getLogFilename() string {
	if logFile := os.Getenv("LOGFILE"); logFile != "" {
		return "./logs/" + logFile
	}
	return defaultLogFile
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func levelFromEnv() Level {
	return ParseLevel(os.Getenv("LOG_LEVEL"))
}

func write(l Level, color, tag, category string, content ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	if l < level {
		return
	}
	message := fmt.Sprintln(content...)
	message = message[:len(message)-1]
	logger.Printf("%s[%s][%s]%s: %s", color, tag, category, ColorReset, message)
}

func Info(category string, content ...interface{}) {
	write(LevelInfo, ColorGreen, "INFO", category, content...)
}

func Error(category string, content ...interface{}) {
	write(LevelError, ColorRed, "ERROR", category, content...)
}

func Warn(category string, content ...interface{}) {
	write(LevelWarn, ColorYellow, "WARN", category, content...)
}

func Debug(category string, content ...interface{}) {
	write(LevelDebug, ColorBlue, "DEBUG", category, content...)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}
