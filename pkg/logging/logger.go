package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log level
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// DefaultLogDir is where file loggers write when no directory is given
const DefaultLogDir = "/var/log/kapparpc"

// sink is shared by a logger and every logger derived from it with WithField
type sink struct {
	mu      sync.Mutex
	output  io.Writer
	logFile *os.File
}

// Logger provides structured logging with file output support
type Logger struct {
	level      Level
	jsonFormat bool
	fields     map[string]interface{}
	sink       *sink
}

// NewLogger creates a new logger writing to stderr. Stdout is left alone
// because the stdio transport uses it for protocol frames.
func NewLogger(level Level, jsonFormat bool) *Logger {
	return &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		fields:     make(map[string]interface{}),
		sink:       &sink{output: os.Stderr},
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	l := NewLogger(ERROR+1, false)
	l.sink.output = io.Discard
	return l
}

// NewFileLogger creates a logger that writes to <dir>/<component>.log and stderr.
// Falls back to ./logs if dir is not writable.
func NewFileLogger(dir, component string, level Level, jsonFormat bool) (*Logger, error) {
	if dir == "" {
		dir = DefaultLogDir
	}
	if !isWritable(dir) {
		dir = "./logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	logPath := filepath.Join(dir, component+".log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	logger := &Logger{
		level:      level,
		jsonFormat: jsonFormat,
		fields:     map[string]interface{}{"component": component},
		sink: &sink{
			output:  io.MultiWriter(logFile, os.Stderr),
			logFile: logFile,
		},
	}

	logger.Info(fmt.Sprintf("Logger initialized: %s -> %s", component, logPath))
	return logger, nil
}

// SetOutput sets the output writer
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// Level returns the minimum level that is written
func (l *Logger) Level() Level {
	return l.level
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// log writes a log entry
func (l *Logger) log(level Level, message string, fields map[string]interface{}) {
	if level < l.level {
		return
	}

	// Merge logger fields and call fields
	mergedFields := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		mergedFields[k] = v
	}
	for k, v := range fields {
		mergedFields[k] = v
	}

	var line string
	if l.jsonFormat {
		entry := LogEntry{
			Timestamp: time.Now().Format(time.RFC3339),
			Level:     level.String(),
			Message:   message,
			Fields:    mergedFields,
		}
		data, err := json.Marshal(entry)
		if err != nil {
			log.Printf("Failed to marshal log entry: %v", err)
			return
		}
		line = string(data)
	} else {
		timestamp := time.Now().Format("2006-01-02 15:04:05")
		line = fmt.Sprintf("[%s] %s: %s%s", timestamp, level.String(), message, formatFields(mergedFields))
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	fmt.Fprintln(l.sink.output, line)
}

// formatFields renders fields as sorted key=value pairs
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	return b.String()
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	l.log(DEBUG, message, f)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	l.log(INFO, message, f)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	l.log(WARN, message, f)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...map[string]interface{}) {
	var f map[string]interface{}
	if len(fields) > 0 {
		f = fields[0]
	}
	l.log(ERROR, message, f)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	// Copy fields to avoid mutation
	newFields := make(map[string]interface{}, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value
	return &Logger{
		level:      l.level,
		jsonFormat: l.jsonFormat,
		fields:     newFields,
		sink:       l.sink,
	}
}

// ParseLevel parses a log level string
func ParseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Close closes the log file if opened
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.logFile != nil {
		err := l.sink.logFile.Close()
		l.sink.logFile = nil
		l.sink.output = os.Stderr
		return err
	}
	return nil
}

// RotateIfNeeded rotates log file if it exceeds maxSize (in bytes)
func (l *Logger) RotateIfNeeded(maxSize int64) error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.logFile == nil {
		return nil
	}

	info, err := l.sink.logFile.Stat()
	if err != nil {
		return err
	}
	if info.Size() <= maxSize {
		return nil
	}

	oldPath := l.sink.logFile.Name()
	l.sink.logFile.Close()

	// Rename to timestamped backup
	backupPath := oldPath + "." + time.Now().Format("20060102-150405")
	if err := os.Rename(oldPath, backupPath); err != nil {
		return err
	}

	newFile, err := os.OpenFile(oldPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.sink.logFile = newFile
	l.sink.output = io.MultiWriter(newFile, os.Stderr)
	return nil
}

// isWritable checks if directory is writable
func isWritable(path string) bool {
	if err := os.MkdirAll(path, 0755); err != nil {
		return false
	}

	testFile := filepath.Join(path, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(testFile)
	return true
}
