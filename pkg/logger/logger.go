package logger

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antibyte/looplang/pkg/configuration"
)

// LogLevel orders log entries by severity.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var logLevelNames = map[LogLevel]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// LogArea names a subsystem that can be switched on and off independently.
type LogArea string

const (
	AreaLexer       LogArea = "lexer"
	AreaParser      LogArea = "parser"
	AreaInterpreter LogArea = "interpreter"
	AreaSession     LogArea = "session"
	AreaREPL        LogArea = "repl"
	AreaServer      LogArea = "server"
	AreaAuth        LogArea = "auth"
	AreaSecurity    LogArea = "security"
	AreaStore       LogArea = "store"
	AreaSuite       LogArea = "suite"
	AreaConfig      LogArea = "config"
	AreaGeneral     LogArea = "general"
)

var allAreas = []LogArea{
	AreaLexer, AreaParser, AreaInterpreter, AreaSession, AreaREPL,
	AreaServer, AreaAuth, AreaSecurity, AreaStore, AreaSuite,
	AreaConfig, AreaGeneral,
}

// Logger writes area-filtered entries to a rotating log file.
type Logger struct {
	enabled       int32              // atomic bool, checked on every call
	level         int32              // atomic LogLevel
	areaEnabled   map[LogArea]*int32 // atomic bools per area
	file          *os.File
	mutex         sync.RWMutex
	logPath       string
	maxSizeMB     int64
	rotationCount int
	currentSize   int64
}

var (
	globalLogger *Logger
	initOnce     sync.Once
)

// Initialize sets up the global logger from the [Debug] configuration section.
// Logging calls made before Initialize are dropped.
func Initialize() error {
	var err error
	initOnce.Do(func() {
		globalLogger, err = newLogger()
	})
	return err
}

func newLogger() (*Logger, error) {
	l := &Logger{
		areaEnabled: make(map[LogArea]*int32),
	}
	for _, area := range allAreas {
		l.areaEnabled[area] = new(int32)
	}

	if err := l.loadConfig(); err != nil {
		return nil, err
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) loadConfig() error {
	enabled := configuration.GetBool("Debug", "enable_debug_logging", true)
	atomic.StoreInt32(&l.enabled, boolToInt32(enabled))

	levelStr := configuration.GetString("Debug", "log_level", "INFO")
	atomic.StoreInt32(&l.level, int32(parseLogLevel(levelStr)))

	l.logPath = configuration.GetString("Debug", "log_file", "looplang.log")
	l.maxSizeMB = int64(configuration.GetInt("Debug", "max_log_size_mb", 10))
	l.rotationCount = configuration.GetInt("Debug", "log_rotation_count", 3)

	for area, flag := range l.areaEnabled {
		key := fmt.Sprintf("log_%s", string(area))
		atomic.StoreInt32(flag, boolToInt32(configuration.GetBool("Debug", key, false)))
	}
	return nil
}

func (l *Logger) openLogFile() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	if err := os.MkdirAll(filepath.Dir(l.logPath), 0755); err != nil {
		return err
	}

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	l.file = file

	if stat, err := file.Stat(); err == nil {
		l.currentSize = stat.Size()
	}
	return nil
}

// rotateLogFile shifts log.N to log.N+1 and starts a fresh file.
// The caller must hold l.mutex.
func (l *Logger) rotateLogFile() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	for i := l.rotationCount - 1; i >= 1; i-- {
		oldName := fmt.Sprintf("%s.%d", l.logPath, i)
		newName := fmt.Sprintf("%s.%d", l.logPath, i+1)
		if i == l.rotationCount-1 {
			os.Remove(newName)
		}
		os.Rename(oldName, newName)
	}
	os.Rename(l.logPath, l.logPath+".1")

	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	l.file = file
	l.currentSize = 0
	return nil
}

func (l *Logger) isEnabled() bool {
	return atomic.LoadInt32(&l.enabled) != 0
}

func (l *Logger) isAreaEnabled(area LogArea) bool {
	if flag, exists := l.areaEnabled[area]; exists {
		return atomic.LoadInt32(flag) != 0
	}
	return false
}

func (l *Logger) shouldLog(level LogLevel, area LogArea) bool {
	if !l.isEnabled() {
		return false
	}
	if atomic.LoadInt32(&l.level) > int32(level) {
		return false
	}
	return l.isAreaEnabled(area)
}

func (l *Logger) writeLog(level LogLevel, area LogArea, format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)

	_, file, line, _ := runtime.Caller(3)
	filename := filepath.Base(file)

	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	entry := fmt.Sprintf("[%s] %s [%s:%d] [%s] %s\n",
		timestamp,
		logLevelNames[level],
		filename,
		line,
		strings.ToUpper(string(area)),
		message)

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.file != nil {
		n, err := l.file.WriteString(entry)
		if err == nil {
			l.currentSize += int64(n)
			if l.maxSizeMB > 0 && l.currentSize > l.maxSizeMB*1024*1024 {
				l.rotateLogFile()
			}
		}
	}

	// Warnings and above also go to the standard logger
	if level >= WARN {
		log.Printf("[%s] [%s] %s", logLevelNames[level], strings.ToUpper(string(area)), message)
	}
}

// Debug writes a debug entry for area.
func Debug(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(DEBUG, area) {
		globalLogger.writeLog(DEBUG, area, format, args...)
	}
}

// Info writes an info entry for area.
func Info(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(INFO, area) {
		globalLogger.writeLog(INFO, area, format, args...)
	}
}

// Warn writes a warning entry for area.
func Warn(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(WARN, area) {
		globalLogger.writeLog(WARN, area, format, args...)
	}
}

// Error writes an error entry for area.
func Error(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil && globalLogger.shouldLog(ERROR, area) {
		globalLogger.writeLog(ERROR, area, format, args...)
	}
}

// Fatal logs regardless of area settings and exits the process.
func Fatal(area LogArea, format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.writeLog(FATAL, area, format, args...)
	}
	log.Fatalf("[FATAL] [%s] %s", strings.ToUpper(string(area)), fmt.Sprintf(format, args...))
}

// Session logging
func SessionDebug(format string, args ...interface{}) { Debug(AreaSession, format, args...) }
func SessionInfo(format string, args ...interface{})  { Info(AreaSession, format, args...) }
func SessionWarn(format string, args ...interface{})  { Warn(AreaSession, format, args...) }
func SessionError(format string, args ...interface{}) { Error(AreaSession, format, args...) }

// Server logging
func ServerDebug(format string, args ...interface{}) { Debug(AreaServer, format, args...) }
func ServerInfo(format string, args ...interface{})  { Info(AreaServer, format, args...) }
func ServerWarn(format string, args ...interface{})  { Warn(AreaServer, format, args...) }
func ServerError(format string, args ...interface{}) { Error(AreaServer, format, args...) }

// Auth logging
func AuthDebug(format string, args ...interface{}) { Debug(AreaAuth, format, args...) }
func AuthInfo(format string, args ...interface{})  { Info(AreaAuth, format, args...) }
func AuthWarn(format string, args ...interface{})  { Warn(AreaAuth, format, args...) }
func AuthError(format string, args ...interface{}) { Error(AreaAuth, format, args...) }

// Security logging
func SecurityInfo(format string, args ...interface{}) { Info(AreaSecurity, format, args...) }
func SecurityWarn(format string, args ...interface{}) { Warn(AreaSecurity, format, args...) }

// Store logging
func StoreDebug(format string, args ...interface{}) { Debug(AreaStore, format, args...) }
func StoreInfo(format string, args ...interface{})  { Info(AreaStore, format, args...) }
func StoreError(format string, args ...interface{}) { Error(AreaStore, format, args...) }

// Config logging
func ConfigInfo(format string, args ...interface{}) { Info(AreaConfig, format, args...) }
func ConfigWarn(format string, args ...interface{}) { Warn(AreaConfig, format, args...) }

// ReloadConfig re-reads the [Debug] section.
func ReloadConfig() error {
	if globalLogger != nil {
		return globalLogger.loadConfig()
	}
	return fmt.Errorf("logger not initialized")
}

// EnableArea switches logging on for area.
func EnableArea(area LogArea) {
	if globalLogger != nil {
		if flag, exists := globalLogger.areaEnabled[area]; exists {
			atomic.StoreInt32(flag, 1)
		}
	}
}

// DisableArea switches logging off for area.
func DisableArea(area LogArea) {
	if globalLogger != nil {
		if flag, exists := globalLogger.areaEnabled[area]; exists {
			atomic.StoreInt32(flag, 0)
		}
	}
}

// GetAreaStatus reports whether area is currently logged.
func GetAreaStatus(area LogArea) bool {
	if globalLogger != nil {
		return globalLogger.isAreaEnabled(area)
	}
	return false
}

// ListAreas returns every known area.
func ListAreas() []LogArea {
	areas := make([]LogArea, len(allAreas))
	copy(areas, allAreas)
	return areas
}

// ParseArea maps a name such as "parser" onto its area.
func ParseArea(name string) (LogArea, bool) {
	for _, area := range allAreas {
		if strings.EqualFold(string(area), name) {
			return area, true
		}
	}
	return "", false
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// Close flushes and closes the log file.
func Close() {
	if globalLogger != nil {
		globalLogger.mutex.Lock()
		defer globalLogger.mutex.Unlock()

		if globalLogger.file != nil {
			globalLogger.file.Sync()
			globalLogger.file.Close()
			globalLogger.file = nil
		}
	}
}
