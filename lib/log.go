package lib

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LogDirectory = "logs"
	LogFileName  = "log"
)

/*
	Leveled, colored logging to stdout and an auto-rotating log file. Each node in a process may carry its own
	prefix so interleaved localnet output stays readable
*/

func init() {
	color.NoColor = false
}

// LoggerI defines the interface for various logging levels and formatted output
type LoggerI interface {
	Debug(msg string)
	Info(msg string)
	Warn(msg string)
	Error(msg string)
	Fatal(msg string)
	Print(msg string)
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Printf(format string, args ...interface{})
}

const (
	DebugLevel int32 = -4
	InfoLevel  int32 = 0
	WarnLevel  int32 = 4
	ErrorLevel int32 = 8
)

var _ LoggerI = &Logger{}

// LoggerConfig holds the logging level, an optional prefix and the output writer
type LoggerConfig struct {
	Level  int32  `json:"level"`
	Prefix string `json:"prefix"`
	Out    io.Writer
}

// Logger writes leveled lines to the configured writer
type Logger struct {
	config LoggerConfig
	mu     sync.Mutex
}

func (l *Logger) Debug(msg string) { l.log(DebugLevel, color.BlueString, "DEBUG", msg) }
func (l *Logger) Info(msg string)  { l.log(InfoLevel, color.GreenString, "INFO", msg) }
func (l *Logger) Warn(msg string)  { l.log(WarnLevel, color.YellowString, "WARN", msg) }
func (l *Logger) Error(msg string) { l.log(ErrorLevel, color.RedString, "ERROR", msg) }
func (l *Logger) Print(msg string) { l.write(msg) }

// Fatal() logs an error message and terminates the program
func (l *Logger) Fatal(msg string) {
	l.write(colorLines(color.RedString, "FATAL: "+msg))
	os.Exit(1)
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *Logger) Infof(format string, args ...interface{})  { l.Info(fmt.Sprintf(format, args...)) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.Error(fmt.Sprintf(format, args...)) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.Fatal(fmt.Sprintf(format, args...)) }
func (l *Logger) Printf(format string, args ...interface{}) { l.write(fmt.Sprintf(format, args...)) }

// log() filters by level and writes the colored message
func (l *Logger) log(level int32, paint func(string, ...interface{}) string, tag, msg string) {
	if l.config.Level > level {
		return
	}
	if l.config.Prefix != "" {
		msg = "[" + l.config.Prefix + "] " + msg
	}
	l.write(colorLines(paint, tag+": "+msg))
}

// write() outputs the message with a timestamp, one write per line so concurrent loggers don't interleave
func (l *Logger) write(msg string) {
	ts := color.HiBlackString(time.Now().Format(time.StampMilli))
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := fmt.Fprintf(l.config.Out, "%s %s\n", ts, msg); err != nil {
		fmt.Println("logger write failed:", err)
	}
}

// NewLogger() creates a logger. Without an explicit writer it logs to stdout and a rotating file in the data dir
func NewLogger(config LoggerConfig, dataDirPath ...string) LoggerI {
	if config.Out == nil {
		dir := DefaultDataDirPath()
		if len(dataDirPath) != 0 && dataDirPath[0] != "" {
			dir = dataDirPath[0]
		}
		if err := os.MkdirAll(filepath.Join(dir, LogDirectory), os.ModePerm); err != nil {
			panic(err)
		}
		config.Out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   filepath.Join(dir, LogDirectory, LogFileName),
			MaxSize:    10, // megabytes
			MaxBackups: 50,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	return &Logger{config: config}
}

// NewDefaultLogger() logs everything to stdout
func NewDefaultLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: os.Stdout})
}

// NewNullLogger() discards all output
func NewNullLogger() LoggerI {
	return NewLogger(LoggerConfig{Level: DebugLevel, Out: io.Discard})
}

// ParseLogLevel() converts a config string into a level; unknown strings log everything
func ParseLogLevel(s string) int32 {
	switch s = strings.ToLower(s); {
	case strings.HasPrefix(s, "deb"):
		return DebugLevel
	case strings.HasPrefix(s, "inf"):
		return InfoLevel
	case strings.HasPrefix(s, "war"):
		return WarnLevel
	case strings.HasPrefix(s, "err"):
		return ErrorLevel
	default:
		return DebugLevel
	}
}

// colorLines() paints each line separately so terminals don't bleed color across line breaks
func colorLines(paint func(string, ...interface{}) string, msg string) string {
	lines := strings.Split(msg, "\n")
	for i, line := range lines {
		lines[i] = paint("%s", line)
	}
	return strings.Join(lines, "\n")
}
