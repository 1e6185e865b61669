// Package logger wires the subsystem loggers used throughout the BDV
// server onto a single logs.Backend that tees to stdout and a rotating
// log file, following the teacher's logger.go.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/blocksettledb/bdv-server/logs"
	"github.com/jrick/logrotate/rotator"
)

type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		LogRotator.Write(p)
	}
	return len(p), nil
}

type errLogWriter struct{}

func (errLogWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		ErrLogRotator.Write(p)
	}
	return len(p), nil
}

// BackendLog is the shared backend every subsystem logger is created
// from. It must not be used to format log lines before InitLogRotators
// has been called.
var BackendLog = logs.NewBackend([]*logs.BackendWriter{
	logs.NewAllLevelsBackendWriter(logWriter{}),
	logs.NewErrorBackendWriter(errLogWriter{}),
})

// LogRotator and ErrLogRotator are the rotating file sinks; they must be
// closed on shutdown.
var (
	LogRotator    *rotator.Rotator
	ErrLogRotator *rotator.Rotator
	initiated     = false
)

// Subsystem tags, one per package that owns meaningful runtime state.
const (
	SubsystemKVStore   = "KVST"
	SubsystemHeaderIdx = "HIDX"
	SubsystemDBBuilder = "DBBL"
	SubsystemSSHScan   = "SSHS"
	SubsystemZCPool    = "ZCPL"
	SubsystemBroadcast = "BDCT"
	SubsystemSession   = "SESN"
	SubsystemNotify    = "NTFY"
	SubsystemMain      = "MAIN"
)

var subsystemLoggers = map[string]*logs.Logger{
	SubsystemKVStore:   BackendLog.Logger(SubsystemKVStore),
	SubsystemHeaderIdx: BackendLog.Logger(SubsystemHeaderIdx),
	SubsystemDBBuilder: BackendLog.Logger(SubsystemDBBuilder),
	SubsystemSSHScan:   BackendLog.Logger(SubsystemSSHScan),
	SubsystemZCPool:    BackendLog.Logger(SubsystemZCPool),
	SubsystemBroadcast: BackendLog.Logger(SubsystemBroadcast),
	SubsystemSession:   BackendLog.Logger(SubsystemSession),
	SubsystemNotify:    BackendLog.Logger(SubsystemNotify),
	SubsystemMain:      BackendLog.Logger(SubsystemMain),
}

// InitLogRotators must be called before any subsystem logger is used in
// anger; it wires the package-global rotators to the given files.
func InitLogRotators(logFile, errLogFile string) {
	initiated = true
	LogRotator = initLogRotator(logFile)
	ErrLogRotator = initLogRotator(errLogFile)
}

func initLogRotator(logFile string) *rotator.Rotator {
	logDir, _ := filepath.Split(logFile)
	err := os.MkdirAll(logDir, 0700)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	return r
}

// Get returns the logger registered for the given subsystem tag.
func Get(tag string) (*logs.Logger, bool) {
	l, ok := subsystemLoggers[tag]
	return l, ok
}

// SetLogLevel sets the level of a single subsystem. Unknown subsystems
// are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	l, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := logs.LevelFromString(logLevel)
	l.SetLevel(level)
}

// SetLogLevels sets every subsystem to the same level.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns the sorted list of known subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for id := range subsystemLoggers {
		subsystems = append(subsystems, id)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels parses a debuglevel flag value, either a single
// global level or a comma-separated SUBSYS=level list, and applies it.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(pair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", pair)
		}
		fields := strings.SplitN(pair, "=", 2)
		subsysID, logLevel := fields[0], fields[1]
		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}

// PickNoun returns the singular or plural form of a noun depending on n.
func PickNoun(n uint64, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}
