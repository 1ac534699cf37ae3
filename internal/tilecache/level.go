package tilecache

import "fmt"

// Level is the severity of a log record.
type Level int

// Log levels, from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelNotice
	LevelWarn
	LevelError
	LevelCrit
	LevelAlert
	LevelEmerg
)

var levelNames = [...]string{"DEBUG", "INFO", "NOTICE", "WARN", "ERROR", "CRIT", "ALERT", "EMERG"}

// LogLevels maps level names to their numeric values.
var LogLevels = map[string]Level{
	"DEBUG":  LevelDebug,
	"INFO":   LevelInfo,
	"NOTICE": LevelNotice,
	"WARN":   LevelWarn,
	"ERROR":  LevelError,
	"CRIT":   LevelCrit,
	"ALERT":  LevelAlert,
	"EMERG":  LevelEmerg,
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelEmerg {
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
	return levelNames[l]
}
