package watcher

// LogLevel is the severity of a diagnostic line.
type LogLevel int

const (
	LevelTrace LogLevel = iota
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "trace"
	}
}

// LogMessage is a diagnostic line for the consumer.
type LogMessage struct {
	Level   LogLevel
	Message string
	// Root is the watched path the message concerns, if any.
	Root string
}

// Sink receives everything the coordinator produces. Methods may be called
// from multiple goroutines.
type Sink interface {
	OnLog(msg LogMessage)
	OnEventBatch(events []FileChangeEvent)
	OnWatchFailed(req WatchRequest)
}
