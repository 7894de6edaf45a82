package qflash

// Logger receives diagnostic messages from the controller. Integrate any
// logging framework by implementing these three methods; keys and values
// alternate in kv.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Error(msg string, kv ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
