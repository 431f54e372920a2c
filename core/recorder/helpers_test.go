package recorder

import (
	"fmt"
	"os"
	"sync"

	"github.com/kilianp07/dernego/core/factory"
)

func appendRaw(path, s string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(s); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func factoryConfig(typ string, conf map[string]any) factory.ModuleConfig {
	return factory.ModuleConfig{Type: typ, Conf: conf}
}

type warnLogger struct {
	mu    sync.Mutex
	warns []string
}

func (*warnLogger) Debugf(string, ...any)         {}
func (*warnLogger) Debugw(string, map[string]any) {}
func (*warnLogger) Infof(string, ...any)          {}
func (*warnLogger) Errorf(string, ...any)         {}
func (l *warnLogger) Warnf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
}
