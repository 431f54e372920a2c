package recorder

import (
	"sync"

	"github.com/kilianp07/dernego/core/factory"
	"github.com/kilianp07/dernego/core/logger"
)

var storeRegistry = factory.NewRegistry[RecordStore]()

var (
	logMu  sync.RWMutex
	pkgLog logger.Logger = nopLogger{}
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}

// SetLogger sets the logger used by stores built through Open.
func SetLogger(l logger.Logger) {
	if l == nil {
		l = nopLogger{}
	}
	logMu.Lock()
	pkgLog = l
	logMu.Unlock()
}

func log() logger.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return pkgLog
}

func init() {
	mustRegister("jsonl", func(conf map[string]any) (RecordStore, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewJSONLStore(c.Path)
	})
	mustRegister("jsonl_rotating", func(conf map[string]any) (RecordStore, error) {
		c := struct {
			Path       string `json:"path"`
			MaxSize    int    `json:"max_size_mb"`
			MaxBackups int    `json:"max_backups"`
			MaxAge     int    `json:"max_age_days"`
		}{MaxSize: 10}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		if c.MaxBackups > 0 || c.MaxAge > 0 {
			log().Warnf("jsonl_rotating %s: max_backups=%d max_age_days=%d delete rotated files and the records they hold",
				c.Path, c.MaxBackups, c.MaxAge)
		}
		return NewRotatingJSONLStore(c.Path, c.MaxSize, c.MaxBackups, c.MaxAge)
	})
	mustRegister("sqlite", func(conf map[string]any) (RecordStore, error) {
		var c struct {
			Path string `json:"path"`
		}
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewSQLiteStore(c.Path)
	})
}

func mustRegister(name string, f factory.Factory[RecordStore]) {
	if err := storeRegistry.Register(name, f); err != nil {
		panic(err)
	}
}

// Backends lists the registered store types.
func Backends() []string { return storeRegistry.Names() }

// Open builds the record store described by cfg.
func Open(cfg factory.ModuleConfig) (RecordStore, error) {
	return storeRegistry.Create(cfg)
}
