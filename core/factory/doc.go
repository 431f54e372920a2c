// Package factory is a generic registry used to build pluggable modules
// (metrics sinks, result stores) from configuration. A module is described by
// a type name and a map of raw settings which the factory decodes into its
// own struct.
//
//	reg := factory.NewRegistry[recorder.RecordStore]()
//	reg.Register("jsonl", func(conf map[string]any) (recorder.RecordStore, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return recorder.NewJSONLStore(c.Path)
//	})
package factory
