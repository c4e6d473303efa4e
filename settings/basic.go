package settings

import "fmt"

// Basic is the typed view of the "setting.basic" subtree.
type Basic struct {
	MaxDownload       int   `json:"maxDownload"`
	MaxCacheSize      int64 `json:"maxCacheSize"`
	NotInterrupt      bool  `json:"notInterrupt"`
	AutoStopWhenError bool  `json:"autoStopWhenError"`
	Debug             Debug `json:"debug"`
}

// Debug holds the diagnostic logging switches.
type Debug struct {
	ErrorLog bool `json:"errorLog"`
	TraceLog bool `json:"traceLog"`
}

// DecodeBasic decodes a "setting.basic" value.
func DecodeBasic(v Value) (Basic, error) {
	var b Basic
	if err := v.Decode(&b); err != nil {
		return Basic{}, fmt.Errorf("decoding %s: %w", PathBasic, err)
	}
	return b, nil
}

// Basic returns the current basic settings.
func (s *Store) Basic() (Basic, error) {
	return DecodeBasic(s.Get(PathBasic))
}
