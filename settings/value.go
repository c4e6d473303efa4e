package settings

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Value is a read-only view of one node of the settings document.
type Value struct {
	r gjson.Result
}

// Exists reports whether the path resolved to a value.
func (v Value) Exists() bool { return v.r.Exists() }

func (v Value) Bool() bool { return v.r.Bool() }

func (v Value) Int() int64 { return v.r.Int() }

func (v Value) String() string { return v.r.String() }

// Raw returns the JSON text of the value, or "" if it does not exist.
func (v Value) Raw() string { return v.r.Raw }

// Decode unmarshals the value into out.
func (v Value) Decode(out any) error {
	if !v.r.Exists() {
		return nil
	}
	return json.Unmarshal([]byte(v.r.Raw), out)
}
