package editor

import (
	"bytes"
	"encoding/json"

	"github.com/msageha/psstudio/internal/model"
)

// ParseFieldValue interprets form input: anything that parses as JSON keeps its JSON
// type, everything else is a plain string.
func ParseFieldValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return model.Normalize(v)
}
