package sessions

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the stored form of a session: {"created": <unix>, "session": {...}}.
type Record struct {
	Created int64          `json:"created"`
	Values  map[string]any `json:"session"`
}

// Encode marshals the record to JSON.
func (r Record) Encode() ([]byte, error) {
	if r.Values == nil {
		r.Values = map[string]any{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal session record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a stored record. "created" must be an integer and
// "session" an object.
func DecodeRecord(data []byte) (Record, error) {
	var raw struct {
		Created json.RawMessage `json:"created"`
		Values  map[string]any  `json:"session"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, fmt.Errorf("unmarshal session record: %w", err)
	}
	if len(raw.Created) == 0 {
		return Record{}, fmt.Errorf("session record: missing created")
	}
	var created int64
	if err := json.Unmarshal(raw.Created, &created); err != nil {
		return Record{}, fmt.Errorf("session record: created is not an integer: %w", err)
	}
	if raw.Values == nil {
		return Record{}, fmt.Errorf("session record: missing session object")
	}
	return Record{Created: created, Values: raw.Values}, nil
}

// CreatedTime returns Created as a time.
func (r Record) CreatedTime() time.Time {
	return time.Unix(r.Created, 0)
}
