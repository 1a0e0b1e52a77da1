package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// fields records which top-level keys a payload carried.
type fields map[string]json.RawMessage

// decode unmarshals raw into the payload struct and returns its key set.
func decode(kind Kind, raw json.RawMessage, into any) (fields, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return f, nil
}

func (f fields) has(key string) bool {
	_, ok := f[key]
	return ok
}

func (f fields) null(key string) bool {
	v, ok := f[key]
	return ok && bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return slices.Clone(s)
}
