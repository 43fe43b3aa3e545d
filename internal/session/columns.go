package session

import (
	"encoding/json"
	"fmt"
)

// Columns is the JSON encoding of a session's structured fields, shared by
// the SQL stores.
type Columns struct {
	Caller   []byte
	Facts    []byte
	Triage   []byte
	Safety   []byte
	Dispatch []byte // nil when no recommendation is active
	Prior    []byte
}

// EncodeColumns marshals the structured fields of s.
func EncodeColumns(s *Session) (Columns, error) {
	var (
		c   Columns
		err error
	)
	if c.Caller, err = json.Marshal(nonNil(s.Caller)); err != nil {
		return Columns{}, fmt.Errorf("marshal caller: %w", err)
	}
	if c.Facts, err = json.Marshal(nonNil(s.Facts)); err != nil {
		return Columns{}, fmt.Errorf("marshal facts: %w", err)
	}
	if c.Triage, err = json.Marshal(s.Triage); err != nil {
		return Columns{}, fmt.Errorf("marshal triage: %w", err)
	}
	if c.Safety, err = json.Marshal(s.Safety); err != nil {
		return Columns{}, fmt.Errorf("marshal safety: %w", err)
	}
	if s.Dispatch != nil {
		if c.Dispatch, err = json.Marshal(s.Dispatch); err != nil {
			return Columns{}, fmt.Errorf("marshal dispatch: %w", err)
		}
	}
	prior := s.Prior
	if prior == nil {
		prior = []DispatchRecommendation{}
	}
	if c.Prior, err = json.Marshal(prior); err != nil {
		return Columns{}, fmt.Errorf("marshal prior dispatches: %w", err)
	}
	return c, nil
}

// Decode unmarshals c into s. Empty collections decode to nil, except Facts
// which is always non-nil.
func (c Columns) Decode(s *Session) error {
	if err := json.Unmarshal(c.Caller, &s.Caller); err != nil {
		return fmt.Errorf("unmarshal caller: %w", err)
	}
	if len(s.Caller) == 0 {
		s.Caller = nil
	}
	s.Facts = make(map[string]string)
	if err := json.Unmarshal(c.Facts, &s.Facts); err != nil {
		return fmt.Errorf("unmarshal facts: %w", err)
	}
	if err := json.Unmarshal(c.Triage, &s.Triage); err != nil {
		return fmt.Errorf("unmarshal triage: %w", err)
	}
	if err := json.Unmarshal(c.Safety, &s.Safety); err != nil {
		return fmt.Errorf("unmarshal safety: %w", err)
	}
	s.Dispatch = nil
	if len(c.Dispatch) > 0 {
		s.Dispatch = &DispatchRecommendation{}
		if err := json.Unmarshal(c.Dispatch, s.Dispatch); err != nil {
			return fmt.Errorf("unmarshal dispatch: %w", err)
		}
	}
	if err := json.Unmarshal(c.Prior, &s.Prior); err != nil {
		return fmt.Errorf("unmarshal prior dispatches: %w", err)
	}
	if len(s.Prior) == 0 {
		s.Prior = nil
	}
	return nil
}

func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
