package models

import (
	"encoding/json"
	"time"
)

// Session represents a conversation thread and its full message history.
// Unknown JSON fields survive a load/save round trip via Extra.
type Session struct {
	ID        string     `json:"id"`
	Title     string     `json:"title,omitempty"`
	WorkDir   string     `json:"work_dir,omitempty"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Extra map[string]json.RawMessage `json:"-"`
}

var knownSessionFields = map[string]bool{
	"id": true, "title": true, "work_dir": true, "messages": true,
	"created_at": true, "updated_at": true,
}

type sessionAlias Session

// UnmarshalJSON decodes the known fields and captures everything else in Extra.
func (s *Session) UnmarshalJSON(data []byte) error {
	var alias sessionAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if knownSessionFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		alias.Extra = raw
	}
	*s = Session(alias)
	return nil
}

// MarshalJSON emits the known fields plus any preserved unknown fields.
func (s Session) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(sessionAlias(s))
	if err != nil {
		return nil, err
	}
	if len(s.Extra) == 0 {
		return data, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(data, &merged); err != nil {
		return nil, err
	}
	for key, value := range s.Extra {
		if _, ok := merged[key]; !ok {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// Snapshot returns a deep copy safe for concurrent readers.
func (s *Session) Snapshot() *Session {
	copySession := *s
	copySession.Messages = make([]*Message, len(s.Messages))
	for i, msg := range s.Messages {
		m := *msg
		if len(msg.Blocks) > 0 {
			m.Blocks = append([]ContentBlock(nil), msg.Blocks...)
		}
		copySession.Messages[i] = &m
	}
	if len(s.Extra) > 0 {
		copySession.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			copySession.Extra[k] = v
		}
	}
	return &copySession
}
