package sessions

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// Keys used on the session mapping.
const (
	KeyTokenCache  = "token_cache"
	KeyFlowCache   = "flow_cache"
	KeyRedirect    = "redirect"
	KeyMail        = "mail"
	KeyName        = "name"
	KeyManagerMail = "m_mail"
	KeyManagerName = "m_name"
)

// ProfileKeys are the identity attributes a fully logged-in session carries.
var ProfileKeys = []string{KeyMail, KeyName, KeyManagerMail, KeyManagerName}

// Session is a mutable string-keyed mapping persisted across requests.
// An absent key means unset; reads never fail.
type Session struct {
	mu      sync.Mutex
	id      string
	created time.Time
	isNew   bool
	changed bool
	values  map[string]any
}

// NewSession creates a session from existing values. A nil map starts empty.
func NewSession(id string, created time.Time, values map[string]any, isNew bool) *Session {
	if values == nil {
		values = map[string]any{}
	}
	return &Session{id: id, created: created, values: values, isNew: isNew}
}

// FromMap is a convenience for a detached, new session over values.
func FromMap(values map[string]any) *Session {
	return NewSession("", time.Now(), values, true)
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Created() time.Time { return s.created }
func (s *Session) IsNew() bool        { return s.isNew }

// Changed reports whether the mapping was mutated since it was loaded.
func (s *Session) Changed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the string at key, or "" when absent or not a string.
func (s *Session) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

func (s *Session) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.changed = true
}

func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.changed = true
	}
}

// Pop removes and returns the value at key.
func (s *Session) Pop(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if ok {
		delete(s.values, key)
		s.changed = true
	}
	return v, ok
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) > 0 {
		s.values = map[string]any{}
		s.changed = true
	}
}

func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.values)
}

// Keys returns the keys in sorted order.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Values returns a shallow copy of the mapping.
func (s *Session) Values() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

// Record returns the persisted form of the session.
func (s *Session) Record() Record {
	return Record{Created: s.created.Unix(), Values: s.Values()}
}

func (s *Session) markSaved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changed = false
	s.isNew = false
}
