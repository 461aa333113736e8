package sessions

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/internal/errors"
)

// Backend persists session records by session identifier.
type Backend interface {
	// Load returns errors.ErrSessionNotFound when no record exists
	Load(ctx context.Context, id string) (Record, error)

	// Save stores the record; ttl <= 0 means no expiry
	Save(ctx context.Context, id string, rec Record, ttl time.Duration) error

	// Delete removes a record, deleting a missing record is not an error
	Delete(ctx context.Context, id string) error
}

// Accessor obtains the request scoped session.
type Accessor interface {
	GetOrCreate(r *http.Request) (*Session, error)
	New(r *http.Request) (*Session, error)
}

// CookieOptions configures the session identifier cookie.
type CookieOptions struct {
	Name     string
	Domain   string
	Path     string
	MaxAge   time.Duration
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// DefaultCookieOptions matches a cross-site login flow with form_post callbacks.
func DefaultCookieOptions(name, domain string, maxAge time.Duration) CookieOptions {
	return CookieOptions{
		Name:     name,
		Domain:   domain,
		Path:     "/",
		MaxAge:   maxAge,
		Secure:   true,
		HTTPOnly: true,
		SameSite: http.SameSiteNoneMode,
	}
}

// Manager implements Accessor on top of a Backend, identified by a cookie.
type Manager struct {
	backend Backend
	cookie  CookieOptions
	nowFunc func() time.Time
	newID   func() string
}

var _ Accessor = (*Manager)(nil)

type ManagerOption func(*Manager)

// WithNowFunc overrides the clock used for the created timestamp.
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithIDFunc overrides session identifier generation.
func WithIDFunc(f func() string) ManagerOption {
	return func(m *Manager) {
		m.newID = f
	}
}

func NewManager(backend Backend, cookie CookieOptions, opts ...ManagerOption) *Manager {
	if cookie.Path == "" {
		cookie.Path = "/"
	}
	m := &Manager{
		backend: backend,
		cookie:  cookie,
		nowFunc: time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CookieName is the name of the session identifier cookie.
func (m *Manager) CookieName() string {
	return m.cookie.Name
}

// Backend returns the storage the manager persists to.
func (m *Manager) Backend() Backend {
	return m.backend
}

type contextKey struct{}

type requestState struct {
	manager *Manager
	request *http.Request
	session *Session
	flushed bool
}

// Middleware makes the session available to GetOrCreate/New and persists it
// before the response headers are written.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := &requestState{manager: m}
		r = r.WithContext(context.WithValue(r.Context(), contextKey{}, state))
		state.request = r
		sw := &sessionWriter{ResponseWriter: w, state: state}
		next.ServeHTTP(sw, r)
		sw.flush()
	})
}

func (m *Manager) state(r *http.Request) (*requestState, error) {
	state, ok := r.Context().Value(contextKey{}).(*requestState)
	if !ok || state.manager != m {
		return nil, errors.ErrNoSessionMiddleware
	}
	return state, nil
}

// GetOrCreate loads the session for the request cookie, or creates a new one.
func (m *Manager) GetOrCreate(r *http.Request) (*Session, error) {
	state, err := m.state(r)
	if err != nil {
		return nil, err
	}
	if state.session != nil {
		return state.session, nil
	}
	state.session = m.load(r)
	return state.session, nil
}

// New replaces the request session with a fresh, empty one.
func (m *Manager) New(r *http.Request) (*Session, error) {
	state, err := m.state(r)
	if err != nil {
		return nil, err
	}
	state.session = m.fresh()
	return state.session, nil
}

func (m *Manager) load(r *http.Request) *Session {
	cookie, err := r.Cookie(m.cookie.Name)
	if err != nil || cookie.Value == "" {
		return m.fresh()
	}
	rec, err := m.backend.Load(r.Context(), cookie.Value)
	if err != nil {
		if !errors.Is(err, errors.ErrSessionNotFound) {
			log.Warn().Err(err).Str("session", cookie.Value).Msg("Failed to load session")
		}
		return m.fresh()
	}
	return NewSession(cookie.Value, rec.CreatedTime(), rec.Values, false)
}

func (m *Manager) fresh() *Session {
	return NewSession(m.newID(), m.nowFunc(), nil, true)
}

// Save persists the session and sets (or expires) the cookie.
// Unchanged sessions are left alone.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if !s.Changed() && !(s.IsNew() && s.Len() > 0) {
		return nil
	}
	if s.Len() == 0 {
		if !s.IsNew() {
			if err := m.backend.Delete(ctx, s.ID()); err != nil {
				return fmt.Errorf("[Manager Save] delete session: %w", err)
			}
		}
		m.ExpireCookie(w)
		s.markSaved()
		return nil
	}
	if err := m.backend.Save(ctx, s.ID(), s.Record(), m.cookie.MaxAge); err != nil {
		return fmt.Errorf("[Manager Save] save session: %w", err)
	}
	m.setCookie(w, s.ID(), int(m.cookie.MaxAge.Seconds()))
	s.markSaved()
	return nil
}

// ExpireCookie clears the session cookie in the browser.
func (m *Manager) ExpireCookie(w http.ResponseWriter) {
	m.setCookie(w, "", -1)
}

func (m *Manager) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie.Name,
		Value:    value,
		Path:     m.cookie.Path,
		Domain:   m.cookie.Domain,
		MaxAge:   maxAge,
		Secure:   m.cookie.Secure,
		HttpOnly: m.cookie.HTTPOnly,
		SameSite: m.cookie.SameSite,
	})
}

func (st *requestState) flush(w http.ResponseWriter) {
	if st.flushed {
		return
	}
	st.flushed = true
	if st.session == nil {
		return
	}
	if err := st.manager.Save(st.request.Context(), w, st.session); err != nil {
		log.Err(err).Str("session", st.session.ID()).Msg("Failed to persist session")
	}
}
