package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the read-only view of Settings consumed by the server and session layers.
type Config interface {
	EnvConfig
	OAuthConfig
	SessionConfig
	CorsConfig
}

type EnvConfig interface {
	GetPort() string
	GetEnv() string
	GetDomain() string
	GetRedisURL() string
}

type OAuthConfig interface {
	GetAppID() string
	GetAppSecret() string
	GetAuthority() string
	GetLogoutURI() string
	GetGraphURI() string
}

type SessionConfig interface {
	GetCookieName() string
	GetSessionMaxAge() time.Duration
	GetRequireHTTPS() bool
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// Settings holds the library configuration loaded from the environment.
type Settings struct {
	AppID             string
	AppSecret         string
	Authority         string
	Domain            string
	CookieName        string
	RedisURL          string
	LogoutURI         string
	GraphURI          string
	Port              string
	Env               string
	SessionMaxAgeDays int
	RequireHTTPS      bool
	AllowedOrigins    string

	loader *Loader
}

var _ Config = (*Settings)(nil)

// NewSettings returns Settings populated with defaults and its binding table.
func NewSettings() *Settings {
	s := &Settings{
		Domain:            "mydomain.com",
		CookieName:        "AUTH_SESSION",
		RedisURL:          "redis://redis1:6379",
		LogoutURI:         "https://login.microsoftonline.com/common/oauth2/",
		GraphURI:          "https://graph.microsoft.com/v1.0/",
		Port:              "8080",
		Env:               "DEV",
		SessionMaxAgeDays: 90,
		RequireHTTPS:      true,
	}
	s.loader = NewLoader(
		String(&s.AppID, "SP_APP_ID", Required),
		String(&s.AppSecret, "SP_APP_PW", Required|Hidden),
		String(&s.Authority, "SP_AUTHORITY", Required),
		String(&s.Domain, "DOMAIN", 0),
		String(&s.CookieName, "COOKIE_NAME", 0),
		String(&s.RedisURL, "REDIS", 0),
		String(&s.LogoutURI, "LOGOUT_URI", 0),
		String(&s.GraphURI, "GRAPH_URI", 0),
		String(&s.Port, "PORT", 0),
		String(&s.Env, "ENV", 0),
		Int(&s.SessionMaxAgeDays, "SESSION_MAX_AGE_DAYS", 0),
		Bool(&s.RequireHTTPS, "REQUIRE_HTTPS", 0),
		String(&s.AllowedOrigins, "ALLOWED_ORIGINS", 0),
	)
	return s
}

// Load populates the settings from <prefix><NAME> environment variables.
func (s *Settings) Load(prefix string, lookup LookupFunc) error {
	if err := s.loader.Load(prefix, lookup); err != nil {
		return fmt.Errorf("[Settings Load] %w", err)
	}
	return nil
}

// Dump returns the settings keyed by variable name, see Loader.Dump.
func (s *Settings) Dump(placeholder string) map[string]string {
	return s.loader.Dump(placeholder)
}

func (s *Settings) GetPort() string {
	port := s.Port
	if port != "" && port[0] != ':' {
		port = ":" + port
	}
	return port
}

func (s *Settings) GetEnv() string      { return s.Env }
func (s *Settings) GetDomain() string   { return s.Domain }
func (s *Settings) GetRedisURL() string { return s.RedisURL }

func (s *Settings) GetAppID() string     { return s.AppID }
func (s *Settings) GetAppSecret() string { return s.AppSecret }
func (s *Settings) GetAuthority() string { return s.Authority }
func (s *Settings) GetLogoutURI() string { return s.LogoutURI }
func (s *Settings) GetGraphURI() string  { return s.GraphURI }

func (s *Settings) GetCookieName() string { return s.CookieName }

func (s *Settings) GetSessionMaxAge() time.Duration {
	return time.Duration(s.SessionMaxAgeDays) * 24 * time.Hour
}

func (s *Settings) GetRequireHTTPS() bool { return s.RequireHTTPS }

// AllowedOrigins is a set of CORS origins.
type AllowedOrigins map[string]struct{}

func (a AllowedOrigins) IsAllowedOrigin(origin string) bool {
	_, ok := a[origin]
	return ok
}

func (a AllowedOrigins) String() string {
	var origins []string
	for k := range a {
		origins = append(origins, k)
	}
	return strings.Join(origins, ", ")
}

func (s *Settings) GetAllowedOrigins() AllowedOrigins {
	origins := AllowedOrigins{}
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins[o] = struct{}{}
		}
	}
	return origins
}

func (s *Settings) GetAllowedMethods() string {
	return "GET, POST, OPTIONS"
}

func (s *Settings) GetAllowedHeaders() string {
	return "Content-Type, Authorization"
}
