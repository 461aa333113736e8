package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-session/authsession"
	"github.com/jrsteele09/go-oauth-session/identity"
	"github.com/jrsteele09/go-oauth-session/internal/errors"
	"github.com/jrsteele09/go-oauth-session/sessions"
)

// DefaultMaxAge is how long Clean keeps sessions.
const DefaultMaxAge = 90 * 24 * time.Hour

// Entry is one scanned session record. Unreadable records have Created 0 and
// empty Values.
type Entry struct {
	Key     string
	Created int64
	Values  map[string]any
}

// IterOptions filters Iter.
type IterOptions struct {
	// Match requires each value to be a substring of the string stored at its key
	Match map[string]string
	// KeyMatch is the SCAN pattern, "<cookie>*" when empty
	KeyMatch string
}

func (o IterOptions) matches(values map[string]any) bool {
	for k, want := range o.Match {
		got, ok := values[k].(string)
		if !ok || !strings.Contains(got, want) {
			return false
		}
	}
	return true
}

// Iter scans the session keys. A Redis failure is yielded once and ends the scan.
func (s *Store) Iter(ctx context.Context, opts IterOptions) iter.Seq2[Entry, error] {
	pattern := opts.KeyMatch
	if pattern == "" {
		pattern = s.prefix + "*"
	}
	return func(yield func(Entry, error) bool) {
		it := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
		for it.Next(ctx) {
			key := it.Val()
			data, err := s.client.Get(ctx, key).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				yield(Entry{}, fmt.Errorf("[Store Iter] redis get %s: %w", key, err))
				return
			}
			created, values := parseLenient(data)
			if len(opts.Match) > 0 && !opts.matches(values) {
				continue
			}
			if !yield(Entry{Key: key, Created: created, Values: values}, nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(Entry{}, fmt.Errorf("[Store Iter] redis scan: %w", err))
		}
	}
}

// parseLenient accepts any numeric created value and falls back to an empty
// record on anything unexpected.
func parseLenient(data string) (int64, map[string]any) {
	var raw struct {
		Created json.Number    `json:"created"`
		Session map[string]any `json:"session"`
	}
	if err := json.Unmarshal([]byte(data), &raw); err != nil || raw.Session == nil {
		return 0, map[string]any{}
	}
	created, err := raw.Created.Int64()
	if err != nil {
		f, ferr := raw.Created.Float64()
		if ferr != nil {
			return 0, map[string]any{}
		}
		created = int64(f)
	}
	return created, raw.Session
}

// CleanOptions tunes Clean.
type CleanOptions struct {
	// MaxAge defaults to DefaultMaxAge
	MaxAge time.Duration
	// ExpectedKeys defaults to sessions.ProfileKeys
	ExpectedKeys []string
}

// CleanResult counts what Clean did.
type CleanResult struct {
	Removed int
	Kept    int
}

// Clean deletes sessions created before now-MaxAge and sessions missing any of
// the expected keys.
func (s *Store) Clean(ctx context.Context, opts CleanOptions) (CleanResult, error) {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	expected := opts.ExpectedKeys
	if len(expected) == 0 {
		expected = sessions.ProfileKeys
	}
	expire := s.nowFunc().Add(-maxAge).Unix()

	var res CleanResult
	var expired, incomplete int
	defer func() {
		s.metrics.Removed("expired", expired)
		s.metrics.Removed("incomplete", incomplete)
		if res.Removed > 0 {
			log.Info().Int("removed", res.Removed).Int("kept", res.Kept).Msg("Sessions removed")
		} else {
			log.Debug().Int("kept", res.Kept).Msg("No sessions removed")
		}
	}()

	for e, err := range s.Iter(ctx, IterOptions{}) {
		if err != nil {
			return res, err
		}
		old := e.Created < expire
		missing := slices.ContainsFunc(expected, func(k string) bool {
			_, ok := e.Values[k]
			return !ok
		})
		if !old && !missing {
			res.Kept++
			continue
		}
		if err := s.client.Del(ctx, e.Key).Err(); err != nil {
			return res, fmt.Errorf("[Store Clean] redis del %s: %w", e.Key, err)
		}
		res.Removed++
		if old {
			expired++
		} else {
			incomplete++
		}
	}
	return res, nil
}

// RemoveInvalid deletes records whose JSON lacks an integer "created" or an
// object "session". It returns the number removed.
func (s *Store) RemoveInvalid(ctx context.Context) (int, error) {
	removed := 0
	defer func() { s.metrics.Removed("invalid", removed) }()

	it := s.client.Scan(ctx, 0, s.prefix+"*", scanCount).Iterator()
	for it.Next(ctx) {
		key := it.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("[Store RemoveInvalid] redis get %s: %w", key, err)
		}
		if _, err := sessions.DecodeRecord(data); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Removing session")
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, fmt.Errorf("[Store RemoveInvalid] redis del %s: %w", key, err)
			}
			removed++
		}
	}
	if err := it.Err(); err != nil {
		return removed, fmt.Errorf("[Store RemoveInvalid] redis scan: %w", err)
	}
	return removed, nil
}

// FindSession returns the first session whose mail contains email. With a
// scope, the session's token must also have been granted it (case-insensitive).
// Token cache changes made through the returned session are written back to
// Redis, keeping the key's TTL.
func (s *Store) FindSession(ctx context.Context, email, scope string, factory *authsession.Factory) (*authsession.OAuthSession, error) {
	checked := 0
	for e, err := range s.Iter(ctx, IterOptions{Match: map[string]string{sessions.KeyMail: email}}) {
		if err != nil {
			return nil, err
		}
		checked++
		if scope != "" && !hasScope(e.Values, scope, factory) {
			continue
		}
		return s.wrap(e, factory)
	}
	if scope == "" {
		return nil, fmt.Errorf("%w: session for %s", errors.ErrSessionNotFound, email)
	}
	return nil, fmt.Errorf("%w: session for %s with scope %s (%d checked)", errors.ErrSessionNotFound, email, scope, checked)
}

// hasScope reports whether the token cache in values was granted scope. Caches
// the provider cannot open are searched as plain text.
func hasScope(values map[string]any, scope string, factory *authsession.Factory) bool {
	blob, _ := values[sessions.KeyTokenCache].(string)
	if blob == "" {
		return false
	}
	scope = strings.ToLower(scope)
	cache := factory.Provider.NewTokenCache()
	if err := cache.Deserialize(blob); err != nil {
		if identity.IsSealed(blob) {
			return false
		}
		return strings.Contains(strings.ToLower(blob), scope)
	}
	tok, ok := cache.Token()
	if !ok {
		return false
	}
	for _, granted := range tok.Scopes {
		if strings.Contains(strings.ToLower(granted), scope) {
			return true
		}
	}
	return false
}

func (s *Store) wrap(e Entry, factory *authsession.Factory) (*authsession.OAuthSession, error) {
	key, created := e.Key, e.Created
	ses := sessions.NewSession(s.ID(key), time.Unix(created, 0), e.Values, false)
	return factory.New(ses, authsession.WithSave(func(ctx context.Context, ses *sessions.Session) error {
		data, err := sessions.Record{Created: created, Values: ses.Values()}.Encode()
		if err != nil {
			return err
		}
		return s.client.Set(ctx, key, data, redis.KeepTTL).Err()
	}))
}

// GetJSON decodes the JSON value at key into v. It reports false when the key
// does not exist.
func (s *Store) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("[Store GetJSON] redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("[Store GetJSON] %s: %w", key, err)
	}
	return true, nil
}

// GetString returns the string value at key. It reports false when the key
// does not exist or holds another type.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE"):
		log.Warn().Str("key", key).Msg("Unexpected type for key")
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("[Store GetString] redis get %s: %w", key, err)
	}
	return val, true, nil
}

// SyncSet makes the Redis set at key hold exactly members.
func (s *Store) SyncSet(ctx context.Context, key string, members []string) error {
	current, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("[Store SyncSet] redis smembers %s: %w", key, err)
	}

	var remove, add []any
	for _, m := range current {
		if !slices.Contains(members, m) {
			remove = append(remove, m)
		}
	}
	for _, m := range members {
		if !slices.Contains(current, m) && !slices.Contains(add, any(m)) {
			add = append(add, m)
		}
	}

	if len(remove) > 0 {
		log.Warn().Str("key", key).Interface("members", remove).Msg("Removing set members")
		if err := s.client.SRem(ctx, key, remove...).Err(); err != nil {
			return fmt.Errorf("[Store SyncSet] redis srem %s: %w", key, err)
		}
	}
	if len(add) > 0 {
		log.Info().Str("key", key).Interface("members", add).Msg("Adding set members")
		if err := s.client.SAdd(ctx, key, add...).Err(); err != nil {
			return fmt.Errorf("[Store SyncSet] redis sadd %s: %w", key, err)
		}
	}
	return nil
}

// ScanKeys lists the keys matching pattern.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	it := s.client.Scan(ctx, 0, pattern, scanCount).Iterator()
	for it.Next(ctx) {
		keys = append(keys, it.Val())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("[Store ScanKeys] redis scan: %w", err)
	}
	return keys, nil
}
