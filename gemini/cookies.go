package gemini

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Required cookie names. Matching is case-insensitive because browser exports
// disagree on capitalization.
const (
	CookiePSID   = "__Secure-1PSID"
	CookiePSIDTS = "__Secure-1PSIDTS"
)

// Credentials is an immutable snapshot of the two session cookies required by
// every authenticated call. Snapshots are replaced wholesale on rotation and
// never partially updated.
type Credentials struct {
	Secure1PSID   string
	Secure1PSIDTS string
}

// Valid reports whether both cookies are present.
func (c Credentials) Valid() bool {
	return c.Secure1PSID != "" && c.Secure1PSIDTS != ""
}

// CookieMap renders the credentials as request cookies.
func (c Credentials) CookieMap() map[string]string {
	return map[string]string{
		CookiePSID:   c.Secure1PSID,
		CookiePSIDTS: c.Secure1PSIDTS,
	}
}

// LoadCookies reads a browser cookie export: a JSON list of {name, value}
// objects. It locates the two required cookies case-insensitively and ignores
// everything else. Missing file, malformed JSON, or a missing cookie each fail
// with a descriptive error; partial credentials are never returned.
func LoadCookies(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("cookie file not found at path %s: %w", path, err)
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return Credentials{}, fmt.Errorf("invalid cookie file %s: expected a JSON list of {name, value} objects", path)
	}
	var creds Credentials
	parsed.ForEach(func(_, item gjson.Result) bool {
		name := item.Get("name").String()
		switch {
		case strings.EqualFold(name, CookiePSID):
			creds.Secure1PSID = item.Get("value").String()
		case strings.EqualFold(name, CookiePSIDTS):
			creds.Secure1PSIDTS = item.Get("value").String()
		}
		return true
	})
	if !creds.Valid() {
		return Credentials{}, fmt.Errorf("required cookies (%s, %s) not found in %s", CookiePSID, CookiePSIDTS, path)
	}
	return creds, nil
}

// PersistRotatedCookie writes a rotated __Secure-1PSIDTS value back into the
// cookie file in place, so a restarted process picks up the fresh credential.
// The rest of the file is left untouched.
func PersistRotatedCookie(path string, newTS string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cookie file not found at path %s: %w", path, err)
	}
	idx := -1
	gjson.ParseBytes(data).ForEach(func(key, item gjson.Result) bool {
		if strings.EqualFold(item.Get("name").String(), CookiePSIDTS) {
			idx = int(key.Int())
			return false
		}
		return true
	})
	if idx < 0 {
		return fmt.Errorf("cookie %s not found in %s", CookiePSIDTS, path)
	}
	updated, err := sjson.SetBytes(data, strconv.Itoa(idx)+".value", newTS)
	if err != nil {
		return fmt.Errorf("failed to update cookie file: %w", err)
	}
	return os.WriteFile(path, updated, 0o600)
}

// RotateFunc exchanges the current credentials for a fresh __Secure-1PSIDTS
// value via the rotate-cookies endpoint.
type RotateFunc func(ctx context.Context, current Credentials) (string, error)

// CookieStore holds the process-wide credential snapshot. Readers always see a
// consistent snapshot; rotation publishes a new snapshot atomically under the
// store lock and bumps a version counter so concurrent rotation attempts are
// coalesced into a single request.
type CookieStore struct {
	mu        sync.Mutex
	snapshot  Credentials
	version   uint64
	rotatedAt time.Time
	interval  time.Duration

	rotateMu sync.Mutex
	rotate   RotateFunc
	onRotate func(newTS string)
}

// DefaultRotationInterval is the proactive rotation period when none is
// configured.
const DefaultRotationInterval = time.Hour

// NewCookieStore seeds the store with loaded credentials. interval <= 0 falls
// back to DefaultRotationInterval.
func NewCookieStore(creds Credentials, interval time.Duration, rotate RotateFunc) *CookieStore {
	if interval <= 0 {
		interval = DefaultRotationInterval
	}
	return &CookieStore{
		snapshot:  creds,
		rotatedAt: time.Now(),
		interval:  interval,
		rotate:    rotate,
	}
}

// OnRotate registers a hook invoked with the new __Secure-1PSIDTS after every
// successful rotation, used to persist the value outside the store.
func (s *CookieStore) OnRotate(fn func(newTS string)) {
	s.mu.Lock()
	s.onRotate = fn
	s.mu.Unlock()
}

// Snapshot returns the current credentials.
func (s *CookieStore) Snapshot() Credentials {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Version returns the snapshot version counter.
func (s *CookieStore) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Replace publishes an externally sourced snapshot (e.g. the cookie file was
// rewritten on disk). Invalid credentials are rejected.
func (s *CookieStore) Replace(creds Credentials) error {
	if !creds.Valid() {
		return &AuthError{Msg: "refusing to replace credentials with an incomplete snapshot"}
	}
	s.mu.Lock()
	s.snapshot = creds
	s.version++
	s.rotatedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Stale reports whether the credentials are due for proactive rotation.
func (s *CookieStore) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.rotatedAt) >= s.interval
}

// Rotate exchanges the current credentials for fresh ones. Concurrent calls
// are coalesced: at most one rotation request is in flight, and callers that
// arrive while it runs observe the snapshot it produced instead of issuing
// their own. A failed rotation leaves the previous snapshot in place.
func (s *CookieStore) Rotate(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	startVersion := s.version
	current := s.snapshot
	s.mu.Unlock()

	s.rotateMu.Lock()
	defer s.rotateMu.Unlock()

	s.mu.Lock()
	if s.version != startVersion {
		// Someone else rotated while we waited; reuse their result.
		snap := s.snapshot
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	if s.rotate == nil {
		return Credentials{}, &AuthError{Msg: "no rotation function configured"}
	}
	newTS, err := s.rotate(ctx, current)
	if err != nil {
		return Credentials{}, err
	}
	if newTS == "" {
		return Credentials{}, &AuthError{Msg: "rotate-cookies response did not include a new " + CookiePSIDTS}
	}

	next := Credentials{Secure1PSID: current.Secure1PSID, Secure1PSIDTS: newTS}
	s.mu.Lock()
	s.snapshot = next
	s.version++
	s.rotatedAt = time.Now()
	hook := s.onRotate
	s.mu.Unlock()
	if hook != nil {
		hook(newTS)
	}
	return next, nil
}
