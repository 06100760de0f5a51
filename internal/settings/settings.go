// Package settings resolves runtime settings by key. Values come from an
// optional overrides file (YAML or JSON) layered over defaults taken from
// the process configuration.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/prettydl/prettydl/internal/config"
)

// Setting keys.
const (
	KeyAccessTokenExpiry       = "ACCESS_TOKEN_EXPIRY"
	KeyRefreshTokenExpiry      = "REFRESH_TOKEN_EXPIRY"
	KeyShortRefreshTokenExpiry = "SHORT_REFRESH_TOKEN_EXPIRY"
	KeyDefaultDailyQuota       = "default-daily-quota"
	KeyDefaultWeeklyQuota      = "default-weekly-quota"
	KeyDefaultMonthlyQuota     = "default-monthly-quota"
	KeyRPID                    = "RP_ID"
	KeyRPName                  = "RP_NAME"
	KeyRPOrigin                = "RP_ORIGIN"
)

// Source is a key-value view of settings.
type Source interface {
	Get(key string) (string, bool)
}

// Defaults builds the default settings from the loaded configuration.
func Defaults(cfg *config.Config) map[string]string {
	return map[string]string{
		KeyAccessTokenExpiry:       strconv.Itoa(cfg.AccessTokenExpiry),
		KeyRefreshTokenExpiry:      strconv.Itoa(cfg.RefreshTokenExpiry),
		KeyShortRefreshTokenExpiry: strconv.Itoa(cfg.ShortRefreshTokenExpiry),
		KeyDefaultDailyQuota:       strconv.Itoa(cfg.DefaultDailyQuota),
		KeyDefaultWeeklyQuota:      strconv.Itoa(cfg.DefaultWeeklyQuota),
		KeyDefaultMonthlyQuota:     strconv.Itoa(cfg.DefaultMonthlyQuota),
		KeyRPID:                    cfg.RPID,
		KeyRPName:                  cfg.RPName,
		KeyRPOrigin:                cfg.RPOrigin,
	}
}

// Provider serves settings from an overrides file on top of defaults. The
// file is re-read whenever its modification time changes.
type Provider struct {
	defaults map[string]string
	path     string

	mu        sync.RWMutex
	overrides map[string]string
	modTime   time.Time
}

// New creates a Provider. An empty path disables the overrides file. A
// missing file is treated as no overrides; an unparsable file is an error.
func New(defaults map[string]string, path string) (*Provider, error) {
	p := &Provider{
		defaults:  defaults,
		path:      path,
		overrides: map[string]string{},
	}
	if err := p.reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns the value for key, preferring the overrides file.
func (p *Provider) Get(key string) (string, bool) {
	if err := p.reload(); err != nil {
		slog.Error("failed to reload settings, keeping previous values", "path", p.path, "error", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if v, ok := p.overrides[key]; ok {
		return v, true
	}
	v, ok := p.defaults[key]
	return v, ok
}

func (p *Provider) reload() error {
	if p.path == "" {
		return nil
	}

	info, err := os.Stat(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			p.mu.Lock()
			p.overrides = map[string]string{}
			p.modTime = time.Time{}
			p.mu.Unlock()
			return nil
		}
		return fmt.Errorf("checking settings file: %w", err)
	}

	p.mu.RLock()
	fresh := info.ModTime().Equal(p.modTime)
	p.mu.RUnlock()
	if fresh {
		return nil
	}

	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading settings file: %w", err)
	}

	overrides, err := parse(data)
	if err != nil {
		return fmt.Errorf("parsing settings file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.overrides = overrides
	p.modTime = info.ModTime()
	p.mu.Unlock()
	return nil
}

func parse(data []byte) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(val)
		default:
			return nil, fmt.Errorf("setting %q: unsupported value type %T", k, v)
		}
	}
	return out, nil
}

// Int returns the integer value of key, or fallback when absent or malformed.
func Int(s Source, key string, fallback int) int {
	v, ok := s.Get(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed integer setting", "key", key, "value", v)
		return fallback
	}
	return n
}

// Seconds reads key as a positive number of seconds.
func Seconds(s Source, key string, fallback time.Duration) time.Duration {
	n := Int(s, key, 0)
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}

// String returns the value of key, or fallback when absent or empty.
func String(s Source, key, fallback string) string {
	if v, ok := s.Get(key); ok && v != "" {
		return v
	}
	return fallback
}

// Static is a fixed Source, mostly useful in tests.
type Static map[string]string

// Get implements Source.
func (s Static) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}
