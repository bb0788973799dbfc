// File: internal/auth/cookies.go
package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// cookieRecord is the on-disk shape of one session cookie. Plain JSON so an
// operator can inspect or prune the store by hand.
type cookieRecord struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// Store persists browser cookies between runs so subsequent batches skip the
// interactive login.
type Store struct {
	path   string
	logger *zap.Logger
}

// NewStore creates a cookie store backed by the given file path.
func NewStore(path string, logger *zap.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.Named("cookie_store"),
	}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load reads the stored cookies as CDP cookie params. A missing file is not
// an error, just an empty result; individual malformed entries are skipped so
// one bad record does not cost the whole session.
func (s *Store) Load() ([]*network.CookieParam, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.logger.Debug("Cookie file absent.", zap.String("path", s.path))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read cookie file %s: %w", s.path, err)
	}

	var records []cookieRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("cookie file %s is not valid JSON: %w", s.path, err)
	}

	params := make([]*network.CookieParam, 0, len(records))
	for _, r := range records {
		if r.Name == "" {
			s.logger.Debug("Skipping cookie without a name.")
			continue
		}
		param := &network.CookieParam{
			Name:     r.Name,
			Value:    r.Value,
			Domain:   r.Domain,
			Path:     r.Path,
			HTTPOnly: r.HTTPOnly,
			Secure:   r.Secure,
		}
		if r.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(r.Expires), 0))
			param.Expires = &expires
		}
		params = append(params, param)
	}

	s.logger.Debug("Loaded cookies.", zap.Int("count", len(params)), zap.String("path", s.path))
	return params, nil
}

// Save writes the browser's current cookies back to the store file.
func (s *Store) Save(cookies []*network.Cookie) error {
	records := make([]cookieRecord, 0, len(cookies))
	for _, c := range cookies {
		records = append(records, cookieRecord{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		})
	}

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode cookies: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return fmt.Errorf("could not write cookie file %s: %w", s.path, err)
	}

	s.logger.Info("Cookies saved.", zap.Int("count", len(records)), zap.String("path", s.path))
	return nil
}
