// Package download accepts download requests from authenticated users and
// charges them against their quotas.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/prettydl/prettydl/internal/auth"
	"github.com/prettydl/prettydl/internal/events"
	"github.com/prettydl/prettydl/internal/quota"
)

var (
	ErrDisabled       = errors.New("downloads are disabled")
	ErrInvalidRequest = errors.New("invalid download request")
)

var infohashPattern = regexp.MustCompile(`^([0-9a-fA-F]{40}|[A-Z2-7]{32})$`)

// Request describes what to download: either a torrent infohash or a
// magnet/http(s) URL.
type Request struct {
	Name string `json:"name"`
	Hash string `json:"hash,omitempty"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

// Validate checks that the request names a well-formed infohash or a
// magnet or http(s) URL.
func (r Request) Validate() error {
	switch {
	case r.Hash != "":
		if !infohashPattern.MatchString(r.Hash) {
			return fmt.Errorf("%w: hash is not a valid infohash", ErrInvalidRequest)
		}
		return nil
	case r.URL != "":
		u, err := url.Parse(r.URL)
		if err != nil {
			return fmt.Errorf("%w: url: %v", ErrInvalidRequest, err)
		}
		switch u.Scheme {
		case "magnet", "http", "https":
			return nil
		default:
			return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
		}
	default:
		return fmt.Errorf("%w: hash or url is required", ErrInvalidRequest)
	}
}

// Source returns the link handed to the download client.
func (r Request) Source() string {
	if r.URL != "" {
		return r.URL
	}
	v := url.Values{}
	if r.Name != "" {
		v.Set("dn", r.Name)
	}
	link := "magnet:?xt=urn:btih:" + r.Hash
	if enc := v.Encode(); enc != "" {
		link += "&" + enc
	}
	return link
}

// Starter hands a request to the download client.
type Starter interface {
	Start(ctx context.Context, username string, req Request) error
}

// DisabledStarter refuses every request.
type DisabledStarter struct{}

func (DisabledStarter) Start(context.Context, string, Request) error { return ErrDisabled }

// LogStarter accepts every request and only logs it.
type LogStarter struct {
	Logger *slog.Logger
}

func (s LogStarter) Start(_ context.Context, username string, req Request) error {
	s.Logger.Info("download accepted", "username", username, "name", req.Name, "source", req.Source(), "path", req.Path)
	return nil
}

// Service runs downloads under quota.
type Service struct {
	quotas  *quota.Engine
	starter Starter
	events  events.Recorder
}

// NewService creates a download Service.
func NewService(quotas *quota.Engine, starter Starter, rec events.Recorder) *Service {
	return &Service{quotas: quotas, starter: starter, events: rec}
}

// Download starts req for the caller. Usage is only counted when the
// download client accepted the request.
func (s *Service) Download(ctx context.Context, caller auth.Identity, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	err := s.quotas.Charge(ctx, caller.Username, func(ctx context.Context) error {
		return s.starter.Start(ctx, caller.Username, req)
	})
	if err != nil {
		if !errors.Is(err, quota.ErrExceeded) {
			s.events.Record(ctx, caller.Username, events.TypeDownloadFailed, map[string]any{
				"name":  req.Name,
				"hash":  req.Hash,
				"error": err.Error(),
			})
		}
		return err
	}

	s.events.Record(ctx, caller.Username, events.TypeDownload, map[string]any{
		"name": req.Name,
		"hash": req.Hash,
	})
	return nil
}
