// Package meta loads configuration and graph template documents from any
// afs-addressable location, expanding ${env.KEY} expressions before decoding.
package meta

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Service resolves relative URLs against a base location and decodes YAML
// documents.
type Service struct {
	fs      afs.Service
	baseURL string
	options []storage.Option
}

// New creates a meta service.
func New(fs afs.Service, baseURL string, options ...storage.Option) *Service {
	if fs == nil {
		fs = afs.New()
	}
	return &Service{fs: fs, baseURL: baseURL, options: options}
}

// Resolve expands a possibly relative URL against the base location.
func (s *Service) Resolve(URL string) string {
	if s.baseURL == "" || !url.IsRelative(URL) {
		return URL
	}
	return url.Join(s.baseURL, URL)
}

// Exists checks whether the document exists.
func (s *Service) Exists(ctx context.Context, URL string) (bool, error) {
	return s.fs.Exists(ctx, s.Resolve(URL), s.options...)
}

// Download returns the raw document with ${env.KEY} expressions expanded.
func (s *Service) Download(ctx context.Context, URL string) ([]byte, error) {
	location := s.Resolve(URL)
	data, err := s.fs.DownloadWithURL(ctx, location, s.options...)
	if err != nil {
		return nil, fmt.Errorf("meta: failed to download %s: %w", location, err)
	}
	return []byte(expandEnvExpr(string(data))), nil
}

// Load decodes the YAML document at URL into target.
func (s *Service) Load(ctx context.Context, URL string, target interface{}) error {
	data, err := s.Download(ctx, URL)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("meta: failed to decode %s: %w", s.Resolve(URL), err)
	}
	return nil
}
