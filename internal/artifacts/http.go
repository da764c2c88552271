package artifacts

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// HTTPProvider fetches <BaseURL>/<name>.{ccs,pk,vk}. Missing files (404) are
// skipped like absent files in FileProvider.
type HTTPProvider struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPProvider(baseURL string) *HTTPProvider {
	return &HTTPProvider{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

func (p *HTTPProvider) Load(ctx context.Context, name string) (*Artifacts, error) {
	a := &Artifacts{Name: name}
	found := 0
	for _, ext := range []string{ExtCCS, ExtProvingKey, ExtVerifyingKey} {
		ok, err := p.fetch(ctx, name, ext, a)
		if err != nil {
			return nil, err
		}
		if ok {
			found++
		}
	}
	if found == 0 {
		return nil, errors.Wrapf(ErrNotFound, "%s at %s", name, p.BaseURL)
	}
	return a, nil
}

func (p *HTTPProvider) fetch(ctx context.Context, name, ext string, a *Artifacts) (bool, error) {
	u, err := url.JoinPath(p.BaseURL, name+ext)
	if err != nil {
		return false, errors.Wrap(err, "artifact url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, errors.Wrap(err, "build request")
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "fetch %s", u)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, errors.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	if err := decode(ext, resp.Body, a); err != nil {
		return false, err
	}
	return true, nil
}
