// Package manifest lists the resources that must be present in a cache
// generation once it is installed.
package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrInvalidAsset = errors.New("invalid asset")

// Manifest holds the application shell. Assets are paths on the origin,
// External are absolute URLs of third party resources.
type Manifest struct {
	Assets   []string `yaml:"assets"`
	External []string `yaml:"external"`
}

func Default() Manifest {
	return Manifest{
		Assets: []string{
			"/",
			"/static/style.css",
			"/static/animations.css",
			"/static/theme.css",
			"/static/script.js",
			"/static/firebase-config.js",
			"/static/admin.js",
			"/static/manifest.json",
			"/favicon.ico",
			"/logo192.png",
			"/logo512.png",
		},
		External: []string{
			"https://fonts.googleapis.com/css2?family=Inter:wght@300;400;500;600;700&family=Fira+Code:wght@400;500&display=swap",
			"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.0.0/css/all.min.css",
			"https://cdnjs.cloudflare.com/ajax/libs/animate.css/4.1.1/animate.min.css",
			"https://www.gstatic.com/firebasejs/9.6.0/firebase-app-compat.js",
			"https://www.gstatic.com/firebasejs/9.6.0/firebase-firestore-compat.js",
			"https://www.gstatic.com/firebasejs/9.6.0/firebase-auth-compat.js",
		},
	}
}

func (m Manifest) Validate() error {
	for _, asset := range m.Assets {
		if !strings.HasPrefix(asset, "/") {
			return fmt.Errorf("%w: %q is not an absolute path", ErrInvalidAsset, asset)
		}
	}

	for _, external := range m.External {
		uri, err := url.Parse(external)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAsset, err)
		}
		if !uri.IsAbs() || uri.Host == "" {
			return fmt.Errorf("%w: %q is not an absolute URL", ErrInvalidAsset, external)
		}
	}

	return nil
}

// URLs resolves the assets against the origin and appends the external
// resources, in that order.
func (m Manifest) URLs(origin *url.URL) []string {
	urls := make([]string, 0, len(m.Assets)+len(m.External))

	for _, asset := range m.Assets {
		ref, err := url.Parse(asset)
		if err != nil {
			// Validate rejects those
			continue
		}
		urls = append(urls, origin.ResolveReference(ref).String())
	}

	return append(urls, m.External...)
}
