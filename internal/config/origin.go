package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrMustBeScalar  = errors.New("origin must be a scalar")
	ErrInvalidOrigin = errors.New("invalid origin")
)

// Origin is the scheme and host the application is served from. Requests
// for it are the only ones whose responses can be cached.
type Origin struct {
	URL *url.URL
}

// ParseOrigin accepts an absolute http or https URL without any path, query,
// fragment or credentials. A single trailing slash is allowed. The scheme and
// host are lowercased.
func ParseOrigin(raw string) (Origin, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Origin{}, fmt.Errorf("%w: %w", ErrInvalidOrigin, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	switch {
	case scheme != "http" && scheme != "https":
		return Origin{}, fmt.Errorf("%w: %q must use http or https", ErrInvalidOrigin, raw)
	case parsed.Host == "":
		return Origin{}, fmt.Errorf("%w: %q has no host", ErrInvalidOrigin, raw)
	case parsed.User != nil:
		return Origin{}, fmt.Errorf("%w: %q must not contain credentials", ErrInvalidOrigin, raw)
	case parsed.Path != "" && parsed.Path != "/",
		parsed.RawQuery != "", parsed.Fragment != "", parsed.ForceQuery:
		return Origin{}, fmt.Errorf("%w: %q must not have a path, query or fragment", ErrInvalidOrigin, raw)
	}

	return Origin{&url.URL{Scheme: scheme, Host: strings.ToLower(parsed.Host)}}, nil
}

// Host returns the host and optional port of the origin.
func (o Origin) Host() string {
	if o.URL == nil {
		return ""
	}
	return o.URL.Host
}

func (o Origin) String() string {
	if o.URL == nil {
		return ""
	}
	return o.URL.String()
}

func (o *Origin) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return ErrMustBeScalar
	}

	parsed, err := ParseOrigin(node.Value)
	if err != nil {
		return err
	}

	*o = parsed
	return nil
}

func (o Origin) MarshalYAML() (any, error) {
	return o.String(), nil
}
