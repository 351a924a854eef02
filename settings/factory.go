package settings

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/kioskops/provisioning-agent/interfaces"
)

// NewFromURI creates a settings store from a location URI.
//
// Supported schemes:
//   - file:// for the JSON file store
//   - bolt:// for the bbolt database store
//
// Returns an error wrapping interfaces.ErrInvalidStoreURI if the URI is
// malformed or names an unsupported scheme.
func NewFromURI(locationURI string, log *slog.Logger) (interfaces.SettingsStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidStoreURI, err)
	}

	path := u.Path
	if u.Host != "" {
		// Relative paths parse with the first element as host.
		path = u.Host + u.Path
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in %q", interfaces.ErrInvalidStoreURI, locationURI)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileStore(path, log)
	case "bolt":
		return NewBoltStore(path, log)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidStoreURI, u.Scheme)
	}
}
