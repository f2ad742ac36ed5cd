package playfab

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	crerr "github.com/cockroachdb/errors"
)

const (
	sdkName    = "GoSDK"
	sdkVersion = "1.0.0"
)

// SDKVersionString is sent on every request as the X-PlayFabSDK header.
func SDKVersionString() string {
	return sdkName + "-" + sdkVersion
}

// Settings holds the title-level configuration the backend requires before
// any call can be made. TitleID identifies the game configuration; the
// developer secret key unlocks server-side calls and must never reach a
// game client.
type Settings struct {
	TitleID            string
	DeveloperSecretKey string

	// BaseURL overrides the default https://{titleId}.playfabapi.com
	// endpoint. Used by tests and private-cluster deployments.
	BaseURL string
}

func (s Settings) endpoint() (string, error) {
	titleID := strings.TrimSpace(s.TitleID)
	if titleID == "" {
		return "", ErrTitleIDRequired
	}

	base := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if base == "" {
		base = fmt.Sprintf("https://%s.playfabapi.com", strings.ToLower(titleID))
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", crerr.Wrapf(err, "parse base url %q", base)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", crerr.Newf("base url %q uses unsupported scheme=%q; expected http or https", base, parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return "", crerr.Newf("base url %q has empty host", base)
	}

	return base, nil
}

// settingsBox guards mutable settings. The manual flow sets the developer
// secret key mid-sequence, after the first server call has already failed.
type settingsBox struct {
	mu       sync.RWMutex
	settings Settings
}

func (b *settingsBox) load() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

func (b *settingsBox) setSecretKey(key string) {
	b.mu.Lock()
	b.settings.DeveloperSecretKey = strings.TrimSpace(key)
	b.mu.Unlock()
}

// EntityKey identifies an entity (player, character, title) within the
// backend. Type is one of the vendor-defined entity types such as
// "title_player_account".
type EntityKey struct {
	ID   string `json:"Id"`
	Type string `json:"Type,omitempty"`
}

func (k *EntityKey) String() string {
	if k == nil {
		return ""
	}
	if k.Type == "" {
		return k.ID
	}
	return k.Type + ":" + k.ID
}
