// Package entity wraps the Entity API surface: token acquisition for an
// authenticated entity and reads of the objects attached to it.
package entity

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	crerr "github.com/cockroachdb/errors"

	"github.com/riskibarqy/playfab-go/internal/platform/cache"
	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/playfab"
)

const defaultTokenTTL = 55 * time.Minute

// tokenExpiryMargin is how far ahead of TokenExpiration a cached token is
// treated as stale, so a token is never served right at the edge of its
// vendor lifetime.
const tokenExpiryMargin = 30 * time.Second

type Config struct {
	Transport *playfab.Transport
	// AuthSource supplies the session ticket when the caller logged in via
	// the client API. Optional: the secret key path works without it.
	AuthSource playfab.AuthSource
	Logger     *logging.Logger
	// TokenTTL bounds how long a fetched entity token is reused. Kept well
	// under the vendor's token lifetime so a cached token never outlives
	// its TokenExpiration.
	TokenTTL time.Duration
}

type API struct {
	transport  *playfab.Transport
	authSource playfab.AuthSource
	logger     *logging.Logger
	tokens     *cache.Store

	mu      sync.RWMutex
	current string
	entity  *playfab.EntityKey
}

func New(cfg Config) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &API{
		transport:  cfg.Transport,
		authSource: cfg.AuthSource,
		logger:     logger,
		tokens:     cache.NewStore(ttl),
	}
}

type GetEntityTokenRequest struct {
	Entity *playfab.EntityKey `json:"Entity,omitempty"`
}

type GetEntityTokenResult struct {
	EntityToken     string             `json:"EntityToken"`
	TokenExpiration time.Time          `json:"TokenExpiration"`
	Entity          *playfab.EntityKey `json:"Entity,omitempty"`
}

// GetEntityToken exchanges the caller's current credential for an entity
// token. Results are cached per entity key, bounded by the vendor's
// TokenExpiration, and concurrent fetches for the same key collapse into
// one upstream call.
func (a *API) GetEntityToken(ctx context.Context, req GetEntityTokenRequest) (*GetEntityTokenResult, error) {
	key := "default"
	if req.Entity != nil {
		key = req.Entity.String()
	}

	if cached, ok := a.tokens.Get(ctx, key); ok {
		if result, ok := cached.(*GetEntityTokenResult); ok && tokenStale(result, time.Now()) {
			a.tokens.Delete(ctx, key)
		}
	}

	value, err := a.tokens.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return a.fetchEntityToken(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	result, ok := value.(*GetEntityTokenResult)
	if !ok {
		return nil, crerr.Newf("unexpected cached token type %T", value)
	}
	return result, nil
}

func (a *API) fetchEntityToken(ctx context.Context, req GetEntityTokenRequest) (*GetEntityTokenResult, error) {
	auth, err := a.tokenCallAuth()
	if err != nil {
		return nil, err
	}

	var result GetEntityTokenResult
	if err := a.transport.Post(ctx, "/Authentication/GetEntityToken", req, auth, &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.EntityToken) == "" {
		return nil, crerr.New("entity token response is missing a token")
	}

	a.mu.Lock()
	a.current = result.EntityToken
	if result.Entity != nil {
		a.entity = result.Entity
	}
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "entity token acquired",
		"entity", result.Entity,
		"expires_at", result.TokenExpiration,
	)
	return &result, nil
}

// tokenStale reports whether a cached token is within the expiry margin of
// its vendor lifetime. Tokens without a TokenExpiration rely on the store
// TTL alone.
func tokenStale(result *GetEntityTokenResult, now time.Time) bool {
	if result == nil || result.TokenExpiration.IsZero() {
		return false
	}
	return !now.Before(result.TokenExpiration.Add(-tokenExpiryMargin))
}

// tokenCallAuth picks the strongest credential available for the token
// exchange: session ticket, then secret key, then an already-held token.
func (a *API) tokenCallAuth() (playfab.Auth, error) {
	if a.authSource != nil {
		if auth := a.authSource.CallAuth(); auth.Kind != playfab.AuthNone {
			return auth, nil
		}
	}
	if a.transport.HasSecretKey() {
		return playfab.Auth{Kind: playfab.AuthSecretKey}, nil
	}
	if token := a.EntityToken(); token != "" {
		return playfab.Auth{Kind: playfab.AuthEntityToken, Value: token}, nil
	}
	return playfab.Auth{}, crerr.Wrap(playfab.ErrNotAuthenticated, "no credential available for entity token exchange")
}

// SetEntityToken seeds the token obtained through another channel, such as
// the EntityToken block of a login response.
func (a *API) SetEntityToken(token string, entityKey *playfab.EntityKey) {
	a.mu.Lock()
	a.current = strings.TrimSpace(token)
	if entityKey != nil {
		a.entity = entityKey
	}
	a.mu.Unlock()
}

func (a *API) EntityToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.current
}

// Entity returns the key of the entity the current token was issued for.
func (a *API) Entity() *playfab.EntityKey {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entity
}

type GetObjectsRequest struct {
	// Entity is sent as provided. The backend rejects an absent key; that
	// rejection is the caller's to interpret.
	Entity       *playfab.EntityKey `json:"Entity,omitempty"`
	EscapeObject bool               `json:"EscapeObject,omitempty"`
}

type ObjectResult struct {
	ObjectName        string          `json:"ObjectName"`
	DataObject        json.RawMessage `json:"DataObject,omitempty"`
	EscapedDataObject string          `json:"EscapedDataObject,omitempty"`
}

type GetObjectsResult struct {
	Entity         *playfab.EntityKey      `json:"Entity,omitempty"`
	ProfileVersion int                     `json:"ProfileVersion"`
	Objects        map[string]ObjectResult `json:"Objects,omitempty"`
}

// GetObjects reads the objects stored on an entity profile. Requires an
// entity token from a prior GetEntityToken or SetEntityToken.
func (a *API) GetObjects(ctx context.Context, req GetObjectsRequest) (*GetObjectsResult, error) {
	token := a.EntityToken()
	if token == "" {
		return nil, crerr.Wrap(playfab.ErrNotAuthenticated, "entity token required for GetObjects")
	}

	var result GetObjectsResult
	auth := playfab.Auth{Kind: playfab.AuthEntityToken, Value: token}
	if err := a.transport.Post(ctx, "/Object/GetObjects", req, auth, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
