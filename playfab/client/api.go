// Package client wraps the Client API surface: calls a game client makes on
// behalf of a single player, authenticated by the session ticket issued at
// login.
package client

import (
	"context"
	"strings"
	"sync"
	"time"

	crerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/playfab"
)

type API struct {
	transport *playfab.Transport
	logger    *logging.Logger
	validate  *validator.Validate

	mu            sync.RWMutex
	sessionTicket string
	playFabID     string
}

func New(transport *playfab.Transport, logger *logging.Logger) *API {
	if logger == nil {
		logger = logging.Default()
	}
	return &API{
		transport: transport,
		logger:    logger,
		validate:  validator.New(),
	}
}

// LoginWithCustomIDRequest logs a player in (optionally creating the
// account) using a caller-chosen opaque identifier.
type LoginWithCustomIDRequest struct {
	CustomID                      string            `json:"CustomId" validate:"required,max=100"`
	CreateAccount                 bool              `json:"CreateAccount"`
	TitleID                       string            `json:"TitleId,omitempty"`
	LoginTitlePlayerAccountEntity bool              `json:"LoginTitlePlayerAccountEntity,omitempty"`
	CustomTags                    map[string]string `json:"CustomTags,omitempty"`
}

type EntityTokenResponse struct {
	EntityToken     string             `json:"EntityToken"`
	TokenExpiration time.Time          `json:"TokenExpiration"`
	Entity          *playfab.EntityKey `json:"Entity,omitempty"`
}

type LoginResult struct {
	PlayFabID     string               `json:"PlayFabId"`
	SessionTicket string               `json:"SessionTicket"`
	NewlyCreated  bool                 `json:"NewlyCreated"`
	LastLoginTime *time.Time           `json:"LastLoginTime,omitempty"`
	EntityToken   *EntityTokenResponse `json:"EntityToken,omitempty"`
}

// LoginWithCustomID authenticates the player and stores the issued session
// ticket for subsequent client calls. The title id defaults from settings
// when the request leaves it empty.
func (a *API) LoginWithCustomID(ctx context.Context, req LoginWithCustomIDRequest) (*LoginResult, error) {
	if err := a.validate.StructCtx(ctx, req); err != nil {
		return nil, crerr.Wrap(err, "validate login request")
	}
	if strings.TrimSpace(req.TitleID) == "" {
		req.TitleID = a.transport.TitleID()
	}

	var result LoginResult
	if err := a.transport.Post(ctx, "/Client/LoginWithCustomID", req, playfab.Auth{Kind: playfab.AuthNone}, &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.SessionTicket) == "" {
		return nil, crerr.New("login response is missing a session ticket")
	}

	a.mu.Lock()
	a.sessionTicket = result.SessionTicket
	a.playFabID = result.PlayFabID
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "player logged in",
		"playfab_id", result.PlayFabID,
		"newly_created", result.NewlyCreated,
	)
	return &result, nil
}

// SessionTicket returns the ticket from the latest login, empty before any
// login succeeded.
func (a *API) SessionTicket() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionTicket
}

func (a *API) PlayFabID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.playFabID
}

// CallAuth implements playfab.AuthSource with the stored session ticket.
func (a *API) CallAuth() playfab.Auth {
	ticket := a.SessionTicket()
	if ticket == "" {
		return playfab.Auth{Kind: playfab.AuthNone}
	}
	return playfab.Auth{Kind: playfab.AuthSessionTicket, Value: ticket}
}
