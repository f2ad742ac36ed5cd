// Package server wraps the Server API surface: privileged title-scoped
// calls authenticated with the developer secret key.
package server

import (
	"context"

	crerr "github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/playfab"
)

type API struct {
	transport *playfab.Transport
	logger    *logging.Logger
	validate  *validator.Validate
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

type GetTitleDataRequest struct {
	Keys []string `json:"Keys,omitempty"`
}

type GetTitleDataResult struct {
	Data map[string]string `json:"Data,omitempty"`
}

// GetTitleData reads shared title key/value configuration. Fails with
// playfab.ErrSecretKeyRequired before any network I/O when no developer
// secret key is configured.
func (a *API) GetTitleData(ctx context.Context, req GetTitleDataRequest) (*GetTitleDataResult, error) {
	var result GetTitleDataResult
	auth := playfab.Auth{Kind: playfab.AuthSecretKey}
	if err := a.transport.Post(ctx, "/Server/GetTitleData", req, auth, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type SetTitleDataRequest struct {
	Key   string `json:"Key" validate:"required,max=256"`
	Value string `json:"Value,omitempty"`
}

// SetTitleData writes one title key. An empty value deletes the key on the
// backend.
func (a *API) SetTitleData(ctx context.Context, req SetTitleDataRequest) error {
	if err := a.validate.StructCtx(ctx, req); err != nil {
		return crerr.Wrap(err, "validate set title data request")
	}

	auth := playfab.Auth{Kind: playfab.AuthSecretKey}
	if err := a.transport.Post(ctx, "/Server/SetTitleData", req, auth, nil); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "title data updated", "key", req.Key)
	return nil
}
