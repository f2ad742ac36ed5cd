package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/riskibarqy/playfab-go/internal/platform/logging"
	"github.com/riskibarqy/playfab-go/playfab"
)

func newTestTransport(t *testing.T, handler http.HandlerFunc) *playfab.Transport {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return playfab.NewTransport(playfab.TransportConfig{
		Settings:   playfab.Settings{TitleID: "ABCDE", BaseURL: srv.URL},
		HTTPClient: srv.Client(),
		Logger:     logging.NewNop(),
	})
}

func TestLoginWithCustomID_StoresSessionTicket(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Client/LoginWithCustomID" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Authorization"); got != "" {
			t.Fatalf("login must not send a session ticket, got %s", got)
		}

		var req map[string]any
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["CustomId"] != "custom-9" {
			t.Fatalf("unexpected CustomId: %v", req["CustomId"])
		}
		if req["CreateAccount"] != true {
			t.Fatalf("unexpected CreateAccount: %v", req["CreateAccount"])
		}
		if req["TitleId"] != "ABCDE" {
			t.Fatalf("unexpected TitleId: %v", req["TitleId"])
		}
		if req["LoginTitlePlayerAccountEntity"] != true {
			t.Fatalf("unexpected LoginTitlePlayerAccountEntity: %v", req["LoginTitlePlayerAccountEntity"])
		}

		w.Header().Set("Content-Type", "application/json")
		_ = sonic.ConfigDefault.NewEncoder(w).Encode(map[string]any{
			"code":   200,
			"status": "OK",
			"data": map[string]any{
				"PlayFabId":     "pf-9",
				"SessionTicket": "ticket-9",
				"NewlyCreated":  true,
				"EntityToken": map[string]any{
					"EntityToken": "etoken-9",
					"Entity":      map[string]any{"Id": "entity-9", "Type": "title_player_account"},
				},
			},
		})
	})

	api := New(transport, logging.NewNop())
	result, err := api.LoginWithCustomID(context.Background(), LoginWithCustomIDRequest{
		CustomID:                      "custom-9",
		CreateAccount:                 true,
		LoginTitlePlayerAccountEntity: true,
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if result.PlayFabID != "pf-9" {
		t.Fatalf("unexpected PlayFabId: %s", result.PlayFabID)
	}
	if !result.NewlyCreated {
		t.Fatal("expected NewlyCreated")
	}
	if result.EntityToken == nil || result.EntityToken.EntityToken != "etoken-9" {
		t.Fatalf("unexpected entity token block: %+v", result.EntityToken)
	}
	if result.EntityToken.Entity.Type != "title_player_account" {
		t.Fatalf("unexpected entity type: %s", result.EntityToken.Entity.Type)
	}

	if api.SessionTicket() != "ticket-9" {
		t.Fatalf("unexpected stored ticket: %s", api.SessionTicket())
	}
	if api.PlayFabID() != "pf-9" {
		t.Fatalf("unexpected stored playfab id: %s", api.PlayFabID())
	}

	auth := api.CallAuth()
	if auth.Kind != playfab.AuthSessionTicket || auth.Value != "ticket-9" {
		t.Fatalf("unexpected call auth: %+v", auth)
	}
}

func TestLoginWithCustomID_RejectsEmptyCustomID(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the backend")
	})

	api := New(transport, logging.NewNop())
	if _, err := api.LoginWithCustomID(context.Background(), LoginWithCustomIDRequest{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoginWithCustomID_MissingTicketIsAnError(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":200,"status":"OK","data":{"PlayFabId":"pf-1"}}`))
	})

	api := New(transport, logging.NewNop())
	if _, err := api.LoginWithCustomID(context.Background(), LoginWithCustomIDRequest{CustomID: "custom-1"}); err == nil {
		t.Fatal("expected an error for a ticketless login response")
	}
	if api.SessionTicket() != "" {
		t.Fatalf("ticket must stay empty, got %s", api.SessionTicket())
	}
}

func TestCallAuth_NoTicketFallsBackToNone(t *testing.T) {
	t.Parallel()

	transport := newTestTransport(t, func(w http.ResponseWriter, r *http.Request) {})
	api := New(transport, logging.NewNop())

	if auth := api.CallAuth(); auth.Kind != playfab.AuthNone {
		t.Fatalf("expected AuthNone before login, got %+v", auth)
	}
}
