package oauth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/giantswarm/plugin-oauth/internal/testutil"
	"github.com/giantswarm/plugin-oauth/server"
	"github.com/giantswarm/plugin-oauth/storage"
	"github.com/giantswarm/plugin-oauth/storage/memory"
)

const testRegistrationToken = "registration-access-token"

type handlerFixture struct {
	handler *Handler
	server  *server.Server
	store   *memory.Store
	mux     *http.ServeMux
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store := memory.New()
	t.Cleanup(func() { store.Stop() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	srv, err := server.New(store, store, store, &server.Config{
		Issuer:                  "https://auth.example.com",
		ScopesSupported:         []string{"files:read", "files:write", "profile"},
		RegistrationAccessToken: testRegistrationToken,
	}, logger)
	if err != nil {
		t.Fatalf("server.New() error = %v", err)
	}

	h := NewHandler(srv, logger)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &handlerFixture{handler: h, server: srv, store: store, mux: mux}
}

func (f *handlerFixture) saveTestClient(t *testing.T) *storage.Client {
	t.Helper()
	client := testutil.GenerateTestClient()
	if err := f.store.SaveClient(context.Background(), client); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}
	return client
}

// obtainConfirmedCode drives the authorization endpoint and the login
// confirmation to produce an exchangeable code.
func (f *handlerFixture) obtainConfirmedCode(t *testing.T, client *storage.Client, challenge string) string {
	t.Helper()

	query := url.Values{
		"client_id":             {client.ClientID},
		"redirect_uri":          {client.RedirectURIs[0]},
		"code_challenge":        {challenge},
		"code_challenge_method": {server.PKCEMethodS256},
		"state":                 {"xyz"},
		"scope":                 {"files:read"},
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil)
	f.mux.ServeHTTP(w, r)

	if w.Code != http.StatusFound {
		t.Fatalf("authorize status = %d, want %d: %s", w.Code, http.StatusFound, w.Body.String())
	}

	loginURL, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatalf("parsing login redirect: %v", err)
	}
	code := loginURL.Query().Get("code")
	if code == "" {
		t.Fatalf("login redirect %q carries no code", loginURL)
	}

	_, err = f.server.Confirm(context.Background(), code, []string{"files:read"}, &storage.ConfirmationData{
		IncludeRefreshToken: true,
		Extra:               map[string]any{"sub": "user-123"},
	})
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}

	return code
}

func (f *handlerFixture) postToken(t *testing.T, client *storage.Client, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth(client.ClientID, "secret")
	f.mux.ServeHTTP(w, r)
	return w
}

func (f *handlerFixture) exchangeCode(t *testing.T, client *storage.Client, code, verifier string) TokenResponse {
	t.Helper()

	w := f.postToken(t, client, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("token status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding token response: %v", err)
	}
	return resp
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	return resp
}

func TestHandler_AuthorizationCodeGrant(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	code := f.obtainConfirmedCode(t, client, challenge)
	resp := f.exchangeCode(t, client, code, verifier)

	if resp.AccessToken == "" {
		t.Error("access token is empty")
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.RefreshToken == "" {
		t.Error("refresh token missing despite confirmation requesting one")
	}
	if resp.Scope != "files:read" {
		t.Errorf("scope = %q, want files:read", resp.Scope)
	}
	if resp.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want positive", resp.ExpiresIn)
	}
}

func TestHandler_AuthorizationCodeGrant_WrongVerifier(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	code := f.obtainConfirmedCode(t, client, challenge)

	w := f.postToken(t, client, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testutil.GenerateRandomString(50)},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeInvalidGrant {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidGrant)
	}

	// A failed verifier must not consume the code
	resp := f.exchangeCode(t, client, code, verifier)
	if resp.AccessToken == "" {
		t.Error("code was burned by the failed PKCE attempt")
	}
}

func TestHandler_AuthorizationCodeGrant_BadClientSecret(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := f.obtainConfirmedCode(t, client, challenge)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	}
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth(client.ClientID, "wrong-secret")
	f.mux.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidClient)
	}
}

func TestHandler_UnsupportedGrantType(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)

	w := f.postToken(t, client, url.Values{"grant_type": {"password"}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeUnsupportedGrantType {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeUnsupportedGrantType)
	}
}

func TestHandler_RefreshTokenGrant(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	code := f.obtainConfirmedCode(t, client, challenge)
	initial := f.exchangeCode(t, client, code, verifier)

	w := f.postToken(t, client, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {initial.RefreshToken},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("refresh status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var refreshed TokenResponse
	if err := json.NewDecoder(w.Body).Decode(&refreshed); err != nil {
		t.Fatalf("decoding refresh response: %v", err)
	}
	if refreshed.AccessToken == "" || refreshed.RefreshToken == "" {
		t.Fatal("refresh response missing tokens")
	}
	if refreshed.RefreshToken == initial.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// The rotated-out token is dead
	w = f.postToken(t, client, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {initial.RefreshToken},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("replayed refresh status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandler_RequireScopes(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	code := f.obtainConfirmedCode(t, client, challenge)
	tokens := f.exchangeCode(t, client, code, verifier)

	var gotInfo *AuthInfo
	protected := f.handler.RequireScopes("files:read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInfo = AuthInfoFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("valid token passes", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/files", nil)
		r.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		protected.ServeHTTP(w, r)

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
		}
		if gotInfo == nil {
			t.Fatal("AuthInfo missing from request context")
		}
		if gotInfo.ClientID != client.ClientID {
			t.Errorf("ClientID = %q, want %q", gotInfo.ClientID, client.ClientID)
		}
		if gotInfo.Extra["sub"] != "user-123" {
			t.Errorf("sub claim = %v, want user-123", gotInfo.Extra["sub"])
		}
	})

	t.Run("missing header rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		protected.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/files", nil))

		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		challenge := w.Header().Get("WWW-Authenticate")
		if !strings.HasPrefix(challenge, "Bearer") {
			t.Errorf("WWW-Authenticate = %q, want Bearer challenge", challenge)
		}
	})

	t.Run("unknown token rejected", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/files", nil)
		r.Header.Set("Authorization", "Bearer "+testutil.GenerateRandomString(43))
		protected.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("insufficient scope rejected", func(t *testing.T) {
		writeProtected := f.handler.RequireScopes("files:write")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/files", nil)
		r.Header.Set("Authorization", "Bearer "+tokens.AccessToken)
		writeProtected.ServeHTTP(w, r)

		if w.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
		}
		challenge := w.Header().Get("WWW-Authenticate")
		if !strings.Contains(challenge, `error="insufficient_scope"`) {
			t.Errorf("WWW-Authenticate = %q, want insufficient_scope", challenge)
		}
		if !strings.Contains(challenge, `scope="files:write"`) {
			t.Errorf("WWW-Authenticate = %q, want required scope named", challenge)
		}
	})
}

func TestHandler_TokenRevocation(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)
	challenge, verifier := testutil.GeneratePKCEPair()

	code := f.obtainConfirmedCode(t, client, challenge)
	tokens := f.exchangeCode(t, client, code, verifier)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/revoke",
		strings.NewReader(url.Values{"token": {tokens.AccessToken}}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth(client.ClientID, "secret")
	f.mux.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	if _, err := f.server.VerifyAccessToken(context.Background(), tokens.AccessToken); err == nil {
		t.Error("revoked token still verifies")
	}

	// Revoking an unknown token is still a success per RFC 7009
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/revoke",
		strings.NewReader(url.Values{"token": {"unknown-token"}}.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.SetBasicAuth(client.ClientID, "secret")
	f.mux.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("unknown token revoke status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestHandler_ClientRegistration(t *testing.T) {
	f := newHandlerFixture(t)

	body := `{"client_name":"My App","redirect_uris":["https://app.example.com/callback"],"token_endpoint_auth_method":"client_secret_basic"}`

	t.Run("with registration token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+testRegistrationToken)
		f.mux.ServeHTTP(w, r)

		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
		}

		var resp ClientRegistrationResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decoding registration response: %v", err)
		}
		if resp.ClientID == "" {
			t.Error("client_id is empty")
		}
		if resp.ClientSecret == "" {
			t.Error("confidential client got no secret")
		}
		if resp.Scope != "files:read files:write profile" {
			t.Errorf("scope = %q, want full supported set", resp.Scope)
		}
	})

	t.Run("without registration token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		f.mux.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})

	t.Run("wrong registration token", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer not-the-token")
		f.mux.ServeHTTP(w, r)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
	})
}

func TestHandler_AuthorizationServerMetadata(t *testing.T) {
	f := newHandlerFixture(t)

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/oauth-authorization-server", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var metadata AuthorizationServerMetadata
	if err := json.NewDecoder(w.Body).Decode(&metadata); err != nil {
		t.Fatalf("decoding metadata: %v", err)
	}

	if metadata.Issuer != "https://auth.example.com" {
		t.Errorf("issuer = %q", metadata.Issuer)
	}
	if metadata.AuthorizationEndpoint != "https://auth.example.com/authorize" {
		t.Errorf("authorization_endpoint = %q", metadata.AuthorizationEndpoint)
	}
	if metadata.TokenEndpoint != "https://auth.example.com/token" {
		t.Errorf("token_endpoint = %q", metadata.TokenEndpoint)
	}
	if metadata.RevocationEndpoint != "https://auth.example.com/revoke" {
		t.Errorf("revocation_endpoint = %q", metadata.RevocationEndpoint)
	}
	if metadata.RegistrationEndpoint != "https://auth.example.com/register" {
		t.Errorf("registration_endpoint = %q", metadata.RegistrationEndpoint)
	}
	if len(metadata.CodeChallengeMethodsSupported) != 1 || metadata.CodeChallengeMethodsSupported[0] != "S256" {
		t.Errorf("code_challenge_methods_supported = %v, want [S256]", metadata.CodeChallengeMethodsSupported)
	}
	if len(metadata.ResponseTypesSupported) != 1 || metadata.ResponseTypesSupported[0] != "code" {
		t.Errorf("response_types_supported = %v, want [code]", metadata.ResponseTypesSupported)
	}
}

func TestHandler_Authorize_RejectsUnknownClient(t *testing.T) {
	f := newHandlerFixture(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/authorize?client_id=no-such-client", nil)
	f.mux.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if resp := decodeErrorResponse(t, w); resp.Error != ErrorCodeInvalidClient {
		t.Errorf("error = %q, want %q", resp.Error, ErrorCodeInvalidClient)
	}
}

func TestHandler_Authorize_MethodNotAllowed(t *testing.T) {
	f := newHandlerFixture(t)

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/authorize", nil))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandler_SecurityHeaders(t *testing.T) {
	f := newHandlerFixture(t)
	client := f.saveTestClient(t)
	challenge, verifier := testutil.GeneratePKCEPair()
	code := f.obtainConfirmedCode(t, client, challenge)

	w := f.postToken(t, client, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {verifier},
	})

	if got := w.Header().Get("Cache-Control"); !strings.Contains(got, "no-store") {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
}

func TestFormatWWWAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		scope   string
		errCode string
		desc    string
		want    string
	}{
		{
			name: "bare challenge",
			want: "Bearer",
		},
		{
			name:    "error only",
			errCode: "invalid_token",
			want:    `Bearer error="invalid_token"`,
		},
		{
			name:    "scope and error",
			scope:   "files:write",
			errCode: "insufficient_scope",
			desc:    "Token is missing a required scope",
			want:    `Bearer scope="files:write", error="insufficient_scope", error_description="Token is missing a required scope"`,
		},
		{
			name: "quotes escaped",
			desc: `say "hi"`,
			want: `Bearer error_description="say \"hi\""`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatWWWAuthenticate(tt.scope, tt.errCode, tt.desc); got != tt.want {
				t.Errorf("formatWWWAuthenticate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAuthInfoFromContext_Empty(t *testing.T) {
	if info := AuthInfoFromContext(context.Background()); info != nil {
		t.Errorf("AuthInfoFromContext() = %v, want nil", info)
	}
}
