package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zitadel/oidc/v3/pkg/client/rp"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
	"github.com/zitadel/oidc/v3/pkg/oidc"

	"github.com/terraconstructs/gridgate/internal/config"
)

// ExternalClaims is the subset of ID token claims used to find or create a user.
type ExternalClaims struct {
	Subject string
	Email   string
	// EmailVerified is the IdP's email_verified claim. Email is only trusted
	// to link or provision a user when it is set.
	EmailVerified bool
	Name          string
}

// RelyingParty handles the authorization code flow against an external IdP by
// wrapping the zitadel/oidc RelyingParty implementation.
type RelyingParty struct {
	rp rp.RelyingParty
}

// NewRelyingParty discovers the issuer and prepares the code flow with PKCE.
// State and verifier cookies are encrypted with per-process random keys.
func NewRelyingParty(ctx context.Context, cfg config.OIDCConfig, secure bool) (*RelyingParty, error) {
	hashKey, err := generateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cookie hash key: %w", err)
	}
	cryptoKey, err := generateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cookie crypto key: %w", err)
	}

	var cookieOpts []httphelper.CookieHandlerOpt
	if !secure {
		cookieOpts = append(cookieOpts, httphelper.WithUnsecure())
	}
	cookieHandler := httphelper.NewCookieHandler(hashKey, cryptoKey, cookieOpts...)

	options := []rp.Option{
		rp.WithCookieHandler(cookieHandler),
		rp.WithVerifierOpts(rp.WithIssuedAtMaxAge(30 * time.Second)),
		rp.WithPKCE(cookieHandler),
	}

	relyingParty, err := rp.NewRelyingPartyOIDC(ctx, cfg.Issuer, cfg.ClientID, cfg.ClientSecret, cfg.RedirectURI,
		cfg.Scopes, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC relying party: %w", err)
	}

	return &RelyingParty{rp: relyingParty}, nil
}

// LoginHandler redirects to the IdP authorization endpoint with a fresh state.
func (r *RelyingParty) LoginHandler() http.HandlerFunc {
	return rp.AuthURLHandler(func() string {
		state, err := GenerateNonce()
		if err != nil {
			// rand.Reader failing leaves nothing sensible to send
			panic(err)
		}
		return state
	}, r.rp)
}

// CallbackHandler exchanges the code and hands the verified claims to fn.
// State and PKCE verification failures are answered by the library.
func (r *RelyingParty) CallbackHandler(fn func(w http.ResponseWriter, req *http.Request, claims ExternalClaims)) http.HandlerFunc {
	callback := func(w http.ResponseWriter, req *http.Request, tokens *oidc.Tokens[*oidc.IDTokenClaims], state string, _ rp.RelyingParty) {
		idClaims := tokens.IDTokenClaims
		if idClaims == nil {
			http.Error(w, "id token missing", http.StatusUnauthorized)
			return
		}
		fn(w, req, ExternalClaims{
			Subject:       idClaims.Subject,
			Email:         idClaims.Email,
			EmailVerified: bool(idClaims.EmailVerified),
			Name:          idClaims.Name,
		})
	}
	return rp.CodeExchangeHandler(callback, r.rp)
}

func generateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// GenerateNonce generates a random nonce string.
func GenerateNonce() (string, error) {
	b, err := generateRandomBytes(32)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
