package server

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	gridmiddleware "github.com/terraconstructs/gridgate/internal/middleware"
	"github.com/terraconstructs/gridgate/internal/services/iam"
	"github.com/terraconstructs/gridgate/internal/telemetry"
)

//go:embed templates/*.html
var templateFS embed.FS

var loginTemplate = template.Must(template.ParseFS(templateFS, "templates/login.html"))

// loginPageData is the template context for login.html.
type loginPageData struct {
	Title       string
	Email       string
	Error       string
	OIDCEnabled bool
}

// loginRequest is the JSON form of POST /auth/local.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse answers a successful JSON login.
type loginResponse struct {
	Identity *auth.Identity `json:"identity"`
	Redirect string         `json:"redirect"`
}

// authHandlers groups the login, logout and identity endpoints.
type authHandlers struct {
	authn    *iam.SessionAuthenticator
	throttle *auth.LoginThrottle
	rp       *auth.RelyingParty
	metrics  *telemetry.Metrics
	logger   *zap.Logger
}

// currentSession returns the session placed on the context by the session middleware.
func currentSession(w http.ResponseWriter, r *http.Request) (*iam.Session, bool) {
	sess, ok := iam.SessionFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusInternalServerError, "session unavailable")
	}
	return sess, ok
}

// handleLoginPage renders the login form with any pending flash. An already
// authenticated session goes straight to its pending redirect.
func (h *authHandlers) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	if _, authenticated := auth.IdentityFromContext(r.Context()); authenticated {
		target := auth.SafeRedirect(sess.TakeRedirect())
		if !h.save(w, r, sess) {
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	message, email := sess.TakeFlash()
	if sess.Dirty() && !h.save(w, r, sess) {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := loginTemplate.Execute(w, loginPageData{
		Title:       "Sign in",
		Email:       email,
		Error:       message,
		OIDCEnabled: h.rp != nil,
	}); err != nil {
		h.logger.Error("failed to render login page", zap.Error(err))
	}
}

// handleLocalLogin verifies email and password from a form or JSON body.
// Browsers are redirected; JSON clients get a JSON answer.
func (h *authHandlers) handleLocalLogin(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	jsonClient := isJSON(r)
	creds, err := readCredentials(r, jsonClient)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequestBody.Error())
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), telemetry.TracerAuth, "auth.LocalLogin",
		attribute.String(telemetry.AttrAuthStrategy, iam.StrategyLocal))
	defer span.End()

	clientIP := auth.ClientIP(r)
	throttleKeys := auth.ThrottleKeys(clientIP, creds.Email)
	var identity *auth.Identity
	if h.throttle.Allow(throttleKeys...) {
		identity, err = h.authn.Verify(ctx, iam.StrategyLocal, creds)
	} else {
		h.logger.Warn("login throttled", zap.String("client", clientIP))
		err = auth.ErrAuthenticationFailed
	}
	span.SetAttributes(attribute.Bool(telemetry.AttrAuthSuccess, err == nil))
	h.metrics.RecordLogin(iam.StrategyLocal, err == nil)

	if err != nil {
		if !errors.Is(err, auth.ErrAuthenticationFailed) {
			telemetry.RecordError(span, err)
			h.logger.Error("credential verification failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "login unavailable")
			return
		}
		h.throttle.Fail(throttleKeys...)
		h.rejectLogin(w, r, sess, creds.Email, jsonClient)
		return
	}
	h.throttle.Reset(throttleKeys...)

	h.completeLogin(w, r, sess, identity, jsonClient)
}

// rejectLogin reports a failed login the same way whatever the cause.
func (h *authHandlers) rejectLogin(w http.ResponseWriter, r *http.Request, sess *iam.Session, email string, jsonClient bool) {
	message := auth.ErrAuthenticationFailed.Error()
	if jsonClient {
		writeError(w, http.StatusUnauthorized, message)
		return
	}
	sess.SetFlash(message, email)
	if !h.save(w, r, sess) {
		return
	}
	http.Redirect(w, r, gridmiddleware.LoginPath, http.StatusFound)
}

// completeLogin consumes the pending redirect, attaches identity and answers.
func (h *authHandlers) completeLogin(w http.ResponseWriter, r *http.Request, sess *iam.Session, identity *auth.Identity, jsonClient bool) {
	target := auth.SafeRedirect(sess.TakeRedirect())
	if err := h.authn.Attach(r.Context(), w, r, sess, identity); err != nil {
		h.logger.Error("failed to attach identity to session", zap.String("user_id", identity.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "login unavailable")
		return
	}
	h.logger.Info("login succeeded", zap.String("user_id", identity.ID), zap.String("provider", identity.Provider))

	if jsonClient {
		writeJSON(w, http.StatusOK, loginResponse{Identity: identity, Redirect: target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleOIDCCallback receives claims verified by the relying party.
func (h *authHandlers) handleOIDCCallback(w http.ResponseWriter, r *http.Request, claims auth.ExternalClaims) {
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), telemetry.TracerAuth, "auth.OIDCLogin",
		attribute.String(telemetry.AttrAuthStrategy, iam.StrategyOIDC))
	defer span.End()

	identity, err := h.authn.Verify(ctx, iam.StrategyOIDC, iam.Credentials{External: &claims})
	h.metrics.RecordLogin(iam.StrategyOIDC, err == nil)
	if err != nil {
		if !errors.Is(err, auth.ErrAuthenticationFailed) {
			telemetry.RecordError(span, err)
			h.logger.Error("external identity verification failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "login unavailable")
			return
		}
		h.rejectLogin(w, r, sess, claims.Email, false)
		return
	}

	h.completeLogin(w, r, sess, identity, false)
}

// handleLogout destroys the session and returns to the login page.
func (h *authHandlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := iam.SessionFromContext(r.Context())
	if err := h.authn.Destroy(r.Context(), w, sess); err != nil {
		h.logger.Error("failed to destroy session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	http.Redirect(w, r, gridmiddleware.LoginPath, http.StatusFound)
}

// handleMe returns the current identity.
func handleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, auth.ErrUnauthenticated.Error())
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

func (h *authHandlers) save(w http.ResponseWriter, r *http.Request, sess *iam.Session) bool {
	if err := h.authn.Save(r.Context(), w, sess); err != nil {
		h.logger.Error("session save failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "session unavailable")
		return false
	}
	return true
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}

func readCredentials(r *http.Request, jsonBody bool) (iam.Credentials, error) {
	if jsonBody {
		var req loginRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
		if err := dec.Decode(&req); err != nil {
			return iam.Credentials{}, err
		}
		return iam.Credentials{Email: req.Email, Password: req.Password}, nil
	}
	if err := r.ParseForm(); err != nil {
		return iam.Credentials{}, err
	}
	return iam.Credentials{
		Email:    r.PostFormValue("email"),
		Password: r.PostFormValue("password"),
	}, nil
}
