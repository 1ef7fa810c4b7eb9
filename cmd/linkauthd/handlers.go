package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
	"github.com/MrEthical07/goLinkAuth/metrics/export/prometheus"
	"github.com/MrEthical07/goLinkAuth/middleware"
)

const maxBodyBytes = 16 << 10

type api struct {
	engine *goLinkAuth.Engine
	logger *zap.Logger
}

func newRouter(engine *goLinkAuth.Engine, logger *zap.Logger) *mux.Router {
	a := &api{engine: engine, logger: logger}
	r := mux.NewRouter()

	r.HandleFunc("/healthz", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", prometheus.NewCollector(engine).Handler()).Methods(http.MethodGet)

	r.HandleFunc("/magic-link", a.requestMagicLink).Methods(http.MethodPost)
	r.HandleFunc("/magic-link/consume", a.consumeMagicLink).Methods(http.MethodGet)
	r.HandleFunc("/login/password", a.passwordLogin).Methods(http.MethodPost)
	r.HandleFunc("/second-factor/verify", a.verifySecondFactor).Methods(http.MethodPost)
	r.HandleFunc("/second-factor/cancel", a.cancelPending).Methods(http.MethodPost)

	authed := r.PathPrefix("").Subrouter()
	authed.Use(middleware.RequireSession(engine))
	authed.HandleFunc("/second-factor/setup/begin", a.beginSetup).Methods(http.MethodPost)
	authed.HandleFunc("/second-factor/setup", a.confirmSetup).Methods(http.MethodPost)
	authed.HandleFunc("/second-factor/disable", a.disableSecondFactor).Methods(http.MethodPost)
	authed.HandleFunc("/second-factor/backup-codes", a.regenerateBackupCodes).Methods(http.MethodPost)
	authed.HandleFunc("/logout", a.logout).Methods(http.MethodPost)
	authed.HandleFunc("/logout/all", a.logoutAll).Methods(http.MethodPost)

	privileged := r.PathPrefix("/admin").Subrouter()
	privileged.Use(middleware.RequirePrivileged(engine))
	privileged.HandleFunc("/ping", a.adminPing).Methods(http.MethodGet)

	return r
}

type loginResponse struct {
	State            string     `json:"state"`
	Redirect         string     `json:"redirect,omitempty"`
	AccessToken      string     `json:"access_token,omitempty"`
	SessionID        string     `json:"session_id,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	PendingID        string     `json:"pending_id,omitempty"`
	PendingExpiresAt *time.Time `json:"pending_expires_at,omitempty"`
	EmergencyBypass  bool       `json:"emergency_bypass,omitempty"`
	GraceDeadline    *time.Time `json:"grace_deadline,omitempty"`
	GraceRemaining   int64      `json:"grace_remaining_seconds,omitempty"`
}

func toLoginResponse(res *goLinkAuth.LoginResult) loginResponse {
	out := loginResponse{
		State:           res.State.String(),
		Redirect:        res.Redirect,
		PendingID:       res.PendingID,
		EmergencyBypass: res.EmergencyBypass,
	}
	if res.Session != nil {
		exp := res.Session.ExpiresAt
		out.AccessToken = res.Session.AccessToken
		out.SessionID = res.Session.ID
		out.ExpiresAt = &exp
	}
	if res.PendingID != "" {
		exp := res.PendingExpiresAt
		out.PendingExpiresAt = &exp
	}
	if res.Grace != nil {
		d := res.Grace.Deadline
		out.GraceDeadline = &d
		out.GraceRemaining = int64(res.Grace.Remaining / time.Second)
	}
	return out
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	h := a.engine.Health(r.Context())
	status := http.StatusOK
	if !h.RedisAvailable || !h.StoreAvailable {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"redis": h.RedisAvailable,
		"store": h.StoreAvailable,
	})
}

func (a *api) requestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Redirect   string `json:"redirect"`
	}
	if !decode(w, r, &req) {
		return
	}
	ctx := middleware.WithClientMetadata(r)
	if err := a.engine.RequestMagicLink(ctx, req.Identifier, req.Redirect); err != nil {
		a.writeError(w, err)
		return
	}
	// Same answer whether or not the identifier exists.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (a *api) consumeMagicLink(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := a.engine.ConsumeMagicLink(middleware.WithClientMetadata(r), q.Get("token"), q.Get("pid"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

func (a *api) passwordLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identifier string `json:"identifier"`
		Password   string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.LoginWithPassword(middleware.WithClientMetadata(r), req.Identifier, req.Password)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

func (a *api) verifySecondFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PendingID string `json:"pending_id"`
		Code      string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}
	res, err := a.engine.VerifySecondFactor(middleware.WithClientMetadata(r), req.PendingID, req.Code)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLoginResponse(res))
}

func (a *api) cancelPending(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PendingID string `json:"pending_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := a.engine.CancelPendingLogin(r.Context(), req.PendingID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) beginSetup(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	setup, err := a.engine.BeginSecondFactorSetup(r.Context(), auth.PrincipalID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
	})
}

func (a *api) confirmSetup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
		Code   string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	codes, err := a.engine.SetupSecondFactor(r.Context(), auth.PrincipalID, req.Secret, req.Code)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

func (a *api) disableSecondFactor(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	if err := a.engine.DisableSecondFactor(r.Context(), auth.PrincipalID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) regenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if !decode(w, r, &req) {
		return
	}
	auth, _ := middleware.AuthResultFromContext(r.Context())
	codes, err := a.engine.RegenerateBackupCodes(r.Context(), auth.PrincipalID, req.Code)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	if err := a.engine.Logout(r.Context(), auth.SessionID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) logoutAll(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	if err := a.engine.LogoutAll(r.Context(), auth.PrincipalID); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) adminPing(w http.ResponseWriter, r *http.Request) {
	auth, _ := middleware.AuthResultFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"principal_id": auth.PrincipalID})
}

func statusFor(err error) int {
	var locked *goLinkAuth.LockedOutError
	switch {
	case errors.As(err, &locked),
		errors.Is(err, goLinkAuth.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, goLinkAuth.ErrInvalidOrExpiredToken),
		errors.Is(err, goLinkAuth.ErrUnknownPrincipal),
		errors.Is(err, goLinkAuth.ErrInvalidCredentials),
		errors.Is(err, goLinkAuth.ErrInvalidCode),
		errors.Is(err, goLinkAuth.ErrPendingSessionNotFound),
		errors.Is(err, goLinkAuth.ErrSessionInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, goLinkAuth.ErrRoleRequiresSecondFactor),
		errors.Is(err, goLinkAuth.ErrGracePeriodExpired),
		errors.Is(err, goLinkAuth.ErrNotAdministrator):
		return http.StatusForbidden
	case errors.Is(err, goLinkAuth.ErrSecondFactorAlreadyEnabled),
		errors.Is(err, goLinkAuth.ErrSecondFactorNotEnabled):
		return http.StatusConflict
	case errors.Is(err, goLinkAuth.ErrInvalidRedirect):
		return http.StatusBadRequest
	case errors.Is(err, goLinkAuth.ErrEngineNotReady):
		return http.StatusNotImplemented
	default:
		return http.StatusServiceUnavailable
	}
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		a.logger.Error("request failed", zap.Error(err))
	}
	var locked *goLinkAuth.LockedOutError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.FormatInt(locked.RemainingSeconds(), 10))
	}
	writeJSON(w, status, map[string]string{"error": goLinkAuth.PublicMessage(err)})
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
