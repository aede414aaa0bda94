package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"famlocator.app/internal/account"
	"famlocator.app/internal/audit"
	"famlocator.app/internal/auth"
	"famlocator.app/internal/chat"
	"famlocator.app/internal/members"
	"famlocator.app/internal/obs"
	"famlocator.app/internal/settings"
	"famlocator.app/internal/store"
)

var errChatDisabled = errors.New("chat is disabled")

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorTable maps service errors to responses. The first match wins.
var errorTable = []errorMapping{
	{account.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{members.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{chat.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{settings.ErrInvalid, http.StatusBadRequest, "invalid_settings"},
	{account.ErrEmailTaken, http.StatusConflict, "email_taken"},
	{account.ErrMailDelivery, http.StatusBadGateway, "mail_delivery"},
	{account.ErrTokenInvalid, http.StatusBadRequest, "token_invalid"},
	{account.ErrTokenExpired, http.StatusGone, "token_expired"},
	{account.ErrForbidden, http.StatusForbidden, "forbidden"},
	{account.ErrUserNotFound, http.StatusNotFound, "user_not_found"},
	{account.ErrNotPending, http.StatusConflict, "not_pending"},
	{account.ErrAlreadyVerified, http.StatusConflict, "already_verified"},
	{account.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
	{account.ErrNeedsVerification, http.StatusForbidden, "needs_verification"},
	{account.ErrNeedsApproval, http.StatusForbidden, "needs_approval"},
	{account.ErrSuspended, http.StatusForbidden, "suspended"},
	{account.ErrInactive, http.StatusForbidden, "inactive"},
	{account.ErrAdminConfigured, http.StatusConflict, "admin_configured"},
	{account.ErrAdminProtected, http.StatusConflict, "admin_protected"},
	{account.ErrStatusConflict, http.StatusConflict, "status_conflict"},
	{members.ErrMemberNotFound, http.StatusNotFound, "member_not_found"},
	{chat.ErrChatNotFound, http.StatusNotFound, "chat_not_found"},
	{chat.ErrNotMember, http.StatusForbidden, "not_member"},
	{chat.ErrGroupChat, http.StatusConflict, "group_chat"},
	{errChatDisabled, http.StatusForbidden, "chat_disabled"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "unauthorized"},
	{store.ErrNotFound, http.StatusNotFound, "not_found"},
}

// writeServiceError answers with the mapped status for err. Unmapped errors
// are logged and reported as a generic internal failure.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorTable {
		if errors.Is(err, m.err) {
			writeError(w, r, m.status, m.code, err.Error())
			return
		}
	}
	obs.Logger().Error("request failed",
		zap.String("request_id", audit.RequestIDFromContext(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
}
