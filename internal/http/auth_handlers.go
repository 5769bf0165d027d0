package http

import (
	"errors"
	"net/http"

	"voice-commerce-service/internal/store/auth"
)

// authError maps store errors to a status and a client message. Unknown
// errors are logged and reported as internal.
func (a *api) authError(w http.ResponseWriter, err error, op string) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, auth.ErrMissingFields),
		errors.Is(err, auth.ErrUserExists),
		errors.Is(err, auth.ErrIncorrectPassword):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidSession):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		a.logger.Error().Err(err).Str("op", op).Msg("Auth store failure")
		writeError(w, status, "Internal server error")
		return
	}
	writeError(w, status, err.Error())
}

func (a *api) register(w http.ResponseWriter, r *http.Request) {
	var req auth.Registration
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	user, err := a.Auth.Register(req)
	a.metrics.RecordAuth("register", err)
	if err != nil {
		a.authError(w, err, "register")
		return
	}
	a.logger.Info().Str("userId", user.ID).Msg("User registered")
	writeOK(w, http.StatusCreated, map[string]any{
		"message": "User registered successfully",
		"user":    user,
	})
}

func (a *api) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	res, err := a.Auth.Login(req.Email, req.Password)
	a.metrics.RecordAuth("login", err)
	if err != nil {
		a.authError(w, err, "login")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"message":   "Login successful",
		"user":      res.User,
		"token":     res.Token,
		"expiresAt": res.ExpiresAt,
	})
}

func (a *api) logout(w http.ResponseWriter, r *http.Request) {
	err := a.Auth.Logout(tokenFrom(r.Context()))
	a.metrics.RecordAuth("logout", err)
	if err != nil {
		a.authError(w, err, "logout")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Logout successful"})
}

func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	user, err := a.Auth.GetUser(userFrom(r.Context()).ID)
	if err != nil {
		a.authError(w, err, "get profile")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"user": user})
}

func (a *api) updateProfile(w http.ResponseWriter, r *http.Request) {
	var upd auth.ProfileUpdate
	if err := decodeJSON(r, &upd); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	user, err := a.Auth.UpdateProfile(userFrom(r.Context()).ID, upd)
	if err != nil {
		a.authError(w, err, "update profile")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"message": "Profile updated successfully",
		"user":    user,
	})
}

func (a *api) changePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	err := a.Auth.ChangePassword(userFrom(r.Context()).ID, req.CurrentPassword, req.NewPassword)
	a.metrics.RecordAuth("change_password", err)
	if err != nil {
		a.authError(w, err, "change password")
		return
	}
	writeOK(w, http.StatusOK, map[string]any{"message": "Password changed successfully"})
}

// deleteAccount requires the password again. The user's cart and voice
// sessions go with the account.
func (a *api) deleteAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	userID := userFrom(r.Context()).ID

	ok, err := a.Auth.VerifyPassword(userID, req.Password)
	if err != nil {
		a.authError(w, err, "delete account")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid password")
		return
	}
	err = a.Auth.DeleteUser(userID)
	a.metrics.RecordAuth("delete", err)
	if err != nil {
		a.authError(w, err, "delete account")
		return
	}

	if err := a.Carts.Clear(userID); err != nil {
		a.logger.Warn().Err(err).Str("userId", userID).Msg("Failed to clear cart of deleted user")
	}
	for _, info := range a.Voice.Sessions() {
		if info.UserID == userID {
			_ = a.Voice.Stop(info.ID)
		}
	}

	a.logger.Info().Str("userId", userID).Msg("User deleted")
	writeOK(w, http.StatusOK, map[string]any{"message": "Account deleted successfully"})
}

func (a *api) validateSession(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"user": userFrom(r.Context())})
}

func (a *api) listUsers(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, map[string]any{"users": a.Auth.ListUsers()})
}
