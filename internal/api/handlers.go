package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type UpdateAccountRequest struct {
	DisplayName string       `json:"display_name"`
	Avatar      *types.Photo `json:"avatar"`
	Password    string       `json:"password"`
}

type PresenceRequest struct {
	State types.PresenceState `json:"state"`
}

// SessionResponse carries the token for clients that use the Authorization
// header instead of the cookie.
type SessionResponse struct {
	User  types.User `json:"user"`
	Token string     `json:"token"`
}

func (s *ChatSyncApp) writeJson(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("json encode")
	}
}

func (s *ChatSyncApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error().Err(errResp).Int("status", errResp.StatusCode).Msg("request failed")
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func decodeJson(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// startSession issues a token for userId as both a cookie and a response body.
func (s *ChatSyncApp) startSession(w http.ResponseWriter, statusCode int, user types.User) {
	token, err := s.createJwtForSession(user.Id, s.tokenTTL)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, s.tokenTTL))
	s.writeJson(w, statusCode, SessionResponse{User: user, Token: token})
}

func (s *ChatSyncApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	user, err := s.svc.CreateUser(r.Context(), req.Username)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	if err := s.creds.SetPasswordHash(r.Context(), user.Id, pwdHash); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if req.DisplayName != "" {
		user, err = s.svc.UpdateProfile(r.Context(), user.Id, req.DisplayName, nil)
		if err != nil {
			s.writeError(w, fromChatError(err))
			return
		}
	}

	s.startSession(w, http.StatusCreated, user)
}

func (s *ChatSyncApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := decodeJson(r, &lr); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if lr.Username == "" || lr.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	user, err := s.svc.GetUserByUsername(lr.Username)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	pwdHash, err := s.creds.PasswordHash(r.Context(), user.Id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, NewUnauthorizedError())
		} else {
			s.writeError(w, NewInternalServerError(err))
		}
		return
	}

	if !verifyPassword(pwdHash, lr.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	s.startSession(w, http.StatusOK, user)
}

func (s *ChatSyncApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	cookie := createJwtCookie("", 0)
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatSyncApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.svc.GetUser(userId)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *ChatSyncApp) account(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := s.svc.GetUser(userId)
		if err != nil {
			s.writeError(w, fromChatError(err))
			return
		}

		s.writeJson(w, http.StatusOK, user)
	case http.MethodPut:
		var req UpdateAccountRequest
		if err := decodeJson(r, &req); err != nil {
			s.writeError(w, NewBadRequestError())
			return
		}

		if req.Password != "" {
			pwdHash, err := hashPassword(req.Password)
			if err != nil {
				s.writeError(w, NewInternalServerError(err))
				return
			}
			if err := s.creds.SetPasswordHash(r.Context(), userId, pwdHash); err != nil {
				s.writeError(w, NewInternalServerError(err))
				return
			}
		}

		user, err := s.svc.UpdateProfile(r.Context(), userId, req.DisplayName, req.Avatar)
		if err != nil {
			s.writeError(w, fromChatError(err))
			return
		}

		s.writeJson(w, http.StatusOK, user)
	default:
		s.writeError(w, NewMethodNotAllowedError())
	}
}

func (s *ChatSyncApp) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.GetUserByUsername(r.PathValue("username"))
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *ChatSyncApp) setPresence(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req PresenceRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	user, err := s.svc.SetPresence(r.Context(), userId, req.State)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, user)
}

func (s *ChatSyncApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if _, err := s.svc.GetUser(userId); err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("error upgrading connection")
		return
	}

	if _, err := s.cs.Attach(r.Context(), conn, userId); err != nil {
		s.log.Warn().Err(err).Str("user_id", userId).Msg("failed to attach client")
	}
}
