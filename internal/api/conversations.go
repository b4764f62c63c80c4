package api

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/types"
)

type CreateConversationRequest struct {
	DisplayName string            `json:"display_name"`
	Members     []chat.MemberSpec `json:"members"`
}

type RenameConversationRequest struct {
	DisplayName string `json:"display_name"`
}

type AddMemberRequest struct {
	Username string                 `json:"username"`
	Status   types.MembershipStatus `json:"status"`
}

type MembershipRequest struct {
	Status types.MembershipStatus `json:"status"`
}

type PostMessageRequest struct {
	Text     string          `json:"text"`
	Photo    *types.Photo    `json:"photo"`
	Location *types.Location `json:"location"`
}

// requireMember resolves the caller's membership in the {id} conversation.
// With activeOnly unset any status other than left is accepted.
func (s *ChatSyncApp) requireMember(w http.ResponseWriter, r *http.Request, activeOnly bool) (string, types.Membership, bool) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return "", types.Membership{}, false
	}

	m, err := s.svc.Membership(r.PathValue("id"), userId)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return "", types.Membership{}, false
	}

	if m.Status == types.StatusLeft || (activeOnly && m.Status != types.StatusActive) {
		s.writeError(w, NewForbiddenError())
		return "", types.Membership{}, false
	}

	return userId, m, true
}

func (s *ChatSyncApp) listConversations(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	summaries, err := s.svc.ListActiveConversations(userId)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, summaries)
}

func (s *ChatSyncApp) createConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req CreateConversationRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	conv, err := s.svc.CreateConversation(r.Context(), userId, req.DisplayName, req.Members)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, conv)
}

func (s *ChatSyncApp) getConversation(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.requireMember(w, r, false); !ok {
		return
	}

	conv, err := s.svc.GetConversation(r.PathValue("id"))
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *ChatSyncApp) renameConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req RenameConversationRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	conv, err := s.svc.RenameConversation(r.Context(), r.PathValue("id"), userId, req.DisplayName)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, conv)
}

func (s *ChatSyncApp) addMember(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.requireMember(w, r, true); !ok {
		return
	}

	var req AddMemberRequest
	if err := decodeJson(r, &req); err != nil || req.Username == "" {
		s.writeError(w, NewBadRequestError())
		return
	}
	if req.Status == "" {
		req.Status = types.StatusPending
	}

	user, err := s.svc.GetUserByUsername(req.Username)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	m, err := s.svc.AddMember(r.Context(), r.PathValue("id"), user.Id, req.Status)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, m)
}

func (s *ChatSyncApp) setMembership(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req MembershipRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	m, err := s.svc.SetMembershipStatus(r.Context(), r.PathValue("id"), userId, req.Status)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, m)
}

func (s *ChatSyncApp) leaveConversation(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	m, err := s.svc.LeaveConversation(r.Context(), r.PathValue("id"), userId)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, m)
}

func (s *ChatSyncApp) listMessages(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := s.requireMember(w, r, false); !ok {
		return
	}

	var limit int
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			s.writeError(w, NewBadRequestError())
			return
		}
	}

	seq, err := s.svc.ReadRange(r.PathValue("id"), r.URL.Query().Get("after"), limit)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	messages := slices.Collect(seq)
	if messages == nil {
		messages = []types.Message{}
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *ChatSyncApp) postMessage(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	var req PostMessageRequest
	if err := decodeJson(r, &req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msg, err := s.svc.Append(r.Context(), r.PathValue("id"), userId, req.Text, req.Photo, req.Location)
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusCreated, msg)
}

func (s *ChatSyncApp) markRead(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.svc.ResetUnread(r.Context(), r.PathValue("id"), userId); err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatSyncApp) getPhoto(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	photo, err := s.svc.PhotoFor(userId, r.PathValue("id"))
	if err != nil {
		s.writeError(w, fromChatError(err))
		return
	}

	s.writeJson(w, http.StatusOK, photo)
}
