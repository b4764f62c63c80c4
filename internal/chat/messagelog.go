package chat

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/npezzotti/go-chatsync/internal/stats"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	maxTextLength   = 4096
)

func validLocation(l *types.Location) bool {
	return l.Latitude >= -90 && l.Latitude <= 90 && l.Longitude >= -180 && l.Longitude <= 180
}

// preparePhoto stores photos under a fresh server id. Photos are immutable,
// so a client supplied id is never trusted.
func (s *Service) preparePhoto(p types.Photo) types.Photo {
	p.Id = newPhotoId()
	if p.Date.IsZero() {
		p.Date = s.now()
	}
	p.Date = p.Date.UTC()
	return p
}

// Append adds a message to the end of a conversation log. The author must
// hold an active membership. Under the conversation lock the message is
// persisted together with the unread increments of the other active and
// pending members, then published to readers and handed to the fan-out.
func (s *Service) Append(ctx context.Context, conversationId, authorId, text string, photo *types.Photo, location *types.Location) (types.Message, error) {
	if text == "" && photo == nil && location == nil {
		return types.Message{}, fmt.Errorf("%w: message is empty", ErrInvalidArgument)
	}
	if len(text) > maxTextLength {
		return types.Message{}, fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidArgument, maxTextLength)
	}
	if location != nil && !validLocation(location) {
		return types.Message{}, fmt.Errorf("%w: location out of range", ErrInvalidArgument)
	}

	c, err := s.conversation(conversationId)
	if err != nil {
		return types.Message{}, err
	}

	msg := types.Message{
		Id:             newMessageId(),
		ConversationId: conversationId,
		AuthorId:       authorId,
		Text:           text,
	}
	if photo != nil {
		p := s.preparePhoto(*photo)
		msg.Photo = &p
	}
	if location != nil {
		l := *location
		msg.Location = &l
	}

	if err := c.lock.acquire(ctx); err != nil {
		return types.Message{}, err
	}
	defer c.lock.release()

	st := c.load()
	pos, ok := st.member(authorId)
	if !ok || st.memberships[pos].Status != types.StatusActive {
		return types.Message{}, ErrNotAMember
	}

	msg.Timestamp = s.now()
	msg.SeqId = 1
	if last := st.lastMessage(); last != nil {
		// ties and clock skew resolve to insertion order
		if !msg.Timestamp.After(last.Timestamp) {
			msg.Timestamp = last.Timestamp.Add(time.Microsecond)
		}
		msg.SeqId = last.SeqId + 1
	}

	next := st.clone()
	unread := incrementUnread(next, authorId)
	next.messages = append(st.messages, msg)
	next.info.UpdatedAt = msg.Timestamp

	if err := s.db.AppendMessage(ctx, msg, unread); err != nil {
		return types.Message{}, fmt.Errorf("append message: %w", err)
	}

	c.msgIndex.Store(msg.Id, len(next.messages)-1)
	if msg.Photo != nil {
		s.photos.Store(msg.Photo.Id, photoRef{photo: *msg.Photo, conversationId: conversationId})
	}
	c.publish(next)
	s.stats.Incr(stats.MessagesAppended)

	s.hub.deliver(next.subscribers(), types.Event{
		MessageAppended: &types.MessageAppended{
			ConversationId: conversationId,
			Message:        msg,
		},
	})
	s.deliverUnread(next, unread)

	return msg, nil
}

// ReadRange returns up to limit messages strictly after afterId, oldest
// first. An empty afterId starts at the beginning of the log. The sequence
// iterates an immutable snapshot and may be consumed at any time.
func (s *Service) ReadRange(conversationId, afterId string, limit int) (iter.Seq[types.Message], error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	limit = min(limit, MaxPageSize)

	c, err := s.conversation(conversationId)
	if err != nil {
		return nil, err
	}

	messages := c.load().messages

	start := 0
	if afterId != "" {
		pos, ok := c.msgIndex.Load(afterId)
		if !ok {
			return nil, ErrMessageNotFound
		}
		// the index may already hold a message newer than this snapshot
		start = min(pos.(int)+1, len(messages))
	}
	end := min(start+limit, len(messages))
	page := messages[start:end]

	return func(yield func(types.Message) bool) {
		for _, msg := range page {
			if !yield(msg) {
				return
			}
		}
	}, nil
}

// photoRef ties a photo to the conversation whose message carries it. Avatars
// have no conversation and are visible to everyone.
type photoRef struct {
	photo          types.Photo
	conversationId string
}

func (s *Service) loadPhoto(photoId string) (photoRef, error) {
	p, ok := s.photos.Load(photoId)
	if !ok {
		return photoRef{}, ErrPhotoNotFound
	}
	return p.(photoRef), nil
}

func (s *Service) GetPhoto(photoId string) (types.Photo, error) {
	ref, err := s.loadPhoto(photoId)
	if err != nil {
		return types.Photo{}, err
	}
	return ref.photo, nil
}

// PhotoFor returns the photo if userId may see it: any avatar, or a message
// photo of a conversation the user has not left.
func (s *Service) PhotoFor(userId, photoId string) (types.Photo, error) {
	ref, err := s.loadPhoto(photoId)
	if err != nil {
		return types.Photo{}, err
	}
	if ref.conversationId == "" {
		return ref.photo, nil
	}

	m, err := s.Membership(ref.conversationId, userId)
	if err != nil {
		return types.Photo{}, err
	}
	if m.Status == types.StatusLeft {
		return types.Photo{}, ErrNotAMember
	}
	return ref.photo, nil
}
