package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/npezzotti/go-chatsync/internal/types"
)

const (
	insertPhotoQuery = "INSERT INTO photos (id, picture, thumbnail, taken_at) VALUES ($1, $2, $3, $4) " +
		"ON CONFLICT (id) DO NOTHING"
	upsertMembershipQuery = "INSERT INTO memberships (conversation_id, user_id, position, status, unread_count, created_at, updated_at) " +
		"VALUES ($1, $2, $3, $4, $5, $6, $7) " +
		"ON CONFLICT (conversation_id, user_id) DO UPDATE SET status = EXCLUDED.status, " +
		"unread_count = EXCLUDED.unread_count, updated_at = EXCLUDED.updated_at"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertPhoto(ctx context.Context, ex execer, p *types.Photo) error {
	if p == nil {
		return nil
	}
	_, err := ex.ExecContext(ctx, insertPhotoQuery, p.Id, p.Picture, p.Thumbnail, p.Date.UTC())
	return err
}

func photoId(p *types.Photo) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: p.Id, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func (db *PgRepository) CreateUser(ctx context.Context, user types.User) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (id, username, display_name, presence, last_seen_at, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		user.Id,
		user.Username,
		user.DisplayName,
		string(user.Presence),
		nullTime(user.LastSeenAt),
		user.CreatedAt.UTC(),
		user.UpdatedAt.UTC(),
	)

	return err
}

func (db *PgRepository) UpdateUserProfile(ctx context.Context, user types.User) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = insertPhoto(ctx, tx, user.Avatar); err != nil {
		return fmt.Errorf("insert avatar: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE users SET display_name = $2, avatar_id = $3, updated_at = $4 WHERE id = $1",
		user.Id,
		user.DisplayName,
		photoId(user.Avatar),
		user.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) UpdatePresence(ctx context.Context, userId string, state types.PresenceState, lastSeenAt *time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE users SET presence = $2, last_seen_at = COALESCE($3, last_seen_at) WHERE id = $1",
		userId,
		string(state),
		nullTime(lastSeenAt),
	)

	return err
}

func (db *PgRepository) CreateConversation(ctx context.Context, conv types.Conversation, memberships []types.Membership) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO conversations (id, display_name, creator_id, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		conv.Id,
		conv.DisplayName,
		conv.CreatorId,
		conv.CreatedAt.UTC(),
		conv.UpdatedAt.UTC(),
	)
	if err != nil {
		return err
	}

	for i, m := range memberships {
		_, err = tx.ExecContext(ctx, upsertMembershipQuery,
			m.ConversationId,
			m.UserId,
			i,
			string(m.Status),
			m.UnreadCount,
			m.CreatedAt.UTC(),
			m.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert membership: %w", err)
		}
	}

	return tx.Commit()
}

func (db *PgRepository) RenameConversation(ctx context.Context, conversationId, displayName string, updatedAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE conversations SET display_name = $2, updated_at = $3 WHERE id = $1",
		conversationId,
		displayName,
		updatedAt.UTC(),
	)

	return err
}

func (db *PgRepository) UpsertMembership(ctx context.Context, m types.Membership, position int) error {
	_, err := db.conn.ExecContext(ctx, upsertMembershipQuery,
		m.ConversationId,
		m.UserId,
		position,
		string(m.Status),
		m.UnreadCount,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	)

	return err
}

func (db *PgRepository) AppendMessage(ctx context.Context, msg types.Message, unreadUserIds []string) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = insertPhoto(ctx, tx, msg.Photo); err != nil {
		return fmt.Errorf("insert photo: %w", err)
	}

	var lat, lng sql.NullFloat64
	if msg.Location != nil {
		lat = sql.NullFloat64{Float64: msg.Location.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: msg.Location.Longitude, Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (id, seq_id, conversation_id, author_id, text, photo_id, latitude, longitude, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		msg.Id,
		msg.SeqId,
		msg.ConversationId,
		msg.AuthorId,
		msg.Text,
		photoId(msg.Photo),
		lat,
		lng,
		msg.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if len(unreadUserIds) > 0 {
		_, err = tx.ExecContext(ctx,
			"UPDATE memberships SET unread_count = unread_count + 1 "+
				"WHERE conversation_id = $1 AND user_id = ANY($2)",
			msg.ConversationId,
			pq.Array(unreadUserIds),
		)
		if err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = $2 WHERE id = $1",
		msg.ConversationId,
		msg.Timestamp.UTC(),
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) ResetUnread(ctx context.Context, conversationId, userId string) error {
	_, err := db.conn.ExecContext(ctx,
		"UPDATE memberships SET unread_count = 0 WHERE conversation_id = $1 AND user_id = $2",
		conversationId,
		userId,
	)

	return err
}

func (db *PgRepository) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT u.id, u.username, u.display_name, u.presence, u.last_seen_at, u.created_at, u.updated_at, "+
			"p.id, p.picture, p.thumbnail, p.taken_at "+
			"FROM users u LEFT JOIN photos p ON p.id = u.avatar_id ORDER BY u.created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]types.User, 0)
	for rows.Next() {
		var (
			u        types.User
			presence string
			lastSeen sql.NullTime
			photo    nullablePhoto
		)
		err := rows.Scan(
			&u.Id,
			&u.Username,
			&u.DisplayName,
			&presence,
			&lastSeen,
			&u.CreatedAt,
			&u.UpdatedAt,
			&photo.id,
			&photo.picture,
			&photo.thumbnail,
			&photo.date,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}

		u.Presence = types.PresenceState(presence)
		if lastSeen.Valid {
			t := lastSeen.Time
			u.LastSeenAt = &t
		}
		u.Avatar = photo.toPhoto()
		users = append(users, u)
	}

	return users, rows.Err()
}

func (db *PgRepository) ListConversations(ctx context.Context) ([]types.Conversation, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT id, display_name, creator_id, created_at, updated_at FROM conversations ORDER BY created_at",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	convs := make([]types.Conversation, 0)
	for rows.Next() {
		var c types.Conversation
		if err := rows.Scan(&c.Id, &c.DisplayName, &c.CreatorId, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}

	return convs, rows.Err()
}

func (db *PgRepository) ListMemberships(ctx context.Context) ([]types.Membership, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.conversation_id, m.user_id, u.username, m.status, m.unread_count, m.created_at, m.updated_at "+
			"FROM memberships m JOIN users u ON u.id = m.user_id "+
			"ORDER BY m.conversation_id, m.position",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	memberships := make([]types.Membership, 0)
	for rows.Next() {
		var (
			m      types.Membership
			status string
		)
		err := rows.Scan(
			&m.ConversationId,
			&m.UserId,
			&m.Username,
			&status,
			&m.UnreadCount,
			&m.CreatedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Status = types.MembershipStatus(status)
		memberships = append(memberships, m)
	}

	return memberships, rows.Err()
}

func (db *PgRepository) ListMessages(ctx context.Context, conversationId string) ([]types.Message, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT m.id, m.seq_id, m.conversation_id, m.author_id, m.text, m.latitude, m.longitude, m.created_at, "+
			"p.id, p.picture, p.thumbnail, p.taken_at "+
			"FROM messages m LEFT JOIN photos p ON p.id = m.photo_id "+
			"WHERE m.conversation_id = $1 ORDER BY m.seq_id ASC",
		conversationId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]types.Message, 0)
	for rows.Next() {
		var (
			msg      types.Message
			lat, lng sql.NullFloat64
			photo    nullablePhoto
		)
		err := rows.Scan(
			&msg.Id,
			&msg.SeqId,
			&msg.ConversationId,
			&msg.AuthorId,
			&msg.Text,
			&lat,
			&lng,
			&msg.Timestamp,
			&photo.id,
			&photo.picture,
			&photo.thumbnail,
			&photo.date,
		)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		if lat.Valid && lng.Valid {
			msg.Location = &types.Location{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		msg.Photo = photo.toPhoto()
		msg.Timestamp = msg.Timestamp.UTC()
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

type nullablePhoto struct {
	id        sql.NullString
	picture   []byte
	thumbnail []byte
	date      sql.NullTime
}

func (p nullablePhoto) toPhoto() *types.Photo {
	if !p.id.Valid {
		return nil
	}
	return &types.Photo{
		Id:        p.id.String,
		Picture:   p.picture,
		Thumbnail: p.thumbnail,
		Date:      p.date.Time.UTC(),
	}
}

func (db *PgRepository) SetPasswordHash(ctx context.Context, userId, passwordHash string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO credentials (user_id, password_hash, updated_at) VALUES ($1, $2, NOW()) "+
			"ON CONFLICT (user_id) DO UPDATE SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at",
		userId,
		passwordHash,
	)

	return err
}

func (db *PgRepository) PasswordHash(ctx context.Context, userId string) (string, error) {
	var hash string
	err := db.conn.QueryRowContext(ctx,
		"SELECT password_hash FROM credentials WHERE user_id = $1",
		userId,
	).Scan(&hash)

	return hash, err
}
