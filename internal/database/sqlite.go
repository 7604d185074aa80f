package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"roomchat/internal/database/migrations"
	"roomchat/internal/models"
	"roomchat/pkg/logger"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteDB is the single-node store. Times are kept as Unix milliseconds.
type SQLiteDB struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func NewSQLiteDB(ctx context.Context, path string) (*SQLiteDB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps transactions from tripping over SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	logger.Info("connected to database", "driver", "sqlite", "path", path)
	return &SQLiteDB{sqlDB: sqlDB}, nil
}

func (db *SQLiteDB) Close() error {
	if db == nil || db.sqlDB == nil {
		return nil
	}
	return db.sqlDB.Close()
}

func (db *SQLiteDB) Ping(ctx context.Context) error {
	return db.sqlDB.PingContext(ctx)
}

func (db *SQLiteDB) Migrate(ctx context.Context) error {
	files, err := schemaFiles(migrations.SQLite, "sqlite")
	if err != nil {
		return err
	}

	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, f := range files {
		if _, err := tx.ExecContext(ctx, f.sql); err != nil {
			return fmt.Errorf("apply %s: %w", f.name, err)
		}
	}
	return tx.Commit()
}

func (db *SQLiteDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := db.sqlDB.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (db *SQLiteDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	row := db.sqlDB.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (db *SQLiteDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	if email == "" {
		email = defaultEmail(username)
	}
	now := time.Now()
	res, err := db.sqlDB.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		username, email, passwordHash, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", sqliteError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:           int(id),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    fromMillis(toMillis(now)),
	}, nil
}

func (db *SQLiteDB) FindOrCreateUser(ctx context.Context, username string) (*models.User, error) {
	_, err := db.sqlDB.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (username, email, password_hash, created_at) VALUES (?, ?, '', ?)`,
		username, defaultEmail(username), toMillis(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", sqliteError(err))
	}
	return db.GetUserByUsername(ctx, username)
}

func (db *SQLiteDB) CreateRoom(ctx context.Context, name, description string) (*models.Room, error) {
	now := time.Now()
	res, err := db.sqlDB.ExecContext(ctx,
		`INSERT INTO chat_rooms (room_name, description, created_at) VALUES (?, ?, ?)`,
		name, description, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", sqliteError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Room{ID: int(id), Name: name, Description: description, CreatedAt: fromMillis(toMillis(now))}, nil
}

func (db *SQLiteDB) GetRoomByID(ctx context.Context, id int) (*models.Room, error) {
	var (
		room    models.Room
		created int64
	)
	err := db.sqlDB.QueryRowContext(ctx,
		`SELECT id, room_name, description, created_at FROM chat_rooms WHERE id = ?`, id,
	).Scan(&room.ID, &room.Name, &room.Description, &created)
	if err != nil {
		return nil, sqliteError(err)
	}
	room.CreatedAt = fromMillis(created)
	return &room, nil
}

func (db *SQLiteDB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `SELECT id, room_name, description, created_at FROM chat_rooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []*models.Room{}
	for rows.Next() {
		var (
			room    models.Room
			created int64
		)
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &created); err != nil {
			return nil, err
		}
		room.CreatedAt = fromMillis(created)
		rooms = append(rooms, &room)
	}
	return rooms, rows.Err()
}

func (db *SQLiteDB) SaveMessage(ctx context.Context, roomID, userID int, text string) (*models.Message, error) {
	now := toMillis(time.Now())
	res, err := db.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (room_id, user_id, message_text, created_at) VALUES (?, ?, ?, ?)`,
		roomID, userID, text, now)
	if err != nil {
		return nil, sqliteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Message{ID: id, RoomID: roomID, UserID: userID, Text: text, CreatedAt: fromMillis(now)}, nil
}

func (db *SQLiteDB) LoadRecentMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.user_id, u.username, m.message_text, m.created_at
		FROM messages m
		JOIN users u ON m.user_id = u.id
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		var (
			msg     models.Message
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Username, &msg.Text, &created); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMillis(created)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

func (db *SQLiteDB) OpenConnection(ctx context.Context, userID int, connectionID string, roomID int) (*models.ConnectionEvent, error) {
	tx, err := db.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := toMillis(time.Now())
	if _, err := tx.ExecContext(ctx,
		`UPDATE active_connections SET disconnected_at = ? WHERE socket_id = ? AND disconnected_at IS NULL`,
		now, connectionID,
	); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO active_connections (user_id, socket_id, room_id, connected_at) VALUES (?, ?, ?, ?)`,
		userID, connectionID, roomID, now)
	if err != nil {
		return nil, sqliteError(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &models.ConnectionEvent{
		ID:           id,
		UserID:       userID,
		ConnectionID: connectionID,
		RoomID:       roomID,
		JoinedAt:     fromMillis(now),
	}, nil
}

func (db *SQLiteDB) CloseConnection(ctx context.Context, connectionID string) error {
	_, err := db.sqlDB.ExecContext(ctx,
		`UPDATE active_connections SET disconnected_at = ? WHERE socket_id = ? AND disconnected_at IS NULL`,
		toMillis(time.Now()), connectionID)
	return err
}

func (db *SQLiteDB) CloseStaleConnections(ctx context.Context) (int64, error) {
	res, err := db.sqlDB.ExecContext(ctx,
		`UPDATE active_connections SET disconnected_at = ? WHERE disconnected_at IS NULL`, toMillis(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *SQLiteDB) GetActiveUsersInRoom(ctx context.Context, roomID int) ([]*models.ActiveUser, error) {
	rows, err := db.sqlDB.QueryContext(ctx, `
		SELECT u.id, u.username, MIN(ac.connected_at) AS first_seen
		FROM active_connections ac
		JOIN users u ON ac.user_id = u.id
		WHERE ac.room_id = ? AND ac.disconnected_at IS NULL
		GROUP BY u.id, u.username
		ORDER BY first_seen, u.id`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*models.ActiveUser{}
	for rows.Next() {
		var (
			user      models.ActiveUser
			firstSeen int64
		)
		if err := rows.Scan(&user.ID, &user.Username, &firstSeen); err != nil {
			return nil, err
		}
		user.ConnectedAt = fromMillis(firstSeen)
		users = append(users, &user)
	}
	return users, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user    models.User
		created int64
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &created); err != nil {
		return nil, sqliteError(err)
	}
	user.CreatedAt = fromMillis(created)
	return &user, nil
}

func sqliteError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %s", ErrDuplicate, sqliteErr.Error())
		}
	}
	return err
}

var _ Database = (*SQLiteDB)(nil)
