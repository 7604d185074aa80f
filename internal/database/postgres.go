package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"roomchat/internal/database/migrations"
	"roomchat/internal/models"
	"roomchat/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresDB struct {
	pool *pgxpool.Pool
}

// NewPostgresDB connects to PostgreSQL, retrying until the server answers a
// ping or the attempts run out.
func NewPostgresDB(ctx context.Context, databaseURL string, attempts int, interval time.Duration) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	err = retry(ctx, attempts, interval, func(attempt int) error {
		if err := pool.Ping(ctx); err != nil {
			logger.Warn("waiting for database", "attempt", attempt, "max_attempts", attempts, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to database", "driver", "postgres")
	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Migrate(ctx context.Context) error {
	files, err := schemaFiles(migrations.Postgres, "postgres")
	if err != nil {
		return err
	}
	for _, f := range files {
		// no arguments: pgx sends the file over the simple protocol, which
		// accepts several statements at once
		if _, err := db.pool.Exec(ctx, f.sql); err != nil {
			return fmt.Errorf("apply %s: %w", f.name, err)
		}
	}
	return nil
}

// User Repository Implementation
func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE username = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, pgError(err)
	}

	return user, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT id, username, email, password_hash, created_at FROM users WHERE id = $1`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, pgError(err)
	}

	return user, nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	if email == "" {
		email = defaultEmail(username)
	}
	query := `
		INSERT INTO users (username, email, password_hash, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, username, email, password_hash, created_at`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, username, email, passwordHash).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", pgError(err))
	}

	return user, nil
}

func (db *PostgresDB) FindOrCreateUser(ctx context.Context, username string) (*models.User, error) {
	query := `
		INSERT INTO users (username, email, password_hash, created_at) VALUES ($1, $2, '', NOW())
		ON CONFLICT (username) DO UPDATE SET username = EXCLUDED.username
		RETURNING id, username, email, password_hash, created_at`

	user := &models.User{}
	err := db.pool.QueryRow(ctx, query, username, defaultEmail(username)).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", pgError(err))
	}
	return user, nil
}

// Room Repository Implementation
func (db *PostgresDB) CreateRoom(ctx context.Context, name, description string) (*models.Room, error) {
	query := `
		INSERT INTO chat_rooms (room_name, description, created_at)
		VALUES ($1, $2, NOW())
		RETURNING id, room_name, description, created_at`

	room := &models.Room{}
	err := db.pool.QueryRow(ctx, query, name, description).Scan(
		&room.ID, &room.Name, &room.Description, &room.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", pgError(err))
	}

	return room, nil
}

func (db *PostgresDB) GetRoomByID(ctx context.Context, id int) (*models.Room, error) {
	query := `SELECT id, room_name, description, created_at FROM chat_rooms WHERE id = $1`

	room := &models.Room{}
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&room.ID, &room.Name, &room.Description, &room.CreatedAt,
	)
	if err != nil {
		return nil, pgError(err)
	}

	return room, nil
}

func (db *PostgresDB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, room_name, description, created_at FROM chat_rooms ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []*models.Room{}
	for rows.Next() {
		room := &models.Room{}
		if err := rows.Scan(&room.ID, &room.Name, &room.Description, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// Message Repository Implementation
func (db *PostgresDB) SaveMessage(ctx context.Context, roomID, userID int, text string) (*models.Message, error) {
	query := `
		INSERT INTO messages (room_id, user_id, message_text, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`

	msg := &models.Message{RoomID: roomID, UserID: userID, Text: text}
	if err := db.pool.QueryRow(ctx, query, roomID, userID, text).Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, pgError(err)
	}
	return msg, nil
}

func (db *PostgresDB) LoadRecentMessages(ctx context.Context, roomID, limit int) ([]*models.Message, error) {
	query := `
		SELECT m.id, m.room_id, m.user_id, u.username, m.message_text, m.created_at
		FROM messages m
		JOIN users u ON m.user_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT $2`

	rows, err := db.pool.Query(ctx, query, roomID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		if err := rows.Scan(&msg.ID, &msg.RoomID, &msg.UserID, &msg.Username, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(messages)
	return messages, nil
}

// Connection Repository Implementation
func (db *PostgresDB) OpenConnection(ctx context.Context, userID int, connectionID string, roomID int) (*models.ConnectionEvent, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE active_connections SET disconnected_at = NOW() WHERE socket_id = $1 AND disconnected_at IS NULL`,
		connectionID,
	); err != nil {
		return nil, err
	}

	ev := &models.ConnectionEvent{UserID: userID, ConnectionID: connectionID, RoomID: roomID}
	err = tx.QueryRow(ctx,
		`INSERT INTO active_connections (user_id, socket_id, room_id, connected_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, connected_at`,
		userID, connectionID, roomID,
	).Scan(&ev.ID, &ev.JoinedAt)
	if err != nil {
		return nil, pgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ev, nil
}

func (db *PostgresDB) CloseConnection(ctx context.Context, connectionID string) error {
	query := `UPDATE active_connections SET disconnected_at = NOW() WHERE socket_id = $1 AND disconnected_at IS NULL`
	_, err := db.pool.Exec(ctx, query, connectionID)
	return err
}

func (db *PostgresDB) CloseStaleConnections(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `UPDATE active_connections SET disconnected_at = NOW() WHERE disconnected_at IS NULL`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (db *PostgresDB) GetActiveUsersInRoom(ctx context.Context, roomID int) ([]*models.ActiveUser, error) {
	query := `
		SELECT u.id, u.username, MIN(ac.connected_at)
		FROM active_connections ac
		JOIN users u ON ac.user_id = u.id
		WHERE ac.room_id = $1 AND ac.disconnected_at IS NULL
		GROUP BY u.id, u.username
		ORDER BY MIN(ac.connected_at), u.id`

	rows, err := db.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []*models.ActiveUser{}
	for rows.Next() {
		user := &models.ActiveUser{}
		if err := rows.Scan(&user.ID, &user.Username, &user.ConnectedAt); err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// pgError maps driver errors onto the package sentinels.
func pgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

var _ Database = (*PostgresDB)(nil)
