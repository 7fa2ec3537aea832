package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/homedrive/internal/domain/lifecycle"
	"github.com/bigkaa/homedrive/internal/domain/model"
)

const fileColumns = `filename, uploaded_at, state, size, trashed_at`

// PostgresStore — реестр в PostgreSQL.
// Мутации выполняются в транзакции с блокировкой строки пользователя
// (SELECT ... FOR UPDATE), уникальность имён обеспечивает первичный ключ.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// OpenPostgres создаёт пул подключений и проверяет доступность БД.
// Схема должна быть предварительно применена через Migrate.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger, opts ...Option) (*PostgresStore, error) {
	o := applyOptions(opts)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", poolCfg.ConnConfig.Host),
		slog.Int("port", int(poolCfg.ConnConfig.Port)),
		slog.String("database", poolCfg.ConnConfig.Database),
	)

	return &PostgresStore{pool: pool, now: o.now}, nil
}

// Backend возвращает имя реализации.
func (s *PostgresStore) Backend() string {
	return "postgres"
}

// Ping проверяет подключение к PostgreSQL.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close закрывает пул подключений.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// CreateUser регистрирует нового пользователя.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}

	u := &model.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, password_hash, created_at) VALUES ($1, $2, $3)`,
		u.Username, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrAlreadyExists, username)
		}
		return nil, fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return u, nil
}

// Authenticate проверяет учётные данные.
func (s *PostgresStore) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	u := &model.User{Username: username}
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash, created_at FROM users WHERE username = $1`, username,
	).Scan(&u.PasswordHash, &u.CreatedAt)

	found := true
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("ошибка чтения пользователя: %w", err)
		}
		found = false
	}

	if err := checkPassword(u.PasswordHash, found, password); err != nil {
		return nil, err
	}
	u.CreatedAt = u.CreatedAt.UTC()
	return u, nil
}

// RecordUpload добавляет active запись о загруженном файле.
func (s *PostgresStore) RecordUpload(ctx context.Context, username, filename string, at time.Time, size int64) (*model.FileRecord, error) {
	if err := validateNames(username, filename); err != nil {
		return nil, err
	}
	rec := &model.FileRecord{
		Filename:   filename,
		UploadedAt: at.UTC(),
		State:      model.StateActive,
		Size:       size,
	}
	if err := s.insertFile(ctx, username, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Adopt регистрирует запись, обнаруженную сверкой.
func (s *PostgresStore) Adopt(ctx context.Context, username, filename string, at time.Time, size int64, state model.FileState) (*model.FileRecord, error) {
	if err := validateNames(username, filename); err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, fmt.Errorf("недопустимое состояние %q", state)
	}
	rec := &model.FileRecord{
		Filename:   filename,
		UploadedAt: at.UTC(),
		State:      state,
		Size:       size,
	}
	if state == model.StateTrashed {
		trashedAt := s.now().UTC()
		rec.TrashedAt = &trashedAt
	}
	if err := s.insertFile(ctx, username, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkTrashed переводит active запись в корзину.
func (s *PostgresStore) MarkTrashed(ctx context.Context, username, filename string) error {
	return s.transition(ctx, username, filename, lifecycle.OpTrash)
}

// MarkRestored возвращает запись из корзины в active.
func (s *PostgresStore) MarkRestored(ctx context.Context, username, filename string) error {
	return s.transition(ctx, username, filename, lifecycle.OpRestore)
}

// Purge удаляет запись, находящуюся в корзине.
func (s *PostgresStore) Purge(ctx context.Context, username, filename string) error {
	return s.transition(ctx, username, filename, lifecycle.OpPurge)
}

// Get возвращает запись файла в любом состоянии.
func (s *PostgresStore) Get(ctx context.Context, username, filename string) (*model.FileRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE username = $1 AND filename = $2`,
		username, filename,
	)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if err := s.userExists(ctx, username); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: файл %s", model.ErrNotFound, filename)
		}
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}
	return rec, nil
}

// ListActive возвращает active записи в порядке загрузки.
func (s *PostgresStore) ListActive(ctx context.Context, username string) ([]model.FileRecord, error) {
	return s.listFiles(ctx, username,
		`SELECT `+fileColumns+` FROM files WHERE username = $1 AND state = 'active' ORDER BY seq`,
		username)
}

// ListTrashed возвращает записи корзины в порядке загрузки.
func (s *PostgresStore) ListTrashed(ctx context.Context, username string) ([]model.FileRecord, error) {
	return s.listFiles(ctx, username,
		`SELECT `+fileColumns+` FROM files WHERE username = $1 AND state = 'trashed' ORDER BY seq`,
		username)
}

// Search возвращает active записи, имя которых содержит term без учёта регистра.
func (s *PostgresStore) Search(ctx context.Context, username, term string) ([]model.FileRecord, error) {
	return s.listFiles(ctx, username,
		`SELECT `+fileColumns+` FROM files
		 WHERE username = $1 AND state = 'active' AND strpos(lower(filename), lower($2)) > 0
		 ORDER BY seq`,
		username, term)
}

// ListRecent возвращает active записи всех пользователей за окно since.
func (s *PostgresStore) ListRecent(ctx context.Context, since time.Duration) ([]model.RecentFile, error) {
	cutoff := s.now().UTC().Add(-since)
	return s.listAcrossUsers(ctx,
		`SELECT username, `+fileColumns+` FROM files
		 WHERE state = 'active' AND uploaded_at >= $1
		 ORDER BY uploaded_at DESC, username, filename`,
		cutoff)
}

// ListTrashedBefore возвращает записи корзины, помещённые туда раньше cutoff.
func (s *PostgresStore) ListTrashedBefore(ctx context.Context, cutoff time.Time) ([]model.RecentFile, error) {
	return s.listAcrossUsers(ctx,
		`SELECT username, `+fileColumns+` FROM files
		 WHERE state = 'trashed' AND trashed_at < $1
		 ORDER BY username, seq`,
		cutoff.UTC())
}

// Usernames возвращает отсортированный список пользователей.
func (s *PostgresStore) Usernames(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT username FROM users ORDER BY username COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователей: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователей: %w", err)
	}
	return names, nil
}

// insertFile добавляет запись файла под блокировкой строки пользователя.
func (s *PostgresStore) insertFile(ctx context.Context, username string, rec *model.FileRecord) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, username); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO files (username, filename, uploaded_at, state, size, trashed_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			username, rec.Filename, rec.UploadedAt, string(rec.State), rec.Size, rec.TrashedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s", model.ErrDuplicateFilename, rec.Filename)
			}
			return fmt.Errorf("ошибка записи файла: %w", err)
		}
		return nil
	})
}

// transition применяет операцию жизненного цикла к записи файла.
func (s *PostgresStore) transition(ctx context.Context, username, filename string, op lifecycle.Operation) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, username); err != nil {
			return err
		}

		var state string
		err := tx.QueryRow(ctx,
			`SELECT state FROM files WHERE username = $1 AND filename = $2 FOR UPDATE`,
			username, filename,
		).Scan(&state)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: файл %s", model.ErrNotFound, filename)
			}
			return fmt.Errorf("ошибка чтения файла: %w", err)
		}

		to, err := lifecycle.Next(model.FileState(state), op)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}

		switch to {
		case lifecycle.StatePurged:
			_, err = tx.Exec(ctx,
				`DELETE FROM files WHERE username = $1 AND filename = $2`,
				username, filename)
		case model.StateTrashed:
			_, err = tx.Exec(ctx,
				`UPDATE files SET state = $3, trashed_at = $4 WHERE username = $1 AND filename = $2`,
				username, filename, string(to), s.now().UTC())
		default:
			_, err = tx.Exec(ctx,
				`UPDATE files SET state = $3, trashed_at = NULL WHERE username = $1 AND filename = $2`,
				username, filename, string(to))
		}
		if err != nil {
			return fmt.Errorf("ошибка обновления файла: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) listFiles(ctx context.Context, username, query string, args ...any) ([]model.FileRecord, error) {
	if err := s.userExists(ctx, username); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файлов: %w", err)
	}
	defer rows.Close()

	result := []model.FileRecord{}
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения файлов: %w", err)
		}
		result = append(result, *rec)
	}
	return result, rows.Err()
}

func (s *PostgresStore) listAcrossUsers(ctx context.Context, query string, args ...any) ([]model.RecentFile, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файлов: %w", err)
	}
	defer rows.Close()

	var result []model.RecentFile
	for rows.Next() {
		var (
			rf        model.RecentFile
			state     string
			trashedAt *time.Time
		)
		if err := rows.Scan(&rf.Username, &rf.File.Filename, &rf.File.UploadedAt, &state, &rf.File.Size, &trashedAt); err != nil {
			return nil, fmt.Errorf("ошибка чтения файлов: %w", err)
		}
		normalizeFile(&rf.File, state, trashedAt)
		result = append(result, rf)
	}
	return result, rows.Err()
}

func (s *PostgresStore) userExists(ctx context.Context, username string) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("ошибка чтения пользователя: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w %s", model.ErrUserNotFound, username)
	}
	return nil
}

// runInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе коммитится.
func (s *PostgresStore) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockUser блокирует строку пользователя до конца транзакции.
func lockUser(ctx context.Context, tx pgx.Tx, username string) error {
	var name string
	err := tx.QueryRow(ctx,
		`SELECT username FROM users WHERE username = $1 FOR UPDATE`, username,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w %s", model.ErrUserNotFound, username)
		}
		return fmt.Errorf("ошибка блокировки пользователя: %w", err)
	}
	return nil
}

func scanFile(row pgx.Row) (*model.FileRecord, error) {
	var (
		rec       model.FileRecord
		state     string
		trashedAt *time.Time
	)
	if err := row.Scan(&rec.Filename, &rec.UploadedAt, &state, &rec.Size, &trashedAt); err != nil {
		return nil, err
	}
	normalizeFile(&rec, state, trashedAt)
	return &rec, nil
}

// normalizeFile приводит времена к UTC (pgx возвращает локальную зону).
func normalizeFile(rec *model.FileRecord, state string, trashedAt *time.Time) {
	rec.State = model.FileState(state)
	rec.UploadedAt = rec.UploadedAt.UTC()
	if trashedAt != nil {
		t := trashedAt.UTC()
		rec.TrashedAt = &t
	}
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
