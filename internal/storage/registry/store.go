// Пакет registry — реестр пользователей и метаданных их файлов.
// Две реализации: JSONStore (единый документ на диске, по умолчанию)
// и PostgresStore (pgx + golang-migrate).
package registry

import (
	"context"
	"time"

	"github.com/bigkaa/homedrive/internal/crypto"
	"github.com/bigkaa/homedrive/internal/domain/model"
)

// Store — реестр пользователей и файлов.
// Возвращаемые значения — копии: изменение их не влияет на реестр.
// CreateUser и Authenticate возвращают учётную запись без списка файлов.
type Store interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*model.User, error)
	Authenticate(ctx context.Context, username, password string) (*model.User, error)

	RecordUpload(ctx context.Context, username, filename string, at time.Time, size int64) (*model.FileRecord, error)
	MarkTrashed(ctx context.Context, username, filename string) error
	MarkRestored(ctx context.Context, username, filename string) error
	Purge(ctx context.Context, username, filename string) error
	Adopt(ctx context.Context, username, filename string, at time.Time, size int64, state model.FileState) (*model.FileRecord, error)

	Get(ctx context.Context, username, filename string) (*model.FileRecord, error)
	ListActive(ctx context.Context, username string) ([]model.FileRecord, error)
	ListTrashed(ctx context.Context, username string) ([]model.FileRecord, error)
	Search(ctx context.Context, username, term string) ([]model.FileRecord, error)
	ListRecent(ctx context.Context, since time.Duration) ([]model.RecentFile, error)
	ListTrashedBefore(ctx context.Context, cutoff time.Time) ([]model.RecentFile, error)
	Usernames(ctx context.Context) ([]string, error)

	// Ping проверяет доступность хранилища реестра (readiness).
	Ping(ctx context.Context) error
	// Backend — имя реализации ("json", "postgres").
	Backend() string
	Close() error
}

// Option — опция конструктора хранилища.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock подменяет источник текущего времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func applyOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// checkPassword проверяет пароль против хэша учётной записи.
// found=false — пользователь не найден: выполняется фиктивная проверка,
// ошибка и время ответа одинаковы для обоих случаев.
func checkPassword(hash string, found bool, password string) error {
	if !found {
		crypto.VerifyDummy(password)
		return model.ErrInvalidCredentials
	}
	ok, err := crypto.VerifyPassword(hash, password)
	if err != nil || !ok {
		return model.ErrInvalidCredentials
	}
	return nil
}

// validateNames проверяет имя пользователя и файла перед обращением к реестру.
func validateNames(username, filename string) error {
	if err := model.ValidateUsername(username); err != nil {
		return err
	}
	return model.ValidateFilename(filename)
}

var (
	_ Store = (*JSONStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
