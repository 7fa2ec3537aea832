package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/homedrive/internal/crypto"
	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/keylock"
	"github.com/bigkaa/homedrive/internal/storage/registry"
	"github.com/bigkaa/homedrive/internal/storage/vault"
	"github.com/bigkaa/homedrive/internal/storage/wal"
)

// testEnv — сервисы поверх JSON-реестра и vault во временной директории.
type testEnv struct {
	dir        string
	registry   registry.Store
	vault      *vault.Vault
	journal    *wal.WAL
	locks      *keylock.KeyLock
	files      *FileService
	reconciler *ReconcileService
	logger     *slog.Logger
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	reg, err := registry.OpenJSON(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	return newTestEnvWith(t, dir, reg)
}

func newTestEnvWith(t *testing.T, dir string, reg registry.Store) *testEnv {
	t.Helper()

	logger := testLogger()
	v, err := vault.New(dir)
	require.NoError(t, err)
	journal, err := wal.New(filepath.Join(dir, "wal"), logger)
	require.NoError(t, err)
	locks := keylock.New()

	return &testEnv{
		dir:        dir,
		registry:   reg,
		vault:      v,
		journal:    journal,
		locks:      locks,
		files:      NewFileService(reg, v, journal, locks, logger),
		reconciler: NewReconcileService(reg, v, locks, time.Hour, logger),
		logger:     logger,
	}
}

// createUser регистрирует пользователя напрямую в реестре.
func (e *testEnv) createUser(t *testing.T, username string) {
	t.Helper()
	hash, err := crypto.HashPassword("password-" + username)
	require.NoError(t, err)
	_, err = e.registry.CreateUser(context.Background(), username, hash)
	require.NoError(t, err)
}

func (e *testEnv) upload(t *testing.T, username, filename, content string) {
	t.Helper()
	_, err := e.files.Upload(context.Background(), username, filename, bytes.NewBufferString(content))
	require.NoError(t, err)
}

// writeRaw кладёт файл в область пользователя в обход vault.
func (e *testEnv) writeRaw(t *testing.T, username, filename string, inTrash bool, content string) {
	t.Helper()
	area := "files"
	if inTrash {
		area = "trash"
	}
	dir := filepath.Join(e.vault.Root(), username, area)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o640))
}

func (e *testEnv) state(t *testing.T, username, filename string) model.FileState {
	t.Helper()
	rec, err := e.registry.Get(context.Background(), username, filename)
	if errors.Is(err, model.ErrNotFound) {
		return ""
	}
	require.NoError(t, err)
	return rec.State
}

// failingStore — реестр, отказывающий в операциях для одного пользователя.
type failingStore struct {
	registry.Store
	failUser string
	// failWrites — отказ только изменяющих операций
	failWrites bool
}

var errInjected = errors.New("внедрённая ошибка реестра")

func (f *failingStore) fail(username string) bool {
	return f.failUser == "*" || username == f.failUser
}

func (f *failingStore) ListActive(ctx context.Context, username string) ([]model.FileRecord, error) {
	if !f.failWrites && f.fail(username) {
		return nil, errInjected
	}
	return f.Store.ListActive(ctx, username)
}

func (f *failingStore) RecordUpload(ctx context.Context, username, filename string, at time.Time, size int64) (*model.FileRecord, error) {
	if f.failWrites && f.fail(username) {
		return nil, errInjected
	}
	return f.Store.RecordUpload(ctx, username, filename, at, size)
}

func (f *failingStore) MarkTrashed(ctx context.Context, username, filename string) error {
	if f.failWrites && f.fail(username) {
		return errInjected
	}
	return f.Store.MarkTrashed(ctx, username, filename)
}

func (f *failingStore) MarkRestored(ctx context.Context, username, filename string) error {
	if f.failWrites && f.fail(username) {
		return errInjected
	}
	return f.Store.MarkRestored(ctx, username, filename)
}

func (f *failingStore) Purge(ctx context.Context, username, filename string) error {
	if f.failWrites && f.fail(username) {
		return errInjected
	}
	return f.Store.Purge(ctx, username, filename)
}
