package service

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/storage/registry"
)

func TestFileService_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")

	res, err := env.files.Upload(ctx, "alice", "report.pdf", bytes.NewBufferString("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Record.Size)
	assert.Equal(t, model.StateActive, res.Record.State)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", res.Checksum)

	list, err := env.files.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "report.pdf", list[0].Filename)

	f, rec, err := env.files.Open(ctx, "alice", "report.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, f.Close())
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, "report.pdf", rec.Filename)

	require.NoError(t, env.files.Trash(ctx, "alice", "report.pdf"))
	assert.True(t, env.vault.Exists("alice", "report.pdf", true))
	assert.False(t, env.vault.Exists("alice", "report.pdf", false))

	_, _, err = env.files.Open(ctx, "alice", "report.pdf")
	assert.ErrorIs(t, err, model.ErrNotFound)

	trash, err := env.files.ListTrash(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, trash, 1)
	require.NotNil(t, trash[0].TrashedAt)

	restored, err := env.files.Restore(ctx, "alice", "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, restored.State)
	assert.Nil(t, restored.TrashedAt)

	require.NoError(t, env.files.Trash(ctx, "alice", "report.pdf"))
	require.NoError(t, env.files.Purge(ctx, "alice", "report.pdf"))
	assert.Equal(t, model.FileState(""), env.state(t, "alice", "report.pdf"))
	assert.False(t, env.vault.Exists("alice", "report.pdf", true))

	pending, err := env.journal.RecoverPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFileService_InvalidTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.upload(t, "alice", "a.txt", "a")

	_, err := env.files.Restore(ctx, "alice", "a.txt")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, env.files.Purge(ctx, "alice", "a.txt"), model.ErrNotFound)
	assert.ErrorIs(t, env.files.Trash(ctx, "alice", "missing.txt"), model.ErrNotFound)

	require.NoError(t, env.files.Trash(ctx, "alice", "a.txt"))
	assert.ErrorIs(t, env.files.Trash(ctx, "alice", "a.txt"), model.ErrNotFound)
}

func TestFileService_DuplicateUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.upload(t, "alice", "a.txt", "first")

	_, err := env.files.Upload(ctx, "alice", "a.txt", bytes.NewBufferString("second"))
	assert.ErrorIs(t, err, model.ErrDuplicateFilename)

	// Имя в корзине тоже занято
	require.NoError(t, env.files.Trash(ctx, "alice", "a.txt"))
	_, err = env.files.Upload(ctx, "alice", "a.txt", bytes.NewBufferString("third"))
	assert.ErrorIs(t, err, model.ErrDuplicateFilename)

	// Исходное содержимое не перезаписано
	_, err = env.files.Restore(ctx, "alice", "a.txt")
	require.NoError(t, err)
	f, _, err := env.files.Open(ctx, "alice", "a.txt")
	require.NoError(t, err)
	defer f.Close()
	data, _ := io.ReadAll(f)
	assert.Equal(t, "first", string(data))
}

func TestFileService_UnknownUserAndInvalidNames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.files.Upload(ctx, "ghost", "a.txt", bytes.NewBufferString("x"))
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	assert.ErrorIs(t, err, model.ErrNotFound)

	// Для незарегистрированного пользователя в vault ничего не создаётся
	users, err := env.vault.Users()
	require.NoError(t, err)
	assert.Empty(t, users)
	pending, err := env.journal.RecoverPending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	result, err := env.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Issues)

	env.createUser(t, "alice")
	for _, name := range []string{"../etc/passwd", ".hidden", "a/b", ""} {
		_, err := env.files.Upload(ctx, "alice", name, bytes.NewBufferString("x"))
		assert.ErrorIs(t, err, model.ErrInvalidName, name)
	}
}

func TestFileService_RestoreConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.upload(t, "alice", "a.txt", "old")
	require.NoError(t, env.files.Trash(ctx, "alice", "a.txt"))

	// Активный файл с тем же именем появился в обход сервиса
	env.writeRaw(t, "alice", "a.txt", false, "new")

	_, err := env.files.Restore(ctx, "alice", "a.txt")
	assert.ErrorIs(t, err, model.ErrDuplicateFilename)
	assert.Equal(t, model.StateTrashed, env.state(t, "alice", "a.txt"))
	assert.True(t, env.vault.Exists("alice", "a.txt", true))
}

func TestFileService_CompensateUpload(t *testing.T) {
	dir := t.TempDir()
	base, err := registry.OpenJSON(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	reg := &failingStore{Store: base, failUser: "alice", failWrites: true}
	env := newTestEnvWith(t, dir, reg)
	env.createUser(t, "alice")

	_, err = env.files.Upload(context.Background(), "alice", "a.txt", bytes.NewBufferString("x"))
	require.ErrorIs(t, err, errInjected)
	assert.False(t, env.vault.Exists("alice", "a.txt", false))

	pending, err := env.journal.RecoverPending()
	require.NoError(t, err)
	assert.Empty(t, pending, "успешная компенсация закрывает транзакцию")
}

func TestFileService_CompensateTrash(t *testing.T) {
	dir := t.TempDir()
	base, err := registry.OpenJSON(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	reg := &failingStore{Store: base, failUser: "nobody", failWrites: true}
	env := newTestEnvWith(t, dir, reg)
	env.createUser(t, "alice")
	env.upload(t, "alice", "a.txt", "x")

	reg.failUser = "alice"
	err = env.files.Trash(context.Background(), "alice", "a.txt")
	require.ErrorIs(t, err, errInjected)
	assert.True(t, env.vault.Exists("alice", "a.txt", false))
	assert.False(t, env.vault.Exists("alice", "a.txt", true))
	assert.Equal(t, model.StateActive, env.state(t, "alice", "a.txt"))
}

func TestFileService_PurgeFailureLeftPendingAndRecovered(t *testing.T) {
	dir := t.TempDir()
	base, err := registry.OpenJSON(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	reg := &failingStore{Store: base, failUser: "nobody", failWrites: true}
	env := newTestEnvWith(t, dir, reg)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.upload(t, "alice", "a.txt", "x")
	require.NoError(t, env.files.Trash(ctx, "alice", "a.txt"))

	reg.failUser = "alice"
	require.ErrorIs(t, env.files.Purge(ctx, "alice", "a.txt"), errInjected)
	assert.Equal(t, model.StateTrashed, env.state(t, "alice", "a.txt"))

	pending, err := env.journal.RecoverPending()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Рестарт: реестр снова доступен
	reg.failUser = "nobody"
	require.NoError(t, RecoverJournal(ctx, env.journal, env.reconciler, env.logger))
	assert.Equal(t, model.FileState(""), env.state(t, "alice", "a.txt"))

	pending, err = env.journal.RecoverPending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFileService_Search(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.upload(t, "alice", "Report-2024.pdf", "x")
	env.upload(t, "alice", "notes.txt", "x")
	env.upload(t, "alice", "old-report.doc", "x")
	require.NoError(t, env.files.Trash(ctx, "alice", "old-report.doc"))

	found, err := env.files.Search(ctx, "alice", "REPORT")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "Report-2024.pdf", found[0].Filename)
}

func TestFileService_RecentOnlyCaller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.createUser(t, "bob")

	now := time.Now().UTC()
	env.files.SetClock(func() time.Time { return now.Add(-10 * 24 * time.Hour) })
	env.upload(t, "alice", "old.txt", "x")
	env.files.SetClock(func() time.Time { return now.Add(-time.Hour) })
	env.upload(t, "alice", "first.txt", "x")
	env.files.SetClock(func() time.Time { return now })
	env.upload(t, "alice", "second.txt", "x")
	env.upload(t, "bob", "bob.txt", "x")

	recent, err := env.files.Recent(ctx, "alice", 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "second.txt", recent[0].Filename)
	assert.Equal(t, "first.txt", recent[1].Filename)

	recent, err = env.files.Recent(ctx, "alice", 30*24*time.Hour)
	require.NoError(t, err)
	assert.Len(t, recent, 3)
}
