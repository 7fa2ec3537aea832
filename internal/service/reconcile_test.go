package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/storage/registry"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		state    model.FileState
		inActive bool
		inTrash  bool
		want     Class
	}{
		{model.StateActive, true, false, ClassOK},
		{model.StateActive, false, true, ClassInterruptedTrash},
		{model.StateActive, false, false, ClassLostBlob},
		{model.StateTrashed, false, true, ClassOK},
		{model.StateTrashed, true, false, ClassInterruptedRestore},
		{model.StateTrashed, false, false, ClassInterruptedPurge},
		{"", true, false, ClassOrphanBlob},
		{"", false, true, ClassOrphanTrash},
		{"", false, false, ClassOK},
		{model.StateActive, true, true, ClassDuplicateBlob},
		{model.StateTrashed, true, true, ClassDuplicateBlob},
		{"", true, true, ClassDuplicateBlob},
	}
	for _, tt := range tests {
		got := Classify(tt.state, tt.inActive, tt.inTrash)
		assert.Equal(t, tt.want, got, "state=%q active=%v trash=%v", tt.state, tt.inActive, tt.inTrash)
	}
}

func TestReconcile_ConsistentStateNoRepairs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.upload(t, "alice", "a.txt", "a")
	env.upload(t, "alice", "b.txt", "b")
	require.NoError(t, env.files.Trash(ctx, "alice", "b.txt"))

	result, err := env.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Empty(t, result.Repairs)
	assert.Empty(t, result.Issues)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, result.UsersChecked)
	assert.Equal(t, 2, result.FilesChecked)
	assert.NotEmpty(t, result.RunID)
	assert.Same(t, result, env.reconciler.LastResult())
}

// Каждое окно сбоя между шагами vault и реестра исправляется одним
// запуском сверки; повторный запуск исправлений не делает.
func TestReconcile_CrashWindows(t *testing.T) {
	tests := []struct {
		name      string
		prepare   func(t *testing.T, env *testEnv)
		class     Class
		wantState model.FileState
		inActive  bool
		inTrash   bool
	}{
		{
			name: "trash: файл перемещён, реестр не обновлён",
			prepare: func(t *testing.T, env *testEnv) {
				env.upload(t, "alice", "doc.txt", "x")
				require.NoError(t, env.vault.MoveToTrash("alice", "doc.txt"))
			},
			class:     ClassInterruptedTrash,
			wantState: model.StateTrashed,
			inTrash:   true,
		},
		{
			name: "restore: файл возвращён, реестр не обновлён",
			prepare: func(t *testing.T, env *testEnv) {
				env.upload(t, "alice", "doc.txt", "x")
				require.NoError(t, env.files.Trash(context.Background(), "alice", "doc.txt"))
				require.NoError(t, env.vault.Restore("alice", "doc.txt"))
			},
			class:     ClassInterruptedRestore,
			wantState: model.StateActive,
			inActive:  true,
		},
		{
			name: "purge: содержимое удалено, запись осталась",
			prepare: func(t *testing.T, env *testEnv) {
				env.upload(t, "alice", "doc.txt", "x")
				require.NoError(t, env.files.Trash(context.Background(), "alice", "doc.txt"))
				require.NoError(t, env.vault.PurgeBlob("alice", "doc.txt"))
			},
			class:     ClassInterruptedPurge,
			wantState: "",
		},
		{
			name: "upload: файл сохранён, запись не создана",
			prepare: func(t *testing.T, env *testEnv) {
				env.writeRaw(t, "alice", "doc.txt", false, "orphan")
			},
			class:     ClassOrphanBlob,
			wantState: model.StateActive,
			inActive:  true,
		},
		{
			name: "файл в корзине без записи",
			prepare: func(t *testing.T, env *testEnv) {
				env.writeRaw(t, "alice", "doc.txt", true, "orphan")
			},
			class:     ClassOrphanTrash,
			wantState: model.StateTrashed,
			inTrash:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			env.createUser(t, "alice")
			tt.prepare(t, env)

			result, err := env.reconciler.RunOnce(ctx)
			require.NoError(t, err)
			require.Len(t, result.Repairs, 1)
			assert.Equal(t, tt.class, result.Repairs[0].Class)
			assert.Equal(t, "doc.txt", result.Repairs[0].Filename)
			assert.Empty(t, result.Errors)

			assert.Equal(t, tt.wantState, env.state(t, "alice", "doc.txt"))
			assert.Equal(t, tt.inActive, env.vault.Exists("alice", "doc.txt", false))
			assert.Equal(t, tt.inTrash, env.vault.Exists("alice", "doc.txt", true))

			second, err := env.reconciler.RunOnce(ctx)
			require.NoError(t, err)
			assert.Empty(t, second.Repairs, "повторная сверка не должна ничего исправлять")
		})
	}
}

func TestReconcile_AdoptUsesBlobMetadata(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")
	env.writeRaw(t, "alice", "photo.jpg", false, "12345678")

	info, err := env.vault.Stat("alice", "photo.jpg", false)
	require.NoError(t, err)

	_, err = env.reconciler.RunOnce(ctx)
	require.NoError(t, err)

	rec, err := env.registry.Get(ctx, "alice", "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, int64(8), rec.Size)
	assert.True(t, rec.UploadedAt.Equal(info.ModTime.UTC()), "время загрузки берётся из mtime файла")
}

func TestReconcile_UnrepairableIssues(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createUser(t, "alice")

	env.upload(t, "alice", "lost.txt", "x")
	require.NoError(t, env.vault.RemoveBlob("alice", "lost.txt"))

	env.upload(t, "alice", "dup.txt", "x")
	env.writeRaw(t, "alice", "dup.txt", true, "copy")

	for i := 0; i < 2; i++ {
		result, err := env.reconciler.RunOnce(ctx)
		require.NoError(t, err)
		assert.Empty(t, result.Repairs)
		require.Len(t, result.Issues, 2)
		classes := []Class{result.Issues[0].Class, result.Issues[1].Class}
		assert.ElementsMatch(t, []Class{ClassDuplicateBlob, ClassLostBlob}, classes)
	}

	// Неустранимые расхождения не меняют реестр
	assert.Equal(t, model.StateActive, env.state(t, "alice", "lost.txt"))
	assert.Equal(t, model.StateActive, env.state(t, "alice", "dup.txt"))
}

func TestReconcile_UnknownUserDirectory(t *testing.T) {
	env := newTestEnv(t)
	env.writeRaw(t, "mallory", "x.bin", false, "x")

	result, err := env.reconciler.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Equal(t, ClassUnknownUser, result.Issues[0].Class)
	assert.Equal(t, "mallory", result.Issues[0].Username)
	assert.Empty(t, result.Repairs)

	_, err = env.registry.Get(context.Background(), "mallory", "x.bin")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReconcile_FailingUserDoesNotAbortOthers(t *testing.T) {
	dir := t.TempDir()
	base, err := registry.OpenJSON(filepath.Join(dir, "registry.json"))
	require.NoError(t, err)
	reg := &failingStore{Store: base, failUser: "bob"}
	env := newTestEnvWith(t, dir, reg)
	ctx := context.Background()

	for _, u := range []string{"alice", "bob", "carol"} {
		env.createUser(t, u)
		env.writeRaw(t, u, "orphan.txt", false, "x")
	}

	result, err := env.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bob", result.Errors[0].Username)
	assert.Equal(t, 3, result.UsersChecked)

	require.Len(t, result.Repairs, 2)
	assert.Equal(t, "alice", result.Repairs[0].Username)
	assert.Equal(t, "carol", result.Repairs[1].Username)
	assert.Equal(t, model.StateActive, env.state(t, "carol", "orphan.txt"))
}

func TestReconcile_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice")
	env.writeRaw(t, "alice", "orphan.txt", false, "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, result.Cancelled)
	assert.Empty(t, result.Repairs)
	assert.Equal(t, model.FileState(""), env.state(t, "alice", "orphan.txt"))
}

func TestReconcile_InProgress(t *testing.T) {
	env := newTestEnv(t)
	require.True(t, env.reconciler.begin())
	assert.True(t, env.reconciler.IsInProgress())

	_, err := env.reconciler.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrReconcileInProgress)

	env.reconciler.end()
	assert.False(t, env.reconciler.IsInProgress())
	_, err = env.reconciler.RunOnce(context.Background())
	assert.NoError(t, err)
}

func TestReconcile_StartStop(t *testing.T) {
	env := newTestEnv(t)
	env.createUser(t, "alice")
	env.writeRaw(t, "alice", "orphan.txt", false, "x")

	rs := NewReconcileService(env.registry, env.vault, env.locks, 10*time.Millisecond, env.logger)
	rs.Start(context.Background())

	require.Eventually(t, func() bool {
		rec, err := env.registry.Get(context.Background(), "alice", "orphan.txt")
		return err == nil && rec.State == model.StateActive
	}, 5*time.Second, 10*time.Millisecond)

	rs.Stop()
	assert.NotNil(t, rs.LastResult())
}

func TestRecoverJournal_NoPending(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, RecoverJournal(context.Background(), env.journal, env.reconciler, env.logger))
	assert.Nil(t, env.reconciler.LastResult())
}
