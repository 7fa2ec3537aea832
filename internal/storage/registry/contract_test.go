package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaa/homedrive/internal/crypto"
	"github.com/bigkaa/homedrive/internal/domain/model"
)

// storeFactory создаёт пустое хранилище с заданными опциями.
type storeFactory func(t *testing.T, opts ...Option) Store

// fixedClock — управляемые часы для тестов.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// runStoreContract прогоняет общие для всех реализаций проверки.
func runStoreContract(t *testing.T, newStore storeFactory) {
	t.Run("CreateUserDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first, err := crypto.HashPassword("first password")
		require.NoError(t, err)
		second, err := crypto.HashPassword("second password")
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, "alice", first)
		require.NoError(t, err)

		_, err = s.CreateUser(ctx, "alice", second)
		require.ErrorIs(t, err, model.ErrAlreadyExists)

		// Существующая учётная запись не изменилась
		names, err := s.Usernames(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"alice"}, names)

		_, err = s.Authenticate(ctx, "alice", "first password")
		require.NoError(t, err)
		_, err = s.Authenticate(ctx, "alice", "second password")
		require.ErrorIs(t, err, model.ErrInvalidCredentials)
	})

	t.Run("GetDistinguishesUnknownUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.Get(ctx, "ghost", "a.txt")
		require.ErrorIs(t, err, model.ErrUserNotFound)
		require.ErrorIs(t, err, model.ErrNotFound)

		_, err = s.CreateUser(ctx, "alice", "hash")
		require.NoError(t, err)
		_, err = s.Get(ctx, "alice", "a.txt")
		require.ErrorIs(t, err, model.ErrNotFound)
		require.False(t, errors.Is(err, model.ErrUserNotFound))
	})

	t.Run("CreateUserInvalidName", func(t *testing.T) {
		s := newStore(t)
		_, err := s.CreateUser(context.Background(), "../etc", "hash")
		require.ErrorIs(t, err, model.ErrInvalidName)
	})

	t.Run("AuthenticateUniformError", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		hash, err := crypto.HashPassword("correct horse")
		require.NoError(t, err)
		_, err = s.CreateUser(ctx, "bob", hash)
		require.NoError(t, err)

		u, err := s.Authenticate(ctx, "bob", "correct horse")
		require.NoError(t, err)
		require.Equal(t, "bob", u.Username)

		_, errWrong := s.Authenticate(ctx, "bob", "wrong password")
		_, errUnknown := s.Authenticate(ctx, "nobody", "correct horse")
		require.ErrorIs(t, errWrong, model.ErrInvalidCredentials)
		require.ErrorIs(t, errUnknown, model.ErrInvalidCredentials)
		require.Equal(t, errWrong.Error(), errUnknown.Error())
	})

	t.Run("FileLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateUser(ctx, "alice", "hash")
		require.NoError(t, err)

		at := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
		rec, err := s.RecordUpload(ctx, "alice", "report.pdf", at, 1024)
		require.NoError(t, err)
		require.Equal(t, model.StateActive, rec.State)

		_, err = s.RecordUpload(ctx, "alice", "report.pdf", at, 1)
		require.ErrorIs(t, err, model.ErrDuplicateFilename)

		// Purge active записи недопустим
		require.ErrorIs(t, s.Purge(ctx, "alice", "report.pdf"), model.ErrNotFound)
		require.ErrorIs(t, s.MarkRestored(ctx, "alice", "report.pdf"), model.ErrNotFound)

		require.NoError(t, s.MarkTrashed(ctx, "alice", "report.pdf"))
		require.ErrorIs(t, s.MarkTrashed(ctx, "alice", "report.pdf"), model.ErrNotFound)

		active, err := s.ListActive(ctx, "alice")
		require.NoError(t, err)
		require.Empty(t, active)

		trashed, err := s.ListTrashed(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, trashed, 1)
		require.Equal(t, "report.pdf", trashed[0].Filename)
		require.NotNil(t, trashed[0].TrashedAt)

		// Имя из корзины занято
		_, err = s.RecordUpload(ctx, "alice", "report.pdf", at, 1)
		require.ErrorIs(t, err, model.ErrDuplicateFilename)

		require.NoError(t, s.MarkRestored(ctx, "alice", "report.pdf"))
		got, err := s.Get(ctx, "alice", "report.pdf")
		require.NoError(t, err)
		require.Equal(t, model.StateActive, got.State)
		require.Nil(t, got.TrashedAt)
		require.True(t, got.UploadedAt.Equal(at))
		require.Equal(t, int64(1024), got.Size)

		require.NoError(t, s.MarkTrashed(ctx, "alice", "report.pdf"))
		require.NoError(t, s.Purge(ctx, "alice", "report.pdf"))

		_, err = s.Get(ctx, "alice", "report.pdf")
		require.ErrorIs(t, err, model.ErrNotFound)
		trashed, err = s.ListTrashed(ctx, "alice")
		require.NoError(t, err)
		require.Empty(t, trashed)
	})

	t.Run("UnknownUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordUpload(ctx, "ghost", "a.txt", time.Now(), 1)
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.ListActive(ctx, "ghost")
		require.ErrorIs(t, err, model.ErrNotFound)
		require.ErrorIs(t, s.MarkTrashed(ctx, "ghost", "a.txt"), model.ErrNotFound)
	})

	t.Run("InsertionOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateUser(ctx, "carol", "hash")
		require.NoError(t, err)

		names := []string{"zeta.txt", "alpha.txt", "mid.txt"}
		for _, name := range names {
			_, err := s.RecordUpload(ctx, "carol", name, time.Now(), 1)
			require.NoError(t, err)
		}

		active, err := s.ListActive(ctx, "carol")
		require.NoError(t, err)
		require.Len(t, active, 3)
		for i, name := range names {
			require.Equal(t, name, active[i].Filename)
		}
	})

	t.Run("Search", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateUser(ctx, "dave", "hash")
		require.NoError(t, err)
		for _, name := range []string{"Holiday.JPG", "notes.txt", "holiday-2.jpg"} {
			_, err := s.RecordUpload(ctx, "dave", name, time.Now(), 1)
			require.NoError(t, err)
		}
		require.NoError(t, s.MarkTrashed(ctx, "dave", "holiday-2.jpg"))

		found, err := s.Search(ctx, "dave", "holiday")
		require.NoError(t, err)
		require.Len(t, found, 1)
		require.Equal(t, "Holiday.JPG", found[0].Filename)
	})

	t.Run("ListRecentWindow", func(t *testing.T) {
		clock := newFixedClock()
		s := newStore(t, WithClock(clock.Now))
		ctx := context.Background()

		for _, name := range []string{"erin", "frank"} {
			_, err := s.CreateUser(ctx, name, "hash")
			require.NoError(t, err)
		}

		now := clock.Now()
		_, err := s.RecordUpload(ctx, "erin", "old.txt", now.Add(-8*24*time.Hour), 1)
		require.NoError(t, err)
		_, err = s.RecordUpload(ctx, "erin", "new.txt", now.Add(-time.Hour), 1)
		require.NoError(t, err)
		_, err = s.RecordUpload(ctx, "frank", "newer.txt", now.Add(-time.Minute), 1)
		require.NoError(t, err)
		_, err = s.RecordUpload(ctx, "frank", "gone.txt", now.Add(-2*time.Minute), 1)
		require.NoError(t, err)
		require.NoError(t, s.MarkTrashed(ctx, "frank", "gone.txt"))

		recent, err := s.ListRecent(ctx, 7*24*time.Hour)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		require.Equal(t, "frank", recent[0].Username)
		require.Equal(t, "newer.txt", recent[0].File.Filename)
		require.Equal(t, "erin", recent[1].Username)
		require.Equal(t, "new.txt", recent[1].File.Filename)

		// Сдвиг часов выводит запись из окна
		clock.Advance(2 * time.Hour)
		recent, err = s.ListRecent(ctx, 90*time.Minute)
		require.NoError(t, err)
		require.Empty(t, recent)
	})

	t.Run("AdoptAndTrashedBefore", func(t *testing.T) {
		clock := newFixedClock()
		s := newStore(t, WithClock(clock.Now))
		ctx := context.Background()
		_, err := s.CreateUser(ctx, "gina", "hash")
		require.NoError(t, err)

		at := clock.Now().Add(-time.Hour)
		rec, err := s.Adopt(ctx, "gina", "found.bin", at, 42, model.StateTrashed)
		require.NoError(t, err)
		require.Equal(t, model.StateTrashed, rec.State)
		require.NotNil(t, rec.TrashedAt)

		_, err = s.Adopt(ctx, "gina", "found.bin", at, 42, model.StateActive)
		require.ErrorIs(t, err, model.ErrDuplicateFilename)

		clock.Advance(48 * time.Hour)
		_, err = s.RecordUpload(ctx, "gina", "fresh.txt", clock.Now(), 1)
		require.NoError(t, err)
		require.NoError(t, s.MarkTrashed(ctx, "gina", "fresh.txt"))

		expired, err := s.ListTrashedBefore(ctx, clock.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		require.Len(t, expired, 1)
		require.Equal(t, "gina", expired[0].Username)
		require.Equal(t, "found.bin", expired[0].File.Filename)
	})

	t.Run("ConcurrentUploadsNoLostUpdates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateUser(ctx, "henry", "hash")
		require.NoError(t, err)

		const n = 40
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.RecordUpload(ctx, "henry", fmt.Sprintf("file-%02d.txt", i), time.Now(), int64(i))
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		active, err := s.ListActive(ctx, "henry")
		require.NoError(t, err)
		require.Len(t, active, n)
	})

	t.Run("ConcurrentSameFilename", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateUser(ctx, "iris", "hash")
		require.NoError(t, err)

		const n = 10
		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.RecordUpload(ctx, "iris", "same.txt", time.Now(), 1)
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else if !errors.Is(err, model.ErrDuplicateFilename) {
					t.Errorf("неожиданная ошибка: %v", err)
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, succeeded)
	})
}
