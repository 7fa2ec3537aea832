package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/homedrive/internal/domain/lifecycle"
	"github.com/bigkaa/homedrive/internal/domain/model"
)

// JSONStore — реестр в одном JSON-документе.
// Все мутации сериализуются мьютексом, удерживаемым на протяжении
// чтение → изменение → сохранение. Изменение применяется к копии
// пользователя и публикуется только после успешного Save.
type JSONStore struct {
	mu   sync.RWMutex
	path string
	doc  *Document
	now  func() time.Time
}

// OpenJSON загружает документ реестра и создаёт хранилище.
// Повреждённый документ — *model.CorruptStateError.
func OpenJSON(path string, opts ...Option) (*JSONStore, error) {
	o := applyOptions(opts)

	doc, err := Load(path)
	if err != nil {
		return nil, err
	}

	return &JSONStore{
		path: path,
		doc:  doc,
		now:  o.now,
	}, nil
}

// Path возвращает путь к документу реестра.
func (s *JSONStore) Path() string {
	return s.path
}

// Backend возвращает имя реализации.
func (s *JSONStore) Backend() string {
	return "json"
}

// Ping проверяет доступность директории документа.
func (s *JSONStore) Ping(_ context.Context) error {
	dir := filepath.Dir(s.path)
	if _, err := os.Stat(dir); err != nil {
		return &model.IOError{Op: "stat", Path: dir, Err: err}
	}
	return nil
}

// Close — no-op: каждое изменение сохраняется сразу.
func (s *JSONStore) Close() error {
	return nil
}

// CreateUser регистрирует нового пользователя.
func (s *JSONStore) CreateUser(_ context.Context, username, passwordHash string) (*model.User, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.doc.Users[username]; exists {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyExists, username)
	}

	u := &model.User{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now().UTC(),
		Files:        []model.FileRecord{},
	}
	s.doc.Users[username] = u

	if err := Save(s.path, s.doc); err != nil {
		delete(s.doc.Users, username)
		return nil, err
	}

	return userWithoutFiles(u), nil
}

// Authenticate проверяет учётные данные.
func (s *JSONStore) Authenticate(_ context.Context, username, password string) (*model.User, error) {
	s.mu.RLock()
	u, found := s.doc.Users[username]
	var hash string
	if found {
		hash = u.PasswordHash
		u = userWithoutFiles(u)
	}
	s.mu.RUnlock()

	// Проверка пароля выполняется вне блокировки: Argon2 медленный.
	if err := checkPassword(hash, found, password); err != nil {
		return nil, err
	}
	return u, nil
}

// RecordUpload добавляет active запись о загруженном файле.
// Имя, совпадающее с любой записью пользователя (включая корзину), — ErrDuplicateFilename.
func (s *JSONStore) RecordUpload(_ context.Context, username, filename string, at time.Time, size int64) (*model.FileRecord, error) {
	if err := validateNames(username, filename); err != nil {
		return nil, err
	}

	var rec model.FileRecord
	err := s.mutateUser(username, func(u *model.User) error {
		if u.FindFile(filename) >= 0 {
			return fmt.Errorf("%w: %s", model.ErrDuplicateFilename, filename)
		}
		rec = model.FileRecord{
			Filename:   filename,
			UploadedAt: at.UTC(),
			State:      model.StateActive,
			Size:       size,
		}
		u.Files = append(u.Files, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// MarkTrashed переводит active запись в корзину.
func (s *JSONStore) MarkTrashed(_ context.Context, username, filename string) error {
	return s.transition(username, filename, lifecycle.OpTrash)
}

// MarkRestored возвращает запись из корзины в active.
func (s *JSONStore) MarkRestored(_ context.Context, username, filename string) error {
	return s.transition(username, filename, lifecycle.OpRestore)
}

// Purge удаляет запись, находящуюся в корзине.
func (s *JSONStore) Purge(_ context.Context, username, filename string) error {
	return s.transition(username, filename, lifecycle.OpPurge)
}

// Adopt регистрирует запись, обнаруженную сверкой (файл без записи в реестре).
func (s *JSONStore) Adopt(_ context.Context, username, filename string, at time.Time, size int64, state model.FileState) (*model.FileRecord, error) {
	if err := validateNames(username, filename); err != nil {
		return nil, err
	}
	if !state.Valid() {
		return nil, fmt.Errorf("недопустимое состояние %q", state)
	}

	var rec model.FileRecord
	err := s.mutateUser(username, func(u *model.User) error {
		if u.FindFile(filename) >= 0 {
			return fmt.Errorf("%w: %s", model.ErrDuplicateFilename, filename)
		}
		rec = model.FileRecord{
			Filename:   filename,
			UploadedAt: at.UTC(),
			State:      state,
			Size:       size,
		}
		if state == model.StateTrashed {
			trashedAt := s.now().UTC()
			rec.TrashedAt = &trashedAt
		}
		u.Files = append(u.Files, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := rec.Clone()
	return &out, nil
}

// Get возвращает запись файла в любом состоянии.
func (s *JSONStore) Get(_ context.Context, username, filename string) (*model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.doc.Users[username]
	if !ok {
		return nil, fmt.Errorf("%w %s", model.ErrUserNotFound, username)
	}
	i := u.FindFile(filename)
	if i < 0 {
		return nil, fmt.Errorf("%w: файл %s", model.ErrNotFound, filename)
	}
	rec := u.Files[i].Clone()
	return &rec, nil
}

// ListActive возвращает active записи в порядке загрузки.
func (s *JSONStore) ListActive(_ context.Context, username string) ([]model.FileRecord, error) {
	return s.listInState(username, model.StateActive)
}

// ListTrashed возвращает записи корзины в порядке загрузки.
func (s *JSONStore) ListTrashed(_ context.Context, username string) ([]model.FileRecord, error) {
	return s.listInState(username, model.StateTrashed)
}

// Search возвращает active записи, имя которых содержит term без учёта регистра.
func (s *JSONStore) Search(ctx context.Context, username, term string) ([]model.FileRecord, error) {
	active, err := s.ListActive(ctx, username)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	result := make([]model.FileRecord, 0, len(active))
	for _, f := range active {
		if strings.Contains(strings.ToLower(f.Filename), needle) {
			result = append(result, f)
		}
	}
	return result, nil
}

// ListRecent возвращает active записи всех пользователей, загруженные
// не раньше now-since, от новых к старым.
func (s *JSONStore) ListRecent(_ context.Context, since time.Duration) ([]model.RecentFile, error) {
	cutoff := s.now().UTC().Add(-since)

	s.mu.RLock()
	var result []model.RecentFile
	for name, u := range s.doc.Users {
		for _, f := range u.Files {
			if f.IsActive() && !f.UploadedAt.Before(cutoff) {
				result = append(result, model.RecentFile{Username: name, File: f.Clone()})
			}
		}
	}
	s.mu.RUnlock()

	sortRecent(result)
	return result, nil
}

// ListTrashedBefore возвращает записи корзины, помещённые туда раньше cutoff.
func (s *JSONStore) ListTrashedBefore(_ context.Context, cutoff time.Time) ([]model.RecentFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.RecentFile
	for _, name := range s.sortedUsernames() {
		for _, f := range s.doc.Users[name].Files {
			if f.IsTrashed() && f.TrashedAt != nil && f.TrashedAt.Before(cutoff) {
				result = append(result, model.RecentFile{Username: name, File: f.Clone()})
			}
		}
	}
	return result, nil
}

// Usernames возвращает отсортированный список пользователей.
func (s *JSONStore) Usernames(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedUsernames(), nil
}

// transition применяет операцию жизненного цикла к записи файла.
func (s *JSONStore) transition(username, filename string, op lifecycle.Operation) error {
	return s.mutateUser(username, func(u *model.User) error {
		i := u.FindFile(filename)
		if i < 0 {
			return fmt.Errorf("%w: файл %s", model.ErrNotFound, filename)
		}

		to, err := lifecycle.Next(u.Files[i].State, op)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}

		switch to {
		case lifecycle.StatePurged:
			u.Files = append(u.Files[:i], u.Files[i+1:]...)
		case model.StateTrashed:
			trashedAt := s.now().UTC()
			u.Files[i].State = to
			u.Files[i].TrashedAt = &trashedAt
		default:
			u.Files[i].State = to
			u.Files[i].TrashedAt = nil
		}
		return nil
	})
}

// mutateUser применяет fn к копии пользователя и сохраняет документ.
// При ошибке fn или Save документ в памяти остаётся прежним.
func (s *JSONStore) mutateUser(username string, fn func(u *model.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orig, ok := s.doc.Users[username]
	if !ok {
		return fmt.Errorf("%w %s", model.ErrUserNotFound, username)
	}

	updated := orig.Clone()
	if err := fn(updated); err != nil {
		return err
	}

	s.doc.Users[username] = updated
	if err := Save(s.path, s.doc); err != nil {
		s.doc.Users[username] = orig
		return err
	}
	return nil
}

func (s *JSONStore) listInState(username string, state model.FileState) ([]model.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.doc.Users[username]
	if !ok {
		return nil, fmt.Errorf("%w %s", model.ErrUserNotFound, username)
	}
	return u.FilesInState(state), nil
}

// sortedUsernames — вызывается под s.mu.
func (s *JSONStore) sortedUsernames() []string {
	names := make([]string, 0, len(s.doc.Users))
	for name := range s.doc.Users {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func userWithoutFiles(u *model.User) *model.User {
	c := *u
	c.Files = nil
	return &c
}

// sortRecent упорядочивает по времени загрузки (новые первыми),
// при равенстве — по пользователю и имени файла.
func sortRecent(files []model.RecentFile) {
	sort.Slice(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if !a.File.UploadedAt.Equal(b.File.UploadedAt) {
			return a.File.UploadedAt.After(b.File.UploadedAt)
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.File.Filename < b.File.Filename
	})
}
