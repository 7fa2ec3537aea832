// Пакет service — бизнес-логика homedrive.
// files.go — операции над файлами пользователя.
//
// Каждая изменяющая операция затрагивает два хранилища (vault и реестр)
// и выполняется под блокировкой пары (пользователь, файл) внутри
// транзакции журнала. Порядок шагов: сначала vault, затем реестр.
// Сбой второго шага компенсируется откатом первого; если откат тоже
// не удался, запись журнала остаётся pending и расхождение устраняет сверка.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/homedrive/internal/domain/lifecycle"
	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/keylock"
	"github.com/bigkaa/homedrive/internal/storage/registry"
	"github.com/bigkaa/homedrive/internal/storage/vault"
	"github.com/bigkaa/homedrive/internal/storage/wal"
)

// DefaultRecentWindow — окно "недавних" загрузок по умолчанию.
const DefaultRecentWindow = 7 * 24 * time.Hour

// UploadResult — результат загрузки файла.
type UploadResult struct {
	Record   *model.FileRecord
	Checksum string
}

// FileService — операции над файлами пользователя.
type FileService struct {
	registry registry.Store
	vault    *vault.Vault
	journal  *wal.WAL
	locks    *keylock.KeyLock
	now      func() time.Time
	logger   *slog.Logger
}

// NewFileService создаёт сервис файлов.
func NewFileService(
	reg registry.Store,
	v *vault.Vault,
	journal *wal.WAL,
	locks *keylock.KeyLock,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		registry: reg,
		vault:    v,
		journal:  journal,
		locks:    locks,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "file_service")),
	}
}

// SetClock подменяет источник времени загрузки (для тестов).
func (s *FileService) SetClock(now func() time.Time) {
	s.now = now
}

// Upload сохраняет файл и регистрирует его в реестре.
//
// Поток:
//  1. Проверка имён, существования пользователя и отсутствия записи
//     (active или в корзине)
//  2. WAL Begin
//  3. vault.Store (streaming + SHA-256)
//  4. registry.RecordUpload
//  5. WAL Commit
//
// При ошибке шага 4 сохранённый файл удаляется, WAL откатывается.
func (s *FileService) Upload(ctx context.Context, username, filename string, r io.Reader) (res *UploadResult, err error) {
	defer func() { observeOperation("upload", err) }()

	if err := validateNames(username, filename); err != nil {
		return nil, err
	}

	unlock := s.locks.LockFile(username, filename)
	defer unlock()

	// Неизвестный пользователь отклоняется до записи в vault
	if _, err := s.registry.Get(ctx, username, filename); err == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrDuplicateFilename, filename)
	} else if errors.Is(err, model.ErrUserNotFound) || !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	tx, err := s.journal.Begin(wal.OpUpload, username, filename)
	if err != nil {
		return nil, err
	}

	stored, err := s.vault.Store(ctx, username, filename, r)
	if err != nil {
		s.rollback(tx)
		return nil, err
	}

	rec, err := s.registry.RecordUpload(ctx, username, filename, s.now().UTC(), stored.Size)
	if err != nil {
		s.compensate(tx, "upload", err, func() error {
			return s.vault.RemoveBlob(username, filename)
		})
		return nil, err
	}

	s.commit(tx)
	uploadedBytesTotal.Add(float64(stored.Size))

	s.logger.Info("Файл загружен",
		slog.String("username", username),
		slog.String("filename", filename),
		slog.Int64("size", stored.Size),
		slog.String("sha256", stored.Checksum),
	)

	return &UploadResult{Record: rec, Checksum: stored.Checksum}, nil
}

// Trash перемещает активный файл в корзину.
func (s *FileService) Trash(ctx context.Context, username, filename string) (err error) {
	defer func() { observeOperation("trash", err) }()

	if err := validateNames(username, filename); err != nil {
		return err
	}

	unlock := s.locks.LockFile(username, filename)
	defer unlock()

	if _, err := s.requireState(ctx, username, filename, lifecycle.OpTrash); err != nil {
		return err
	}

	tx, err := s.journal.Begin(wal.OpTrash, username, filename)
	if err != nil {
		return err
	}

	if err := s.vault.MoveToTrash(username, filename); err != nil {
		s.rollback(tx)
		return err
	}

	if err := s.registry.MarkTrashed(ctx, username, filename); err != nil {
		s.compensate(tx, "trash", err, func() error {
			return s.vault.Restore(username, filename)
		})
		return err
	}

	s.commit(tx)
	s.logger.Info("Файл перемещён в корзину",
		slog.String("username", username),
		slog.String("filename", filename),
	)
	return nil
}

// Restore возвращает файл из корзины.
// Активный файл с тем же именем не перезаписывается.
func (s *FileService) Restore(ctx context.Context, username, filename string) (rec *model.FileRecord, err error) {
	defer func() { observeOperation("restore", err) }()

	if err := validateNames(username, filename); err != nil {
		return nil, err
	}

	unlock := s.locks.LockFile(username, filename)
	defer unlock()

	if _, err := s.requireState(ctx, username, filename, lifecycle.OpRestore); err != nil {
		return nil, err
	}

	tx, err := s.journal.Begin(wal.OpRestore, username, filename)
	if err != nil {
		return nil, err
	}

	if err := s.vault.Restore(username, filename); err != nil {
		s.rollback(tx)
		return nil, err
	}

	if err := s.registry.MarkRestored(ctx, username, filename); err != nil {
		s.compensate(tx, "restore", err, func() error {
			return s.vault.MoveToTrash(username, filename)
		})
		return nil, err
	}

	s.commit(tx)
	s.logger.Info("Файл восстановлен из корзины",
		slog.String("username", username),
		slog.String("filename", filename),
	)

	return s.registry.Get(ctx, username, filename)
}

// Purge окончательно удаляет файл из корзины.
// Сначала удаляется содержимое, затем запись: сбой между шагами оставляет
// запись без файла, которую сверка классифицирует как прерванное удаление.
func (s *FileService) Purge(ctx context.Context, username, filename string) (err error) {
	defer func() { observeOperation("purge", err) }()

	if err := validateNames(username, filename); err != nil {
		return err
	}

	unlock := s.locks.LockFile(username, filename)
	defer unlock()

	if _, err := s.requireState(ctx, username, filename, lifecycle.OpPurge); err != nil {
		return err
	}

	tx, err := s.journal.Begin(wal.OpPurge, username, filename)
	if err != nil {
		return err
	}

	// Отсутствие содержимого — продолжение прерванного удаления
	if err := s.vault.PurgeBlob(username, filename); err != nil && !errors.Is(err, model.ErrNotFound) {
		s.rollback(tx)
		return err
	}

	if err := s.registry.Purge(ctx, username, filename); err != nil {
		// Содержимое уже удалено, откат невозможен: запись журнала остаётся pending
		s.logger.Error("Ошибка удаления записи после удаления содержимого",
			slog.String("tx_id", tx.TransactionID),
			slog.String("username", username),
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.commit(tx)
	s.logger.Info("Файл удалён из корзины",
		slog.String("username", username),
		slog.String("filename", filename),
	)
	return nil
}

// Open открывает активный файл для скачивания.
// Вызывающий код обязан закрыть файл.
func (s *FileService) Open(ctx context.Context, username, filename string) (*os.File, *model.FileRecord, error) {
	if err := validateNames(username, filename); err != nil {
		return nil, nil, err
	}

	rec, err := s.requireState(ctx, username, filename, lifecycle.OpDownload)
	if err != nil {
		return nil, nil, err
	}

	f, err := s.vault.Open(username, filename)
	if err != nil {
		return nil, nil, err
	}
	return f, rec, nil
}

// List возвращает активные файлы пользователя в порядке загрузки.
func (s *FileService) List(ctx context.Context, username string) ([]model.FileRecord, error) {
	return s.registry.ListActive(ctx, username)
}

// ListTrash возвращает содержимое корзины пользователя.
func (s *FileService) ListTrash(ctx context.Context, username string) ([]model.FileRecord, error) {
	return s.registry.ListTrashed(ctx, username)
}

// Search ищет активные файлы по подстроке имени без учёта регистра.
func (s *FileService) Search(ctx context.Context, username, term string) ([]model.FileRecord, error) {
	return s.registry.Search(ctx, username, term)
}

// Recent возвращает файлы пользователя, загруженные за окно window
// (от новых к старым). window <= 0 — окно по умолчанию.
func (s *FileService) Recent(ctx context.Context, username string, window time.Duration) ([]model.FileRecord, error) {
	if window <= 0 {
		window = DefaultRecentWindow
	}
	all, err := s.registry.ListRecent(ctx, window)
	if err != nil {
		return nil, err
	}
	result := []model.FileRecord{}
	for _, rf := range all {
		if rf.Username == username {
			result = append(result, rf.File)
		}
	}
	return result, nil
}

// requireState проверяет, что запись существует и допускает операцию op.
func (s *FileService) requireState(ctx context.Context, username, filename string, op lifecycle.Operation) (*model.FileRecord, error) {
	rec, err := s.registry.Get(ctx, username, filename)
	if err != nil {
		return nil, err
	}
	if !lifecycle.CanPerform(rec.State, op) {
		return nil, fmt.Errorf("%s: %w", filename, &lifecycle.TransitionError{Op: op, From: rec.State})
	}
	return rec, nil
}

// compensate откатывает первый шаг операции после сбоя второго.
// Успешный откат закрывает транзакцию как rolled_back; неудачный
// оставляет её pending для сверки при следующем старте.
func (s *FileService) compensate(tx *wal.Entry, operation string, cause error, undo func() error) {
	if err := undo(); err != nil {
		compensationsTotal.WithLabelValues(operation, "error").Inc()
		s.logger.Error("Компенсация не удалась, расхождение будет устранено сверкой",
			slog.String("tx_id", tx.TransactionID),
			slog.String("operation", operation),
			slog.String("username", tx.Username),
			slog.String("filename", tx.Filename),
			slog.String("cause", cause.Error()),
			slog.String("error", err.Error()),
		)
		return
	}
	compensationsTotal.WithLabelValues(operation, "ok").Inc()
	s.logger.Warn("Операция отменена после ошибки реестра",
		slog.String("tx_id", tx.TransactionID),
		slog.String("operation", operation),
		slog.String("error", cause.Error()),
	)
	s.rollback(tx)
}

func (s *FileService) commit(tx *wal.Entry) {
	if err := s.journal.Commit(tx.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL",
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *FileService) rollback(tx *wal.Entry) {
	if err := s.journal.Rollback(tx.TransactionID); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", tx.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}

func validateNames(username, filename string) error {
	if err := model.ValidateUsername(username); err != nil {
		return err
	}
	return model.ValidateFilename(filename)
}
