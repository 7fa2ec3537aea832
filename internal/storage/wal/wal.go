package wal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/homedrive/internal/storage/atomicfile"
)

// WAL — файловый журнал операций.
// Порядок работы: Begin (pending) → шаги операции → Commit или Rollback.
// Pending записи, найденные при старте, передаются сверке, после чего
// помечаются как recovered.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал в директории dir.
// Проверяет, что директория доступна на запись.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// Begin открывает транзакцию со статусом pending.
func (w *WAL) Begin(op OperationType, username, filename string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Username:      username,
		Filename:      filename,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать WAL-запись: %w", err)
	}

	w.logger.Debug("WAL транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("username", username),
		slog.String("filename", filename),
	)
	return entry, nil
}

// Commit закрывает транзакцию как успешную.
func (w *WAL) Commit(txID string) error {
	return w.finish(txID, StatusCommitted)
}

// Rollback закрывает транзакцию как отменённую (выполнена компенсация).
func (w *WAL) Rollback(txID string) error {
	return w.finish(txID, StatusRolledBack)
}

// MarkRecovered закрывает pending транзакцию, обработанную сверкой.
func (w *WAL) MarkRecovered(txID string) error {
	return w.finish(txID, StatusRecovered)
}

// RecoverPending возвращает pending записи в порядке начала транзакций.
// Нечитаемые записи пропускаются с предупреждением.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.scan()
	if err != nil {
		return nil, err
	}

	var pending []*Entry
	for _, entry := range all {
		if entry.Finished() {
			continue
		}
		pending = append(pending, entry)
		w.logger.Warn("Обнаружена незавершённая WAL-транзакция",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("username", entry.Username),
			slog.String("filename", entry.Filename),
			slog.Time("started_at", entry.StartedAt),
		)
	}

	sort.Slice(pending, func(i, j int) bool {
		return pending[i].StartedAt.Before(pending[j].StartedAt)
	})
	return pending, nil
}

// GetTransaction читает запись по идентификатору транзакции.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readEntry(txID)
}

// CleanFinished удаляет закрытые записи, завершённые раньше olderThan назад.
// olderThan=0 — удалить все закрытые.
func (w *WAL) CleanFinished(olderThan time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.scan()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	cleaned := 0
	for _, entry := range all {
		if !entry.Finished() || entry.CompletedAt == nil || entry.CompletedAt.After(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, walFileName(entry.TransactionID))
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить завершённую WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		w.logger.Info("Очистка WAL завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}

// PendingUsers возвращает отсортированный список пользователей,
// затронутых записями журнала, без повторов.
func PendingUsers(entries []*Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var users []string
	for _, e := range entries {
		if _, ok := seen[e.Username]; ok || e.Username == "" {
			continue
		}
		seen[e.Username] = struct{}{}
		users = append(users, e.Username)
	}
	sort.Strings(users)
	return users
}

func (w *WAL) finish(txID string, status TransactionStatus) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать WAL-запись %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("WAL-запись %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	now := time.Now().UTC()
	entry.Status = status
	entry.CompletedAt = &now

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить WAL-запись %s: %w", txID, err)
	}

	w.logger.Debug("WAL транзакция закрыта",
		slog.String("tx_id", txID),
		slog.String("status", string(status)),
		slog.Duration("duration", now.Sub(entry.StartedAt)),
	)
	return nil
}

// scan читает все записи журнала. Вызывается под w.mu.
func (w *WAL) scan() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*"+walSuffix))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	entries := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), walSuffix)
		entry, err := w.readEntry(txID)
		if err != nil {
			w.logger.Warn("Не удалось прочитать WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (w *WAL) writeEntry(entry *Entry) error {
	return atomicfile.WriteJSON(filepath.Join(w.dir, walFileName(entry.TransactionID)), entry)
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	var entry Entry
	if err := atomicfile.ReadJSON(filepath.Join(w.dir, walFileName(txID)), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
