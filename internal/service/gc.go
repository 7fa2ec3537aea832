// gc.go — сервис фоновой очистки корзины.
//
// GC выполняет три задачи:
//  1. Окончательно удаляет файлы, пролежавшие в корзине дольше срока хранения
//     (тем же путём, что и явный purge: содержимое, затем запись)
//  2. Удаляет незавершённые временные файлы загрузок старше часа
//  3. Удаляет завершённые записи журнала
//
// Запускается как горутина с периодическим тикером (HD_GC_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/storage/registry"
	"github.com/bigkaa/homedrive/internal/storage/vault"
	"github.com/bigkaa/homedrive/internal/storage/wal"
)

const (
	// staleTempAge — возраст временного файла, после которого загрузка считается брошенной.
	staleTempAge = time.Hour
	// finishedJournalAge — сколько хранятся завершённые записи журнала.
	finishedJournalAge = 24 * time.Hour
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// PurgedCount — файлы, удалённые из корзины по сроку хранения
	PurgedCount int
	// TempRemoved — удалённые временные файлы
	TempRemoved int
	// JournalRemoved — удалённые завершённые записи журнала
	JournalRemoved int
	// Errors — количество ошибок при обработке файлов
	Errors   int
	Duration time.Duration
}

// GCService — сервис фоновой очистки корзины.
type GCService struct {
	files     *FileService
	registry  registry.Store
	vault     *vault.Vault
	journal   *wal.WAL
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGCService создаёт сервис GC. retention == 0 отключает очистку корзины
// (временные файлы и журнал очищаются всегда).
func NewGCService(
	files *FileService,
	reg registry.Store,
	v *vault.Vault,
	journal *wal.WAL,
	retention, interval time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		files:     files,
		registry:  reg,
		vault:     v,
		journal:   journal,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "gc")),
	}
}

// SetClock подменяет источник времени (для тестов).
func (gc *GCService) SetClock(now func() time.Time) {
	gc.now = now
}

// Start запускает фоновую горутину GC с периодическим тикером.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("retention", gc.retention.String()),
	)
}

// Stop останавливает фоновый процесс GC и дожидается завершения цикла.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
		<-gc.done
	}
	gc.logger.Info("GC остановлен")
}

func (gc *GCService) run(ctx context.Context) {
	defer close(gc.done)

	// Первый запуск — сразу после старта
	gc.RunOnce(ctx)

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл GC.
func (gc *GCService) RunOnce(ctx context.Context) *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	now := gc.now().UTC()
	result := &GCResult{}

	gc.logger.Debug("GC запуск начат")

	if gc.retention > 0 {
		gc.purgeExpired(ctx, now.Add(-gc.retention), result)
	}
	gc.cleanTemp(now, result)

	if n, err := gc.journal.CleanFinished(finishedJournalAge); err != nil {
		gc.logger.Error("GC: ошибка очистки журнала", slog.String("error", err.Error()))
		result.Errors++
	} else {
		result.JournalRemoved = n
	}

	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcFilesPurgedTotal.Add(float64(result.PurgedCount))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("purged", result.PurgedCount),
		slog.Int("temp_removed", result.TempRemoved),
		slog.Int("journal_removed", result.JournalRemoved),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// purgeExpired удаляет файлы, перемещённые в корзину раньше cutoff.
func (gc *GCService) purgeExpired(ctx context.Context, cutoff time.Time, result *GCResult) {
	expired, err := gc.registry.ListTrashedBefore(ctx, cutoff)
	if err != nil {
		gc.logger.Error("GC: ошибка чтения корзины", slog.String("error", err.Error()))
		result.Errors++
		return
	}

	for _, rf := range expired {
		if ctx.Err() != nil {
			return
		}
		err := gc.files.Purge(ctx, rf.Username, rf.File.Filename)
		switch {
		case err == nil:
			result.PurgedCount++
			gc.logger.Debug("GC: файл удалён из корзины",
				slog.String("username", rf.Username),
				slog.String("filename", rf.File.Filename),
			)
		case errors.Is(err, model.ErrNotFound):
			// Файл восстановлен или удалён пользователем после выборки
		default:
			gc.logger.Error("GC: ошибка удаления файла",
				slog.String("username", rf.Username),
				slog.String("filename", rf.File.Filename),
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
	}
}

// cleanTemp удаляет брошенные временные файлы загрузок.
func (gc *GCService) cleanTemp(now time.Time, result *GCResult) {
	users, err := gc.vault.Users()
	if err != nil {
		gc.logger.Error("GC: ошибка чтения пользователей хранилища", slog.String("error", err.Error()))
		result.Errors++
		return
	}
	for _, u := range users {
		n, err := gc.vault.CleanTemp(u, staleTempAge, now)
		if err != nil {
			gc.logger.Error("GC: ошибка очистки временных файлов",
				slog.String("username", u),
				slog.String("error", err.Error()),
			)
			result.Errors++
		}
		result.TempRemoved += n
	}
}
