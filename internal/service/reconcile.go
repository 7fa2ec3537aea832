// reconcile.go — сервис сверки реестра и содержимого файлов (vault).
//
// Для каждого пользователя и каждого имени файла, известного хотя бы одной
// стороне, состояние классифицируется по тройке
// (запись в реестре, файл в активной области, файл в корзине):
//
//	реестр   active  trash  класс                исправление
//	active   да      нет    ok                   —
//	active   нет     да     interrupted_trash    MarkTrashed
//	active   нет     нет    lost_blob            нет (issue)
//	trashed  нет     да     ok                   —
//	trashed  да      нет    interrupted_restore  MarkRestored
//	trashed  нет     нет    interrupted_purge    Purge записи
//	нет      да      нет    orphan_blob          Adopt (active)
//	нет      нет     да     orphan_trash         Adopt (trashed)
//	любое    да      да     duplicate_blob       нет (issue)
//
// Файлы-сироты регистрируются (self-heal) по mtime и размеру.
// Все источники — только в директории самого пользователя.
//
// Запускается как горутина с периодическим тикером (HD_RECONCILE_INTERVAL)
// и по запросу (POST /api/v1/maintenance/reconcile).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/keylock"
	"github.com/bigkaa/homedrive/internal/storage/registry"
	"github.com/bigkaa/homedrive/internal/storage/vault"
	"github.com/bigkaa/homedrive/internal/storage/wal"
)

// ErrReconcileInProgress — сверка уже выполняется.
var ErrReconcileInProgress = errors.New("сверка уже выполняется")

// Class — класс состояния пары (запись, файлы).
type Class string

const (
	ClassOK                 Class = "ok"
	ClassInterruptedTrash   Class = "interrupted_trash"
	ClassLostBlob           Class = "lost_blob"
	ClassInterruptedRestore Class = "interrupted_restore"
	ClassInterruptedPurge   Class = "interrupted_purge"
	ClassOrphanBlob         Class = "orphan_blob"
	ClassOrphanTrash        Class = "orphan_trash"
	ClassDuplicateBlob      Class = "duplicate_blob"
	// ClassUnknownUser — директория в хранилище без пользователя в реестре
	ClassUnknownUser Class = "unknown_user"
)

// Classify определяет класс по состоянию записи (пустая строка — записи нет)
// и наличию файла в активной области и корзине.
func Classify(state model.FileState, inActive, inTrash bool) Class {
	if inActive && inTrash {
		return ClassDuplicateBlob
	}
	switch state {
	case model.StateActive:
		switch {
		case inActive:
			return ClassOK
		case inTrash:
			return ClassInterruptedTrash
		default:
			return ClassLostBlob
		}
	case model.StateTrashed:
		switch {
		case inTrash:
			return ClassOK
		case inActive:
			return ClassInterruptedRestore
		default:
			return ClassInterruptedPurge
		}
	default:
		switch {
		case inActive:
			return ClassOrphanBlob
		case inTrash:
			return ClassOrphanTrash
		default:
			return ClassOK
		}
	}
}

// Repair — выполненное исправление.
type Repair struct {
	Username string `json:"username"`
	Filename string `json:"filename"`
	Class    Class  `json:"class"`
	Action   string `json:"action"`
}

// Issue — расхождение, которое сверка не устраняет.
type Issue struct {
	Username    string `json:"username"`
	Filename    string `json:"filename,omitempty"`
	Class       Class  `json:"class"`
	Description string `json:"description"`
}

// UserError — ошибка сверки пользователя; сверка остальных продолжается.
type UserError struct {
	Username string `json:"username"`
	Filename string `json:"filename,omitempty"`
	Error    string `json:"error"`
}

// ReconcileResult — итог запуска сверки.
type ReconcileResult struct {
	RunID        string      `json:"run_id"`
	StartedAt    time.Time   `json:"started_at"`
	CompletedAt  time.Time   `json:"completed_at"`
	UsersChecked int         `json:"users_checked"`
	FilesChecked int         `json:"files_checked"`
	Repairs      []Repair    `json:"repairs"`
	Issues       []Issue     `json:"issues"`
	Errors       []UserError `json:"errors"`
	// Cancelled — запуск прерван отменой контекста
	Cancelled bool `json:"cancelled"`
}

// ReconcileService — сервис сверки реестра и vault.
type ReconcileService struct {
	registry registry.Store
	vault    *vault.Vault
	locks    *keylock.KeyLock
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
	done      chan struct{}

	lastMu sync.RWMutex
	last   *ReconcileResult
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	reg registry.Store,
	v *vault.Vault,
	locks *keylock.KeyLock,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		registry: reg,
		vault:    v,
		locks:    locks,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину сверки с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновую сверку и дожидается завершения цикла.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Сверка остановлена")
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// LastResult возвращает итог последнего полного запуска или nil.
func (rs *ReconcileService) LastResult() *ReconcileResult {
	rs.lastMu.RLock()
	defer rs.lastMu.RUnlock()
	return rs.last
}

func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rs.RunOnce(ctx); err != nil && !errors.Is(err, ErrReconcileInProgress) {
				rs.logger.Error("Ошибка сверки", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce выполняет сверку всех пользователей (реестра и vault).
// Если сверка уже выполняется — ErrReconcileInProgress.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileResult, error) {
	if !rs.begin() {
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, ErrReconcileInProgress
	}
	defer rs.end()

	regUsers, err := rs.registry.Usernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователей реестра: %w", err)
	}
	vaultUsers, err := rs.vault.Users()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения пользователей хранилища: %w", err)
	}

	result := rs.reconcile(ctx, mergeSorted(regUsers, vaultUsers))

	rs.lastMu.Lock()
	rs.last = result
	rs.lastMu.Unlock()

	if !result.Cancelled {
		rs.updateFilesGauge(ctx)
	}

	return result, nil
}

// updateFilesGauge пересчитывает hd_files_total по состоянию реестра.
func (rs *ReconcileService) updateFilesGauge(ctx context.Context) {
	st, err := CollectStats(ctx, rs.registry)
	if err != nil {
		rs.logger.Warn("Не удалось обновить счётчики файлов", slog.String("error", err.Error()))
		return
	}
	filesTotal.WithLabelValues(string(model.StateActive)).Set(float64(st.Active))
	filesTotal.WithLabelValues(string(model.StateTrashed)).Set(float64(st.Trashed))
}

// ReconcileUsers выполняет сверку только указанных пользователей.
// Используется при восстановлении после рестарта по записям журнала.
func (rs *ReconcileService) ReconcileUsers(ctx context.Context, usernames []string) (*ReconcileResult, error) {
	if !rs.begin() {
		return nil, ErrReconcileInProgress
	}
	defer rs.end()

	return rs.reconcile(ctx, mergeSorted(usernames, nil)), nil
}

func (rs *ReconcileService) begin() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.inProcess {
		return false
	}
	rs.inProcess = true
	return true
}

func (rs *ReconcileService) end() {
	rs.mu.Lock()
	rs.inProcess = false
	rs.mu.Unlock()
}

// reconcile обходит пользователей по порядку. Ошибка пользователя
// фиксируется в результате, обход продолжается. Отмена контекста
// проверяется между пользователями и между файлами.
func (rs *ReconcileService) reconcile(ctx context.Context, usernames []string) *ReconcileResult {
	result := &ReconcileResult{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Repairs:   []Repair{},
		Issues:    []Issue{},
		Errors:    []UserError{},
	}

	rs.logger.Info("Сверка начата",
		slog.String("run_id", result.RunID),
		slog.Int("users", len(usernames)),
	)

	for _, username := range usernames {
		if ctx.Err() != nil {
			result.Cancelled = true
			break
		}
		if err := rs.reconcileUser(ctx, username, result); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				result.Cancelled = true
				break
			}
			rs.logger.Error("Ошибка сверки пользователя",
				slog.String("run_id", result.RunID),
				slog.String("username", username),
				slog.String("error", err.Error()),
			)
			result.Errors = append(result.Errors, UserError{Username: username, Error: err.Error()})
			reconcileErrorsTotal.Inc()
		}
		result.UsersChecked++
	}

	result.CompletedAt = time.Now().UTC()
	duration := result.CompletedAt.Sub(result.StartedAt)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())
	for _, r := range result.Repairs {
		reconcileRepairsTotal.WithLabelValues(string(r.Class)).Inc()
	}
	for _, i := range result.Issues {
		reconcileIssuesTotal.WithLabelValues(string(i.Class)).Inc()
	}

	rs.logger.Info("Сверка завершена",
		slog.String("run_id", result.RunID),
		slog.Int("users_checked", result.UsersChecked),
		slog.Int("files_checked", result.FilesChecked),
		slog.Int("repairs", len(result.Repairs)),
		slog.Int("issues", len(result.Issues)),
		slog.Int("errors", len(result.Errors)),
		slog.Bool("cancelled", result.Cancelled),
		slog.Duration("duration", duration),
	)

	return result
}

// reconcileUser сверяет файлы одного пользователя.
func (rs *ReconcileService) reconcileUser(ctx context.Context, username string, result *ReconcileResult) error {
	active, err := rs.registry.ListActive(ctx, username)
	if errors.Is(err, model.ErrNotFound) {
		// Директория есть, пользователя в реестре нет: без учётной записи
		// файлы не принадлежат никому, исправление невозможно
		files, trash, lerr := rs.listBlobs(username)
		if lerr != nil {
			return lerr
		}
		if len(files)+len(trash) > 0 || rs.userDirExists(username) {
			result.Issues = append(result.Issues, Issue{
				Username:    username,
				Class:       ClassUnknownUser,
				Description: fmt.Sprintf("директория пользователя без учётной записи (%d файлов)", len(files)+len(trash)),
			})
		}
		return nil
	}
	if err != nil {
		return err
	}
	trashed, err := rs.registry.ListTrashed(ctx, username)
	if err != nil {
		return err
	}
	files, trash, err := rs.listBlobs(username)
	if err != nil {
		return err
	}

	names := make(map[string]struct{}, len(active)+len(trashed)+len(files)+len(trash))
	for _, r := range active {
		names[r.Filename] = struct{}{}
	}
	for _, r := range trashed {
		names[r.Filename] = struct{}{}
	}
	for name := range files {
		names[name] = struct{}{}
	}
	for name := range trash {
		names[name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, filename := range sorted {
		if err := ctx.Err(); err != nil {
			return err
		}
		if model.ValidateFilename(filename) != nil {
			result.Issues = append(result.Issues, Issue{
				Username:    username,
				Filename:    filename,
				Class:       ClassOrphanBlob,
				Description: "файл с недопустимым именем не может быть зарегистрирован",
			})
			continue
		}
		if err := rs.reconcileFile(ctx, username, filename, result); err != nil {
			return fmt.Errorf("файл %s: %w", filename, err)
		}
		result.FilesChecked++
	}
	return nil
}

// reconcileFile классифицирует и исправляет одно имя файла.
// Состояние перечитывается под блокировкой: между листингом и
// исправлением файл мог измениться пользовательской операцией.
func (rs *ReconcileService) reconcileFile(ctx context.Context, username, filename string, result *ReconcileResult) error {
	unlock := rs.locks.LockFile(username, filename)
	defer unlock()

	var state model.FileState
	rec, err := rs.registry.Get(ctx, username, filename)
	switch {
	case err == nil:
		state = rec.State
	case errors.Is(err, model.ErrNotFound):
	default:
		return err
	}

	inActive := rs.vault.Exists(username, filename, false)
	inTrash := rs.vault.Exists(username, filename, true)
	class := Classify(state, inActive, inTrash)

	repair := func(action string) {
		result.Repairs = append(result.Repairs, Repair{
			Username: username, Filename: filename, Class: class, Action: action,
		})
		rs.logger.Info("Расхождение исправлено",
			slog.String("username", username),
			slog.String("filename", filename),
			slog.String("class", string(class)),
			slog.String("action", action),
		)
	}
	issue := func(description string) {
		result.Issues = append(result.Issues, Issue{
			Username: username, Filename: filename, Class: class, Description: description,
		})
		rs.logger.Warn("Обнаружено неустранимое расхождение",
			slog.String("username", username),
			slog.String("filename", filename),
			slog.String("class", string(class)),
		)
	}

	switch class {
	case ClassOK:
		return nil

	case ClassInterruptedTrash:
		if err := rs.registry.MarkTrashed(ctx, username, filename); err != nil {
			return err
		}
		repair("mark_trashed")

	case ClassInterruptedRestore:
		if err := rs.registry.MarkRestored(ctx, username, filename); err != nil {
			return err
		}
		repair("mark_restored")

	case ClassInterruptedPurge:
		if err := rs.registry.Purge(ctx, username, filename); err != nil {
			return err
		}
		repair("purge_record")

	case ClassOrphanBlob, ClassOrphanTrash:
		inTrashArea := class == ClassOrphanTrash
		info, err := rs.vault.Stat(username, filename, inTrashArea)
		if err != nil {
			return err
		}
		targetState := model.StateActive
		if inTrashArea {
			targetState = model.StateTrashed
		}
		if _, err := rs.registry.Adopt(ctx, username, filename, info.ModTime, info.Size, targetState); err != nil {
			return err
		}
		repair("adopt_" + string(targetState))

	case ClassLostBlob:
		issue("запись в реестре без содержимого файла")

	case ClassDuplicateBlob:
		issue("файл одновременно в активной области и в корзине")
	}

	return nil
}

// listBlobs возвращает имена файлов в активной области и корзине.
func (rs *ReconcileService) listBlobs(username string) (files, trash map[string]struct{}, err error) {
	activeBlobs, err := rs.vault.List(username, false)
	if err != nil {
		return nil, nil, err
	}
	trashBlobs, err := rs.vault.List(username, true)
	if err != nil {
		return nil, nil, err
	}
	files = make(map[string]struct{}, len(activeBlobs))
	for _, b := range activeBlobs {
		files[b.Name] = struct{}{}
	}
	trash = make(map[string]struct{}, len(trashBlobs))
	for _, b := range trashBlobs {
		trash[b.Name] = struct{}{}
	}
	return files, trash, nil
}

func (rs *ReconcileService) userDirExists(username string) bool {
	users, err := rs.vault.Users()
	if err != nil {
		return false
	}
	i := sort.SearchStrings(users, username)
	return i < len(users) && users[i] == username
}

// RecoverJournal обрабатывает незавершённые транзакции журнала после рестарта:
// сверяет затронутых пользователей и закрывает записи как recovered.
func RecoverJournal(ctx context.Context, journal *wal.WAL, rs *ReconcileService, logger *slog.Logger) error {
	pending, err := journal.RecoverPending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	users := wal.PendingUsers(pending)
	logger.Warn("Восстановление после незавершённых операций",
		slog.Int("transactions", len(pending)),
		slog.Any("users", users),
	)

	result, err := rs.ReconcileUsers(ctx, users)
	if err != nil {
		return err
	}
	if result.Cancelled {
		return ctx.Err()
	}

	failed := make(map[string]bool, len(result.Errors))
	for _, e := range result.Errors {
		failed[e.Username] = true
	}
	for _, entry := range pending {
		if failed[entry.Username] {
			continue
		}
		if err := journal.MarkRecovered(entry.TransactionID); err != nil {
			logger.Error("Ошибка закрытия WAL-записи",
				slog.String("tx_id", entry.TransactionID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// mergeSorted объединяет списки имён без повторов в отсортированном порядке.
func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, name := range list {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
