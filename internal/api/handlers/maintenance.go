// maintenance.go — обработчик POST /api/v1/maintenance/reconcile.
// Делегирует сверку в ReconcileService.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/homedrive/internal/api/errors"
	"github.com/bigkaa/homedrive/internal/service"
)

// ReconcileRunner — интерфейс для запуска сверки.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	RunOnce(ctx context.Context) (*service.ReconcileResult, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
	logger     *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Reconcile обрабатывает POST /api/v1/maintenance/reconcile.
// Запускает синхронный цикл сверки и возвращает результат.
// Если сверка уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconciler.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrReconcileInProgress) {
			apierrors.ReconcileInProgress(w, "Сверка уже выполняется")
			return
		}
		apierrors.FromError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
