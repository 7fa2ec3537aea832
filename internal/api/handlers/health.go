// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/homedrive/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// readyTimeout — таймаут проверки реестра в readiness probe.
const readyTimeout = 2 * time.Second

// Pinger — проверка доступности реестра.
type Pinger interface {
	Ping(ctx context.Context) error
	Backend() string
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — путь к директории данных (проверка записи)
	dataDir string
	// walDir — путь к директории WAL (проверка записи)
	walDir   string
	registry Pinger
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(dataDir, walDir string, registry Pinger) *HealthHandler {
	return &HealthHandler{
		version:  config.Version,
		dataDir:  dataDir,
		walDir:   walDir,
		registry: registry,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "homedrive",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директория данных, WAL, реестр.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := checkWritable(h.dataDir, "Директория данных")
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Недоступный WAL не блокирует чтение, но операции изменения упадут
	walCheck := checkWritable(h.walDir, "Директория WAL")
	if walCheck["status"] != "ok" && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	registryCheck := h.checkRegistry(r.Context())
	if registryCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "homedrive",
		"checks": map[string]any{
			"filesystem": fsCheck,
			"wal":        walCheck,
			"registry":   registryCheck,
		},
	})
}

func (h *HealthHandler) checkRegistry(ctx context.Context) map[string]any {
	if h.registry == nil {
		return map[string]any{"status": "ok", "message": "Проверка не настроена"}
	}
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()

	if err := h.registry.Ping(ctx); err != nil {
		return map[string]any{
			"status":  statusFail,
			"backend": h.registry.Backend(),
			"message": "Реестр недоступен: " + err.Error(),
		}
	}
	return map[string]any{"status": "ok", "backend": h.registry.Backend()}
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, what string) map[string]any {
	if dir == "" {
		return map[string]any{"status": "ok", "message": "Проверка не настроена"}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": what + " недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": "ok"}
}
