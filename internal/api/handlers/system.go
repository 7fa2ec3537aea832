// system.go — обработчик GET /api/v1/info.
// Публичный endpoint (без аутентификации) для мониторинга.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/bigkaa/homedrive/internal/config"
	"github.com/bigkaa/homedrive/internal/service"
	"github.com/bigkaa/homedrive/internal/storage/registry"
)

// DiskUsageFunc возвращает ёмкость диска директории данных в байтах.
type DiskUsageFunc func(path string) (total, used, available int64, err error)

// InfoResponse — ответ GET /api/v1/info.
type InfoResponse struct {
	Service         string     `json:"service"`
	Version         string     `json:"version"`
	RegistryBackend string     `json:"registry_backend"`
	Users           int        `json:"users"`
	Files           FileCounts `json:"files"`
	Disk            *DiskInfo  `json:"disk,omitempty"`
}

// FileCounts — количество файлов по состояниям.
type FileCounts struct {
	Active  int `json:"active"`
	Trashed int `json:"trashed"`
}

// DiskInfo — ёмкость диска.
type DiskInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	registry  registry.Store
	dataDir   string
	diskUsage DiskUsageFunc
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage может быть nil — блок disk в ответе отсутствует.
func NewSystemHandler(reg registry.Store, dataDir string, diskUsage DiskUsageFunc, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		registry:  reg,
		dataDir:   dataDir,
		diskUsage: diskUsage,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	resp := InfoResponse{
		Service:         "homedrive",
		Version:         config.Version,
		RegistryBackend: h.registry.Backend(),
	}

	if st, err := service.CollectStats(r.Context(), h.registry); err != nil {
		h.logger.Warn("Ошибка подсчёта файлов", slog.String("error", err.Error()))
	} else {
		resp.Users = st.Users
		resp.Files = FileCounts{Active: st.Active, Trashed: st.Trashed}
	}

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage(h.dataDir)
		if err != nil {
			h.logger.Warn("Ошибка получения ёмкости диска", slog.String("error", err.Error()))
		} else {
			resp.Disk = &DiskInfo{TotalBytes: total, UsedBytes: used, AvailableBytes: available}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
