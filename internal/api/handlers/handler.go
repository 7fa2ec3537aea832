// Пакет handlers — HTTP обработчики homedrive.
// Маршруты собираются в internal/server на chi; обработчики
// получают имя пользователя из контекста (middleware.SubjectFromContext).
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/bigkaa/homedrive/internal/domain/model"
)

// FileResponse — представление файла в API.
type FileResponse struct {
	Filename   string     `json:"filename"`
	UploadedAt time.Time  `json:"uploaded_at"`
	State      string     `json:"state"`
	Size       int64      `json:"size"`
	TrashedAt  *time.Time `json:"trashed_at,omitempty"`
	SHA256     string     `json:"sha256,omitempty"`
}

// FileListResponse — список файлов.
type FileListResponse struct {
	Items []FileResponse `json:"items"`
	Total int            `json:"total"`
}

func toFileResponse(rec *model.FileRecord) FileResponse {
	return FileResponse{
		Filename:   rec.Filename,
		UploadedAt: rec.UploadedAt,
		State:      string(rec.State),
		Size:       rec.Size,
		TrashedAt:  rec.TrashedAt,
	}
}

func toFileList(records []model.FileRecord) FileListResponse {
	items := make([]FileResponse, 0, len(records))
	for i := range records {
		items = append(items, toFileResponse(&records[i]))
	}
	return FileListResponse{Items: items, Total: len(items)}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
