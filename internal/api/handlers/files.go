// files.go — HTTP handlers файловых операций: загрузка, скачивание,
// списки, корзина, недавние.
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/homedrive/internal/api/errors"
	"github.com/bigkaa/homedrive/internal/api/middleware"
	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/service"
)

// multipartOverhead — запас на заголовки multipart поверх MaxFileSize.
const multipartOverhead = 1 << 20

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	files        *service.FileService
	maxFileSize  int64
	recentWindow time.Duration
	logger       *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	files *service.FileService,
	maxFileSize int64,
	recentWindow time.Duration,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		files:        files,
		maxFileSize:  maxFileSize,
		recentWindow: recentWindow,
		logger:       logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /api/v1/files.
// Multipart form: file (обязательно). Тело читается потоково, без буферизации в памяти.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	username := middleware.SubjectFromContext(r.Context())

	if r.ContentLength > h.maxFileSize+multipartOverhead {
		apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает лимит %d байт", h.maxFileSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается multipart/form-data")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			apierrors.ValidationError(w, "Поле 'file' обязательно")
			return
		}
		if err != nil {
			if isTooLarge(err) {
				apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает лимит %d байт", h.maxFileSize))
				return
			}
			apierrors.ValidationError(w, "Ошибка чтения multipart: "+err.Error())
			return
		}
		if part.FormName() != "file" {
			_ = part.Close()
			continue
		}

		filename := rawFilename(part.Header.Get("Content-Disposition"))
		if filename == "" {
			_ = part.Close()
			apierrors.ValidationError(w, "В поле 'file' не указано имя файла")
			return
		}

		result, err := h.files.Upload(r.Context(), username, filename, part)
		_ = part.Close()
		if err != nil {
			if isTooLarge(err) {
				apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает лимит %d байт", h.maxFileSize))
				return
			}
			apierrors.FromError(w, h.logger, err)
			return
		}

		resp := toFileResponse(result.Record)
		resp.SHA256 = result.Checksum
		writeJSON(w, http.StatusCreated, resp)
		return
	}
}

// DownloadFile обрабатывает GET /api/v1/files/{filename}/download.
// Поддерживает Range requests (206) и ETag (If-None-Match → 304) через http.ServeContent.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	username := middleware.SubjectFromContext(r.Context())
	filename := chi.URLParam(r, "filename")

	f, rec, err := h.files.Open(r.Context(), username, filename)
	if err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}

	w.Header().Set("ETag", fmt.Sprintf(`"%x-%x"`, info.ModTime().UnixNano(), info.Size()))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": rec.Filename}))
	if ctype := mime.TypeByExtension(filepath.Ext(rec.Filename)); ctype == "" {
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	http.ServeContent(w, r, rec.Filename, info.ModTime(), f)
}

// ListFiles обрабатывает GET /api/v1/files. Параметр q — поиск по подстроке.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	username := middleware.SubjectFromContext(r.Context())

	var (
		records []model.FileRecord
		err     error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		records, err = h.files.Search(r.Context(), username, q)
	} else {
		records, err = h.files.List(r.Context(), username)
	}
	if err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileList(records))
}

// TrashFile обрабатывает DELETE /api/v1/files/{filename}.
func (h *FilesHandler) TrashFile(w http.ResponseWriter, r *http.Request) {
	username := middleware.SubjectFromContext(r.Context())
	if err := h.files.Trash(r.Context(), username, chi.URLParam(r, "filename")); err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListTrash обрабатывает GET /api/v1/trash.
func (h *FilesHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	records, err := h.files.ListTrash(r.Context(), middleware.SubjectFromContext(r.Context()))
	if err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileList(records))
}

// RestoreFile обрабатывает POST /api/v1/trash/{filename}/restore.
func (h *FilesHandler) RestoreFile(w http.ResponseWriter, r *http.Request) {
	username := middleware.SubjectFromContext(r.Context())
	rec, err := h.files.Restore(r.Context(), username, chi.URLParam(r, "filename"))
	if err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileResponse(rec))
}

// PurgeFile обрабатывает DELETE /api/v1/trash/{filename}.
func (h *FilesHandler) PurgeFile(w http.ResponseWriter, r *http.Request) {
	username := middleware.SubjectFromContext(r.Context())
	if err := h.files.Purge(r.Context(), username, chi.URLParam(r, "filename")); err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRecent обрабатывает GET /api/v1/recent?window=168h.
func (h *FilesHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	window := h.recentWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			apierrors.ValidationError(w, "Параметр window должен быть положительной длительностью (например 168h)")
			return
		}
		window = d
	}

	records, err := h.files.Recent(r.Context(), middleware.SubjectFromContext(r.Context()), window)
	if err != nil {
		apierrors.FromError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileList(records))
}

// rawFilename извлекает имя файла из Content-Disposition как есть.
// multipart.Part.FileName отбрасывает путь; здесь имя проверяется целиком.
func rawFilename(disposition string) string {
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	return params["filename"]
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}
