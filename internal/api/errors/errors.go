// Пакет errors — ответы с ошибками в формате homedrive.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors //nolint:revive // имя пакета совпадает со stdlib, импортируется как apierrors

import (
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/homedrive/internal/auth"
	"github.com/bigkaa/homedrive/internal/domain/model"
)

// Коды ошибок, определённые в OpenAPI контракте.
const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeNotFound            = "NOT_FOUND"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeAlreadyExists       = "ALREADY_EXISTS"
	CodeDuplicateFilename   = "DUPLICATE_FILENAME"
	CodeFileTooLarge        = "FILE_TOO_LARGE"
	CodeReconcileInProgress = "RECONCILE_IN_PROGRESS"
	CodeInternalError       = "INTERNAL_ERROR"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// FromError отображает доменную ошибку на HTTP-ответ.
// Внутренние ошибки логируются, клиенту отдаётся обобщённое сообщение.
func FromError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ioErr *model.IOError
	var corrupt *model.CorruptStateError

	switch {
	case stderrors.Is(err, model.ErrInvalidName):
		ValidationError(w, err.Error())
	case stderrors.Is(err, model.ErrDuplicateFilename):
		WriteError(w, http.StatusConflict, CodeDuplicateFilename, err.Error())
	case stderrors.Is(err, model.ErrAlreadyExists):
		WriteError(w, http.StatusConflict, CodeAlreadyExists, err.Error())
	case stderrors.Is(err, model.ErrInvalidCredentials):
		Unauthorized(w, model.ErrInvalidCredentials.Error())
	case stderrors.Is(err, auth.ErrInvalidToken):
		Unauthorized(w, auth.ErrInvalidToken.Error())
	case stderrors.Is(err, model.ErrNotFound):
		NotFound(w, err.Error())
	case stderrors.As(err, &ioErr), stderrors.As(err, &corrupt):
		logger.Error("Ошибка хранилища", slog.String("error", err.Error()))
		InternalError(w, "Ошибка хранилища")
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		InternalError(w, "Внутренняя ошибка сервера")
	}
}

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// ReconcileInProgress — 409 сверка уже выполняется.
func ReconcileInProgress(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeReconcileInProgress, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
