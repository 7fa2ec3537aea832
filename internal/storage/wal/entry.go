// Пакет wal — журнал двухшаговых операций над файлами.
// Операция затрагивает два хранилища (vault и реестр); запись журнала
// создаётся до первого шага и закрывается после второго. Запись,
// оставшаяся pending после рестарта, указывает пользователя и файл,
// которые нужно сверить.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в HD_WAL_DIR.
package wal

import (
	"time"
)

// OperationType — тип двухшаговой операции.
type OperationType string

const (
	// OpUpload — сохранение содержимого + регистрация в реестре
	OpUpload OperationType = "upload"
	// OpTrash — перемещение в корзину + отметка в реестре
	OpTrash OperationType = "trash"
	// OpRestore — возврат из корзины + отметка в реестре
	OpRestore OperationType = "restore"
	// OpPurge — удаление из корзины + удаление записи
	OpPurge OperationType = "purge"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "pending"
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
	// StatusRecovered — pending запись обработана сверкой после рестарта
	StatusRecovered TransactionStatus = "recovered"
)

// Entry — запись журнала.
type Entry struct {
	TransactionID string            `json:"transaction_id"`
	Operation     OperationType     `json:"operation"`
	Status        TransactionStatus `json:"status"`
	Username      string            `json:"username"`
	Filename      string            `json:"filename"`
	StartedAt     time.Time         `json:"started_at"`

	// CompletedAt — nil для pending транзакций
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Finished проверяет, что транзакция закрыта.
func (e *Entry) Finished() bool {
	return e.Status != StatusPending
}

const walSuffix = ".wal.json"

func walFileName(txID string) string {
	return txID + walSuffix
}
