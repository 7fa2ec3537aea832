// Пакет model — доменные модели homedrive.
// FileRecord — метаданные одного файла пользователя, используется
// и как in-memory представление, и как элемент документа реестра на диске.
package model

import (
	"time"
)

// FileState — состояние файла в жизненном цикле.
type FileState string

const (
	// StateActive — файл доступен пользователю
	StateActive FileState = "active"
	// StateTrashed — файл в корзине (soft delete), ожидает restore или purge
	StateTrashed FileState = "trashed"
)

// Valid проверяет, что состояние входит в допустимый набор.
func (s FileState) Valid() bool {
	return s == StateActive || s == StateTrashed
}

// FileRecord — метаданные файла пользователя.
type FileRecord struct {
	// Filename — имя файла, уникально в пределах пользователя
	Filename string `json:"filename"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploaded_at"`

	// State — текущее состояние файла
	State FileState `json:"state"`

	// Size — размер файла в байтах на момент загрузки
	Size int64 `json:"size"`

	// TrashedAt — время перемещения в корзину.
	// nil для active файлов.
	TrashedAt *time.Time `json:"trashed_at,omitempty"`
}

// IsActive проверяет, что файл в активном состоянии.
func (r *FileRecord) IsActive() bool {
	return r.State == StateActive
}

// IsTrashed проверяет, что файл в корзине.
func (r *FileRecord) IsTrashed() bool {
	return r.State == StateTrashed
}

// TrashedLongerThan проверяет, что файл лежит в корзине дольше retention.
func (r *FileRecord) TrashedLongerThan(retention time.Duration, now time.Time) bool {
	if !r.IsTrashed() || r.TrashedAt == nil {
		return false
	}
	return now.Sub(*r.TrashedAt) > retention
}

// Clone возвращает независимую копию записи.
func (r FileRecord) Clone() FileRecord {
	if r.TrashedAt != nil {
		t := *r.TrashedAt
		r.TrashedAt = &t
	}
	return r
}

// RecentFile — запись о недавней загрузке с владельцем.
type RecentFile struct {
	Username string     `json:"username"`
	File     FileRecord `json:"file"`
}
