// Пакет atomicfile — атомарная запись и чтение JSON-документов на диске.
// Все операции записи выполняются по схеме temp → fsync → rename → fsync(dir):
// читатель видит либо старый, либо новый документ целиком.
package atomicfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TmpSuffix — суффикс временных файлов атомарной записи.
const TmpSuffix = ".tmp"

// WriteJSON атомарно записывает v в path в формате JSON с отступами.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации %s: %w", path, err)
	}
	return Write(path, data)
}

// Write атомарно заменяет содержимое path на data.
// Временный файл создаётся рядом с целевым (та же файловая система),
// при любой ошибке удаляется.
func Write(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	tmpPath := TempPath(path)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return SyncDir(dir)
}

// ReadJSON читает и десериализует JSON из path в v.
// Ошибка отсутствия файла сохраняется в цепочке (errors.Is(err, os.ErrNotExist)).
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("ошибка десериализации %s: %w", path, err)
	}
	return nil
}

// TempPath возвращает уникальное имя временного файла для path.
// Формат: {dir}/.{base}.{uuid8}.tmp — скрытый файл с суффиксом .tmp.
func TempPath(path string) string {
	dir, base := filepath.Split(path)
	return filepath.Join(dir, "."+base+"."+uuid.New().String()[:8]+TmpSuffix)
}

// SyncDir выполняет fsync директории, чтобы rename пережил сбой питания.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("ошибка открытия директории %s: %w", dir, err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync директории %s: %w", dir, err)
	}
	return nil
}
