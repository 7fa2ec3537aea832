// Пакет vault — хранилище содержимого файлов пользователей.
// Раскладка на диске:
//
//	{dataDir}/users/{username}/files/{filename}  — активные файлы
//	{dataDir}/users/{username}/trash/{filename}  — корзина
//
// Vault не знает о реестре: согласование двух хранилищ выполняет
// сервисный слой и сверка (reconcile).
package vault

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/storage/atomicfile"
)

const (
	usersDir = "users"
	filesDir = "files"
	trashDir = "trash"
)

// Vault — управление содержимым файлов на диске.
type Vault struct {
	// root — {dataDir}/users
	root string
}

// StoreResult — результат сохранения файла.
type StoreResult struct {
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 содержимого (hex)
	Checksum string
}

// BlobInfo — сведения о файле на диске.
type BlobInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New создаёт Vault, при необходимости создаёт {dataDir}/users.
func New(dataDir string) (*Vault, error) {
	root := filepath.Join(dataDir, usersDir)
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", root, err)
	}
	return &Vault{root: root}, nil
}

// Root возвращает путь к директории пользователей.
func (v *Vault) Root() string {
	return v.root
}

// Store записывает содержимое reader в активную область пользователя.
// Схема: temp файл + SHA-256 на лету → fsync → rename без перезаписи.
// Существующий файл с тем же именем в активной области или корзине —
// model.ErrDuplicateFilename. Директории пользователя создаются при
// первой загрузке.
func (v *Vault) Store(ctx context.Context, username, filename string, reader io.Reader) (*StoreResult, error) {
	if err := validate(username, filename); err != nil {
		return nil, err
	}
	if err := v.ensureUserDirs(username); err != nil {
		return nil, err
	}

	finalPath := v.path(username, filename, false)
	if v.Exists(username, filename, true) {
		return nil, fmt.Errorf("%w: %s в корзине", model.ErrDuplicateFilename, filename)
	}

	tmpPath := uploadTempPath(filepath.Dir(finalPath))
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return nil, &model.IOError{Op: "create", Path: tmpPath, Err: err}
	}

	// Streaming запись с одновременным подсчётом SHA-256
	hasher := sha256.New()
	tee := io.TeeReader(&ctxReader{ctx: ctx, r: reader}, hasher)

	size, err := io.Copy(f, tee)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, &model.IOError{Op: "write", Path: tmpPath, Err: err}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, &model.IOError{Op: "fsync", Path: tmpPath, Err: err}
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, &model.IOError{Op: "close", Path: tmpPath, Err: err}
	}

	if err := renameNoReplace(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if err := atomicfile.SyncDir(filepath.Dir(finalPath)); err != nil {
		return nil, &model.IOError{Op: "fsync", Path: finalPath, Err: err}
	}

	return &StoreResult{
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// MoveToTrash перемещает активный файл в корзину.
func (v *Vault) MoveToTrash(username, filename string) error {
	return v.move(username, filename, false)
}

// Restore возвращает файл из корзины в активную область.
// Активный файл с тем же именем не перезаписывается: model.ErrDuplicateFilename.
func (v *Vault) Restore(username, filename string) error {
	return v.move(username, filename, true)
}

// PurgeBlob окончательно удаляет файл из корзины.
func (v *Vault) PurgeBlob(username, filename string) error {
	if err := validate(username, filename); err != nil {
		return err
	}
	p := v.path(username, filename, true)
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s в корзине", model.ErrNotFound, filename)
		}
		return &model.IOError{Op: "remove", Path: p, Err: err}
	}
	return nil
}

// RemoveBlob удаляет активный файл. Отсутствие файла ошибкой не считается.
// Используется для компенсации неудачной регистрации загрузки.
func (v *Vault) RemoveBlob(username, filename string) error {
	if err := validate(username, filename); err != nil {
		return err
	}
	p := v.path(username, filename, false)
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &model.IOError{Op: "remove", Path: p, Err: err}
	}
	return nil
}

// Open открывает активный файл для чтения.
// Вызывающий код обязан закрыть файл.
func (v *Vault) Open(username, filename string) (*os.File, error) {
	if err := validate(username, filename); err != nil {
		return nil, err
	}
	p := v.path(username, filename, false)
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, filename)
		}
		return nil, &model.IOError{Op: "open", Path: p, Err: err}
	}
	return f, nil
}

// Exists проверяет наличие файла в активной области или корзине.
func (v *Vault) Exists(username, filename string, inTrash bool) bool {
	if validate(username, filename) != nil {
		return false
	}
	info, err := os.Lstat(v.path(username, filename, inTrash))
	return err == nil && info.Mode().IsRegular()
}

// Stat возвращает сведения о файле.
func (v *Vault) Stat(username, filename string, inTrash bool) (*BlobInfo, error) {
	if err := validate(username, filename); err != nil {
		return nil, err
	}
	p := v.path(username, filename, inTrash)
	info, err := os.Lstat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", model.ErrNotFound, filename)
		}
		return nil, &model.IOError{Op: "stat", Path: p, Err: err}
	}
	return &BlobInfo{Name: filename, Size: info.Size(), ModTime: info.ModTime().UTC()}, nil
}

// List возвращает файлы активной области или корзины, отсортированные по имени.
// Временные и скрытые файлы, директории и символические ссылки пропускаются.
// Отсутствующая директория пользователя — пустой список.
func (v *Vault) List(username string, inTrash bool) ([]BlobInfo, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	dir := v.areaDir(username, inTrash)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []BlobInfo{}, nil
		}
		return nil, &model.IOError{Op: "readdir", Path: dir, Err: err}
	}

	result := make([]BlobInfo, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") || !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, &model.IOError{Op: "stat", Path: filepath.Join(dir, e.Name()), Err: err}
		}
		result = append(result, BlobInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime().UTC()})
	}
	return result, nil
}

// Users возвращает отсортированный список директорий пользователей.
// Директории с недопустимыми именами пропускаются.
func (v *Vault) Users() ([]string, error) {
	entries, err := os.ReadDir(v.root)
	if err != nil {
		return nil, &model.IOError{Op: "readdir", Path: v.root, Err: err}
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && model.ValidateUsername(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// uploadTempPath возвращает имя временного файла загрузки в dir.
// Имя не содержит имени загружаемого файла: допустимое имя длиной
// model.MaxFilenameLen не должно упираться в лимит файловой системы.
func uploadTempPath(dir string) string {
	return filepath.Join(dir, ".upload."+uuid.New().String()+atomicfile.TmpSuffix)
}

// CleanTemp удаляет временные файлы незавершённых загрузок старше olderThan
// в обеих областях пользователя. Возвращает количество удалённых файлов.
func (v *Vault) CleanTemp(username string, olderThan time.Duration, now time.Time) (int, error) {
	if err := model.ValidateUsername(username); err != nil {
		return 0, err
	}
	removed := 0
	for _, inTrash := range []bool{false, true} {
		dir := v.areaDir(username, inTrash)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, &model.IOError{Op: "readdir", Path: dir, Err: err}
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, atomicfile.TmpSuffix) {
				continue
			}
			info, err := e.Info()
			if err != nil || now.Sub(info.ModTime()) < olderThan {
				continue
			}
			if err := os.Remove(filepath.Join(dir, name)); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// move переносит файл между активной областью и корзиной без перезаписи.
func (v *Vault) move(username, filename string, fromTrash bool) error {
	if err := validate(username, filename); err != nil {
		return err
	}
	if err := v.ensureUserDirs(username); err != nil {
		return err
	}

	src := v.path(username, filename, fromTrash)
	dst := v.path(username, filename, !fromTrash)

	if _, err := os.Lstat(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", model.ErrNotFound, filename)
		}
		return &model.IOError{Op: "stat", Path: src, Err: err}
	}

	if err := renameNoReplace(src, dst); err != nil {
		return err
	}

	if err := atomicfile.SyncDir(filepath.Dir(dst)); err != nil {
		return &model.IOError{Op: "fsync", Path: dst, Err: err}
	}
	if err := atomicfile.SyncDir(filepath.Dir(src)); err != nil {
		return &model.IOError{Op: "fsync", Path: src, Err: err}
	}
	return nil
}

func (v *Vault) ensureUserDirs(username string) error {
	for _, inTrash := range []bool{false, true} {
		dir := v.areaDir(username, inTrash)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &model.IOError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return nil
}

func (v *Vault) areaDir(username string, inTrash bool) string {
	area := filesDir
	if inTrash {
		area = trashDir
	}
	return filepath.Join(v.root, username, area)
}

func (v *Vault) path(username, filename string, inTrash bool) string {
	return filepath.Join(v.areaDir(username, inTrash), filename)
}

func validate(username, filename string) error {
	if err := model.ValidateUsername(username); err != nil {
		return err
	}
	return model.ValidateFilename(filename)
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
