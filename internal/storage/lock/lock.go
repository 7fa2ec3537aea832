// Пакет lock — эксклюзивная блокировка директории данных через flock().
// Документ реестра и содержимое файлов принадлежат ровно одному процессу:
// второй экземпляр с той же HD_DATA_DIR не запускается.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// FileName — имя файла блокировки в директории данных.
const FileName = ".homedrive.lock"

// ErrLocked — директория данных занята другим процессом.
var ErrLocked = errors.New("директория данных занята другим процессом")

// Lock — удерживаемая блокировка директории данных.
type Lock struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// Acquire выполняет неблокирующий захват эксклюзивного flock на
// {dataDir}/.homedrive.lock и записывает в файл владельца (host:pid).
// Если блокировка занята — ErrLocked с указанием текущего владельца.
func Acquire(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}

	path := filepath.Join(dataDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s (владелец: %s)", ErrLocked, dataDir, Owner(dataDir))
		}
		return nil, fmt.Errorf("ошибка flock %s: %w", path, err)
	}

	if err := writeOwner(f); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
		return nil, err
	}

	return &Lock{path: path, file: f}, nil
}

// Path возвращает путь к файлу блокировки.
func (l *Lock) Path() string {
	return l.path
}

// Release снимает блокировку. Повторный вызов — no-op.
// Файл блокировки не удаляется: удаление открывает гонку с новым владельцем.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	_ = l.file.Truncate(0)
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err != nil {
		return fmt.Errorf("ошибка снятия flock %s: %w", l.path, err)
	}
	return closeErr
}

// Owner возвращает содержимое lock-файла (host:pid владельца)
// или пустую строку, если файл не читается.
func Owner(dataDir string) string {
	data, err := os.ReadFile(filepath.Join(dataDir, FileName))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeOwner(f *os.File) error {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("ошибка записи lock-файла: %w", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%s:%d\n", hostname, os.Getpid())), 0); err != nil {
		return fmt.Errorf("ошибка записи lock-файла: %w", err)
	}
	return f.Sync()
}
