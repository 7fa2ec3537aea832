// Пакет keylock — мьютексы по ключу со счётчиком ссылок.
// Операции над одним файлом пользователя (загрузка, корзина, восстановление,
// удаление, исправления сверки) выполняются строго последовательно,
// операции над разными файлами — параллельно.
package keylock

import (
	"sync"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// KeyLock — набор мьютексов, создаваемых по требованию.
// Мьютекс удаляется, когда его никто не удерживает и не ждёт.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New создаёт пустой KeyLock.
func New() *KeyLock {
	return &KeyLock{locks: make(map[string]*entry)}
}

// Key формирует ключ для пары (пользователь, файл).
// NUL не допускается в именах, поэтому ключи не пересекаются.
func Key(username, filename string) string {
	return username + "\x00" + filename
}

// Lock захватывает мьютекс ключа и возвращает функцию освобождения.
func (k *KeyLock) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &entry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()

			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// LockFile — сокращение для Lock(Key(username, filename)).
func (k *KeyLock) LockFile(username, filename string) (unlock func()) {
	return k.Lock(Key(username, filename))
}

// Len возвращает количество ключей, которые удерживаются или ожидаются.
func (k *KeyLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
