package model

import (
	"errors"
	"fmt"
)

// Доменные ошибки реестра и хранилища.
// Проверяются через errors.Is / errors.As на всех уровнях.
var (
	// ErrAlreadyExists — пользователь с таким именем уже существует.
	ErrAlreadyExists = errors.New("пользователь уже существует")
	// ErrInvalidCredentials — неверное имя пользователя или пароль.
	// Одинакова для неизвестного пользователя и неверного пароля.
	ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")
	// ErrNotFound — запись или файл не найдены.
	ErrNotFound = errors.New("не найдено")
	// ErrDuplicateFilename — файл с таким именем уже существует.
	ErrDuplicateFilename = errors.New("файл с таким именем уже существует")
	// ErrInvalidName — недопустимое имя пользователя или файла.
	ErrInvalidName = errors.New("недопустимое имя")
	// ErrUserNotFound — пользователь не зарегистрирован. Также ErrNotFound.
	ErrUserNotFound = fmt.Errorf("%w: пользователь", ErrNotFound)
)

// CorruptStateError — документ реестра существует, но не может быть прочитан.
// Сервис обязан отказаться от запуска, а не начинать с пустого реестра.
type CorruptStateError struct {
	Path string
	Err  error
}

func (e *CorruptStateError) Error() string {
	return fmt.Sprintf("документ реестра %s повреждён: %v", e.Path, e.Err)
}

func (e *CorruptStateError) Unwrap() error {
	return e.Err
}

// IOError — ошибка файлового хранилища.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("ошибка %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
