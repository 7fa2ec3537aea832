package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Ограничения на имена.
const (
	MaxUsernameLen = 64
	MaxFilenameLen = 255
)

// ValidateUsername проверяет имя пользователя: 1–64 символа из букв
// латиницы и кириллицы, цифр, '-', '_', '.', без ведущей точки.
// Имя пользователя используется как имя директории в хранилище.
func ValidateUsername(username string) error {
	if username == "" || utf8.RuneCountInString(username) > MaxUsernameLen {
		return fmt.Errorf("%w: имя пользователя должно содержать от 1 до %d символов", ErrInvalidName, MaxUsernameLen)
	}
	if strings.HasPrefix(username, ".") {
		return fmt.Errorf("%w: имя пользователя не может начинаться с точки", ErrInvalidName)
	}
	for _, r := range username {
		if !isUsernameRune(r) {
			return fmt.Errorf("%w: недопустимый символ %q в имени пользователя", ErrInvalidName, r)
		}
	}
	return nil
}

// ValidateFilename проверяет имя файла: непустое, не длиннее 255 байт,
// без разделителей пути, NUL и управляющих символов, не '.'/'..',
// без ведущей точки (скрытые имена зарезервированы под служебные файлы).
func ValidateFilename(filename string) error {
	if filename == "" || len(filename) > MaxFilenameLen {
		return fmt.Errorf("%w: имя файла должно содержать от 1 до %d байт", ErrInvalidName, MaxFilenameLen)
	}
	if !utf8.ValidString(filename) {
		return fmt.Errorf("%w: имя файла не в UTF-8", ErrInvalidName)
	}
	if strings.HasPrefix(filename, ".") {
		return fmt.Errorf("%w: имя файла не может начинаться с точки", ErrInvalidName)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: имя файла не может содержать разделители пути", ErrInvalidName)
	}
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: имя файла содержит управляющие символы", ErrInvalidName)
		}
	}
	return nil
}

func isUsernameRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' ||
		(r >= 0x0400 && r <= 0x04FF) // Кириллица
}
