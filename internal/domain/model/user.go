package model

import (
	"time"
)

// User — учётная запись пользователя и список его файлов.
// Files упорядочен по порядку загрузки.
type User struct {
	// Username — уникальное имя пользователя (регистрозависимое)
	Username string `json:"-"`

	// PasswordHash — Argon2id хэш пароля в формате PHC
	PasswordHash string `json:"password_hash"`

	// CreatedAt — время регистрации (UTC)
	CreatedAt time.Time `json:"created_at"`

	// Files — записи файлов в порядке загрузки
	Files []FileRecord `json:"files"`
}

// Clone возвращает глубокую копию пользователя.
func (u *User) Clone() *User {
	c := *u
	c.Files = make([]FileRecord, len(u.Files))
	for i, f := range u.Files {
		c.Files[i] = f.Clone()
	}
	return &c
}

// FindFile возвращает индекс записи с указанным именем или -1.
func (u *User) FindFile(filename string) int {
	for i := range u.Files {
		if u.Files[i].Filename == filename {
			return i
		}
	}
	return -1
}

// FilesInState возвращает копии записей в указанном состоянии с сохранением порядка.
func (u *User) FilesInState(state FileState) []FileRecord {
	result := make([]FileRecord, 0, len(u.Files))
	for _, f := range u.Files {
		if f.State == state {
			result = append(result, f.Clone())
		}
	}
	return result
}
