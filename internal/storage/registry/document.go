package registry

import (
	"errors"
	"fmt"
	"os"

	"github.com/bigkaa/homedrive/internal/domain/model"
	"github.com/bigkaa/homedrive/internal/storage/atomicfile"
)

// DocumentVersion — текущая версия формата документа реестра.
const DocumentVersion = 1

// Document — персистентное представление реестра.
// Ключ Users — имя пользователя.
type Document struct {
	Version int                    `json:"version"`
	Users   map[string]*model.User `json:"users"`
}

// NewDocument создаёт пустой документ текущей версии.
func NewDocument() *Document {
	return &Document{
		Version: DocumentVersion,
		Users:   make(map[string]*model.User),
	}
}

// Load читает документ реестра.
// Отсутствующий файл — пустой реестр (первый запуск).
// Существующий, но нечитаемый документ — *model.CorruptStateError:
// начинать работу с пустым реестром поверх чужих данных нельзя.
func Load(path string) (*Document, error) {
	var doc Document
	if err := atomicfile.ReadJSON(path, &doc); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDocument(), nil
		}
		return nil, &model.CorruptStateError{Path: path, Err: err}
	}

	if doc.Version != DocumentVersion {
		return nil, &model.CorruptStateError{
			Path: path,
			Err:  fmt.Errorf("неподдерживаемая версия документа: %d", doc.Version),
		}
	}
	if doc.Users == nil {
		doc.Users = make(map[string]*model.User)
	}

	for name, u := range doc.Users {
		if u == nil {
			return nil, &model.CorruptStateError{Path: path, Err: fmt.Errorf("пустая запись пользователя %q", name)}
		}
		u.Username = name
		if err := validateUser(u); err != nil {
			return nil, &model.CorruptStateError{Path: path, Err: err}
		}
	}

	return &doc, nil
}

// Save атомарно заменяет документ реестра на диске.
func Save(path string, doc *Document) error {
	if err := atomicfile.WriteJSON(path, doc); err != nil {
		return &model.IOError{Op: "save", Path: path, Err: err}
	}
	return nil
}

// validateUser проверяет целостность загруженной записи пользователя:
// допустимые состояния и уникальность имён файлов.
func validateUser(u *model.User) error {
	seen := make(map[string]struct{}, len(u.Files))
	for i := range u.Files {
		f := &u.Files[i]
		if !f.State.Valid() {
			return fmt.Errorf("пользователь %q, файл %q: недопустимое состояние %q", u.Username, f.Filename, f.State)
		}
		if _, dup := seen[f.Filename]; dup {
			return fmt.Errorf("пользователь %q: файл %q встречается дважды", u.Username, f.Filename)
		}
		seen[f.Filename] = struct{}{}
	}
	return nil
}
