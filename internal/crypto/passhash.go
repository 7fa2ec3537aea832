// Пакет crypto — хэширование и проверка паролей пользователей (Argon2id).
//
// Хэш хранится в формате PHC:
//
//	$argon2id$v=19$m=65536,t=3,p=1$<salt base64>$<key base64>
//
// Параметры записываются в строку, поэтому их можно менять без миграции
// существующих учётных записей.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Параметры Argon2id для новых хэшей.
const (
	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024 // 64 МБ
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
	saltLen             = 16
)

// ErrMalformedHash — строка хэша не в формате PHC argon2id.
var ErrMalformedHash = errors.New("некорректный формат хэша пароля")

var b64 = base64.RawStdEncoding

// RandBytes возвращает n криптографически случайных байт.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashPassword возвращает PHC-строку Argon2id для пароля со случайной солью.
func HashPassword(password string) (string, error) {
	salt, err := RandBytes(saltLen)
	if err != nil {
		return "", fmt.Errorf("генерация соли: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		b64.EncodeToString(salt), b64.EncodeToString(key),
	), nil
}

// VerifyPassword сравнивает пароль с PHC-строкой за постоянное время.
// Возвращает ErrMalformedHash, если строка хэша не разбирается.
func VerifyPassword(encoded, password string) (bool, error) {
	p, salt, key, err := decode(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.time, p.memory, p.threads, uint32(len(key)))
	return subtle.ConstantTimeCompare(got, key) == 1, nil
}

// VerifyDummy выполняет проверку против фиктивного хэша.
// Вызывается для неизвестных пользователей, чтобы время ответа
// не выдавало существование учётной записи.
func VerifyDummy(password string) {
	dummyOnce.Do(func() {
		dummyHash, _ = HashPassword("homedrive-dummy-password")
	})
	_, _ = VerifyPassword(dummyHash, password)
}

var (
	dummyOnce sync.Once
	dummyHash string
)

type params struct {
	memory  uint32
	time    uint32
	threads uint8
}

// decode разбирает PHC-строку на параметры, соль и ключ.
func decode(encoded string) (params, []byte, []byte, error) {
	var p params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return p, nil, nil, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: неподдерживаемая версия %d", ErrMalformedHash, version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, fmt.Errorf("%w: соль: %v", ErrMalformedHash, err)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, fmt.Errorf("%w: ключ", ErrMalformedHash)
	}

	return p, salt, key, nil
}
