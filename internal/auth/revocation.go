package auth

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RevocationList — отозванные токены (logout) по jti.
// Запись живёт не дольше токена: по истечении TTL токен
// отклоняется проверкой exp.
type RevocationList struct {
	cache *expirable.LRU[string, time.Time]
}

// NewRevocationList создаёт список отзыва на size записей с TTL ttl.
func NewRevocationList(size int, ttl time.Duration) *RevocationList {
	return &RevocationList{
		cache: expirable.NewLRU[string, time.Time](size, nil, ttl),
	}
}

// Revoke отзывает токен с идентификатором jti.
func (r *RevocationList) Revoke(jti string, expiresAt time.Time) {
	r.cache.Add(jti, expiresAt)
}

// IsRevoked проверяет, отозван ли токен.
func (r *RevocationList) IsRevoked(jti string) bool {
	_, ok := r.cache.Get(jti)
	return ok
}

// Len возвращает количество отозванных токенов в списке.
func (r *RevocationList) Len() int {
	return r.cache.Len()
}
