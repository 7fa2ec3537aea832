// Пакет auth — выпуск и проверка JWT (RS256) для пользователей homedrive.
// Публичный ключ публикуется как JWKS (/.well-known/jwks.json);
// проверка подписи идёт через keyfunc, построенный из того же JWKS.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// IssuerName — значение claim iss.
const IssuerName = "homedrive"

// ErrInvalidToken — токен не прошёл проверку (подпись, срок, формат).
var ErrInvalidToken = errors.New("невалидный или просроченный токен")

// Claims — claims токена пользователя.
// sub — имя пользователя, jti — идентификатор для отзыва.
type Claims struct {
	jwt.RegisteredClaims
}

// Token — выпущенный токен.
type Token struct {
	Value     string
	ID        string
	Subject   string
	ExpiresAt time.Time
}

// Issuer выпускает и проверяет токены одним RSA-ключом.
type Issuer struct {
	key    *rsa.PrivateKey
	kid    string
	ttl    time.Duration
	leeway time.Duration
	now    func() time.Time

	jwks json.RawMessage
	kf   keyfunc.Keyfunc
}

// IssuerOption — опция Issuer.
type IssuerOption func(*Issuer)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

// WithLeeway задаёт допустимое отклонение часов при проверке exp/nbf.
func WithLeeway(d time.Duration) IssuerOption {
	return func(i *Issuer) { i.leeway = d }
}

// NewIssuer создаёт Issuer: вычисляет kid, строит JWKS и keyfunc.
func NewIssuer(key *rsa.PrivateKey, ttl time.Duration, opts ...IssuerOption) (*Issuer, error) {
	if key == nil {
		return nil, errors.New("не задан ключ подписи")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("время жизни токена должно быть > 0, получено %s", ttl)
	}

	i := &Issuer{
		key: key,
		kid: keyID(&key.PublicKey),
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}

	i.jwks = buildJWKSetJSON(&key.PublicKey, i.kid)
	kf, err := keyfunc.NewJWKSetJSON(i.jwks)
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	i.kf = kf

	return i, nil
}

// TTL возвращает время жизни выпускаемых токенов.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// KeyID возвращает kid ключа подписи.
func (i *Issuer) KeyID() string {
	return i.kid
}

// JWKS возвращает JSON набора публичных ключей.
func (i *Issuer) JWKS() json.RawMessage {
	return i.jwks
}

// Issue выпускает токен для пользователя.
func (i *Issuer) Issue(username string) (*Token, error) {
	now := i.now().UTC()
	exp := now.Add(i.ttl)
	jti := uuid.New().String()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    IssuerName,
			Subject:   username,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.kid

	signed, err := token.SignedString(i.key)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи токена: %w", err)
	}

	return &Token{
		Value:     signed,
		ID:        jti,
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(exp).Time.UTC(),
	}, nil
}

// Verify проверяет подпись (RS256 через JWKS), iss, exp и наличие sub/jti.
func (i *Issuer) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, i.kf.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(IssuerName),
		jwt.WithLeeway(i.leeway),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: отсутствует sub или jti", ErrInvalidToken)
	}
	return claims, nil
}

// GenerateKey создаёт RSA-ключ для подписи токенов (2048 бит).
func GenerateKey() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации RSA-ключа: %w", err)
	}
	return key, nil
}

// LoadKey читает RSA-ключ из PEM-файла (PKCS#1 или PKCS#8).
func LoadKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения ключа %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("файл %s не содержит PEM-блока", path)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора PKCS#1 ключа %s: %w", path, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("ошибка разбора PKCS#8 ключа %s: %w", path, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("ключ %s не является RSA-ключом", path)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("неподдерживаемый тип PEM-блока %q в %s", block.Type, path)
	}
}

// keyID — первые 8 байт SHA-256 от DER публичного ключа (base64url).
func keyID(pub *rsa.PublicKey) string {
	sum := sha256.Sum256(x509.MarshalPKCS1PublicKey(pub))
	return base64.RawURLEncoding.EncodeToString(sum[:8])
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}
