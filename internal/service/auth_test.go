package service

import (
	"context"
	"crypto/rsa"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigkaa/homedrive/internal/auth"
	"github.com/bigkaa/homedrive/internal/domain/model"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		key, err := auth.GenerateKey()
		if err != nil {
			panic(err)
		}
		testKey = key
	})
	return testKey
}

func newTestAuth(t *testing.T, env *testEnv) *AuthService {
	t.Helper()
	issuer, err := auth.NewIssuer(signingKey(t), time.Hour)
	require.NoError(t, err)
	return NewAuthService(env.registry, issuer, auth.NewRevocationList(100, time.Hour), env.logger)
}

func TestAuth_SignupLoginLogout(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestAuth(t, env)
	ctx := context.Background()

	tok, err := svc.Signup(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "alice", tok.Subject)

	claims, err := svc.Verify(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)

	login, err := svc.Login(ctx, "alice", "correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, tok.ID, login.ID)

	svc.Logout(claims)
	_, err = svc.Verify(ctx, tok.Value)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	// Другой токен того же пользователя не отозван
	_, err = svc.Verify(ctx, login.Value)
	assert.NoError(t, err)
}

func TestAuth_SignupValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestAuth(t, env)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "short")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Signup(ctx, "alice", strings.Repeat("x", MaxPasswordLen+1))
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, err = svc.Signup(ctx, "../root", "long enough")
	assert.ErrorIs(t, err, model.ErrInvalidName)

	_, err = svc.Signup(ctx, "alice", "long enough")
	require.NoError(t, err)
	_, err = svc.Signup(ctx, "alice", "another password")
	assert.ErrorIs(t, err, model.ErrAlreadyExists)

	// Повторная регистрация не меняет пароль
	_, err = svc.Login(ctx, "alice", "long enough")
	assert.NoError(t, err)
	_, err = svc.Login(ctx, "alice", "another password")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestAuth_LoginUniformError(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestAuth(t, env)
	ctx := context.Background()

	_, err := svc.Signup(ctx, "alice", "long enough")
	require.NoError(t, err)

	_, errWrong := svc.Login(ctx, "alice", "wrong password")
	_, errUnknown := svc.Login(ctx, "bob", "long enough")
	_, errInvalid := svc.Login(ctx, "../bob", "long enough")

	require.ErrorIs(t, errWrong, model.ErrInvalidCredentials)
	require.ErrorIs(t, errUnknown, model.ErrInvalidCredentials)
	require.ErrorIs(t, errInvalid, model.ErrInvalidCredentials)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())
}

func TestAuth_JWKS(t *testing.T) {
	env := newTestEnv(t)
	svc := newTestAuth(t, env)
	assert.Contains(t, string(svc.JWKS()), `"RS256"`)
}
