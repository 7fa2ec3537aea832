package lock

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

// TestAcquire_SingleInstance — первый захват успешен, владелец записан.
func TestAcquire_SingleInstance(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Ошибка Acquire: %v", err)
	}
	defer l.Release()

	owner := Owner(dir)
	if !strings.HasSuffix(owner, fmt.Sprintf(":%d", os.Getpid())) {
		t.Errorf("Ожидался владелец с pid %d, получено %q", os.Getpid(), owner)
	}
}

// TestAcquire_SecondInstanceFails — второй захват той же директории отклоняется.
func TestAcquire_SecondInstanceFails(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Ошибка первого Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(dir)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("Ожидалась ErrLocked, получено %v", err)
	}
}

// TestRelease_AllowsReacquire — после Release директорию можно захватить снова.
func TestRelease_AllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Ошибка Acquire: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("Ошибка Release: %v", err)
	}
	if err := first.Release(); err != nil {
		t.Errorf("Повторный Release должен быть no-op, получено %v", err)
	}

	second, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Ошибка повторного Acquire: %v", err)
	}
	defer second.Release()
}
