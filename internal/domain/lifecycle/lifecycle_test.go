package lifecycle

import (
	"errors"
	"testing"

	"github.com/bigkaa/homedrive/internal/domain/model"
)

// TestNext_ValidTransitions проверяет штатные переходы жизненного цикла.
func TestNext_ValidTransitions(t *testing.T) {
	tests := []struct {
		from model.FileState
		op   Operation
		want model.FileState
	}{
		{model.StateActive, OpTrash, model.StateTrashed},
		{model.StateTrashed, OpRestore, model.StateActive},
		{model.StateTrashed, OpPurge, StatePurged},
	}

	for _, tt := range tests {
		got, err := Next(tt.from, tt.op)
		if err != nil {
			t.Errorf("%s --%s-->: неожиданная ошибка: %v", tt.from, tt.op, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s --%s-->: ожидалось %q, получено %q", tt.from, tt.op, tt.want, got)
		}
	}
}

// TestNext_InvalidTransitions проверяет, что недопустимые переходы
// сводятся к model.ErrNotFound.
func TestNext_InvalidTransitions(t *testing.T) {
	tests := []struct {
		from model.FileState
		op   Operation
	}{
		{model.StateActive, OpRestore},
		{model.StateActive, OpPurge},
		{model.StateTrashed, OpTrash},
		{StatePurged, OpRestore},
		{model.FileState(""), OpTrash},
	}

	for _, tt := range tests {
		_, err := Next(tt.from, tt.op)
		if err == nil {
			t.Errorf("%s --%s-->: ожидалась ошибка", tt.from, tt.op)
			continue
		}
		if !errors.Is(err, model.ErrNotFound) {
			t.Errorf("%s --%s-->: ожидалась model.ErrNotFound, получено %v", tt.from, tt.op, err)
		}
		var te *TransitionError
		if !errors.As(err, &te) {
			t.Errorf("ожидался *TransitionError, получено %T", err)
		}
	}
}

// TestCanPerform проверяет матрицу допустимых операций.
func TestCanPerform(t *testing.T) {
	if !CanPerform(model.StateActive, OpDownload) {
		t.Error("download должен быть допустим для active")
	}
	if CanPerform(model.StateTrashed, OpDownload) {
		t.Error("download не должен быть допустим для trashed")
	}
	if !CanPerform(model.StateActive, OpTrash) {
		t.Error("trash должен быть допустим для active")
	}
	if CanPerform(model.StateActive, OpPurge) {
		t.Error("purge не должен быть допустим для active")
	}
}

func TestRequiredState(t *testing.T) {
	if RequiredState(OpTrash) != model.StateActive {
		t.Error("trash требует active")
	}
	if RequiredState(OpRestore) != model.StateTrashed {
		t.Error("restore требует trashed")
	}
	if RequiredState(OpPurge) != model.StateTrashed {
		t.Error("purge требует trashed")
	}
}
