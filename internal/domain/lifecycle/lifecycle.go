// Пакет lifecycle — конечный автомат жизненного цикла файла.
//
//	active --trash--> trashed --restore--> active
//	                  trashed --purge----> purged (запись уничтожается)
//
// Любая операция над записью в неподходящем состоянии трактуется
// как отсутствие записи в требуемом состоянии (model.ErrNotFound).
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/homedrive/internal/domain/model"
)

// StatePurged — терминальное состояние: запись удалена из реестра.
// Не хранится в документе реестра.
const StatePurged model.FileState = "purged"

// Operation — операция над файлом.
type Operation string

const (
	OpTrash    Operation = "trash"
	OpRestore  Operation = "restore"
	OpPurge    Operation = "purge"
	OpDownload Operation = "download"
)

// transitions — матрица допустимых переходов.
// Ключ — текущее состояние, значение — операция → целевое состояние.
var transitions = map[model.FileState]map[Operation]model.FileState{
	model.StateActive:  {OpTrash: model.StateTrashed},
	model.StateTrashed: {OpRestore: model.StateActive, OpPurge: StatePurged},
}

// readOperations — операции без смены состояния.
var readOperations = map[model.FileState]map[Operation]bool{
	model.StateActive: {OpDownload: true},
}

// TransitionError — операция недопустима в текущем состоянии файла.
type TransitionError struct {
	Op   Operation
	From model.FileState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("операция %s недопустима для файла в состоянии %s", e.Op, e.From)
}

// Unwrap сводит ошибку перехода к model.ErrNotFound:
// записи в требуемом состоянии нет.
func (e *TransitionError) Unwrap() error {
	return model.ErrNotFound
}

// Next возвращает состояние после операции op или TransitionError.
func Next(from model.FileState, op Operation) (model.FileState, error) {
	ops, ok := transitions[from]
	if !ok {
		return "", &TransitionError{Op: op, From: from}
	}
	to, ok := ops[op]
	if !ok {
		return "", &TransitionError{Op: op, From: from}
	}
	return to, nil
}

// CanPerform проверяет, допустима ли операция для файла в состоянии state.
func CanPerform(state model.FileState, op Operation) bool {
	if readOperations[state][op] {
		return true
	}
	_, ok := transitions[state][op]
	return ok
}

// RequiredState возвращает состояние, в котором должна находиться запись
// для выполнения операции.
func RequiredState(op Operation) model.FileState {
	switch op {
	case OpTrash, OpDownload:
		return model.StateActive
	case OpRestore, OpPurge:
		return model.StateTrashed
	default:
		return ""
	}
}
