package domain

import "errors"

// Классы ошибок пайплайна. Конкретные причины оборачиваются через %w.
var (
	// ErrValidation: плохая подпись, формат полей, отсутствующие заголовки. Никогда не ретраится.
	ErrValidation = errors.New("validation error")
	// ErrAdmissionDenied: превышен лимит, клиент может повторить после Retry-After.
	ErrAdmissionDenied = errors.New("admission denied")
	// ErrConstitutionalViolation: не пройдены пороги политики соответствия.
	ErrConstitutionalViolation = errors.New("constitutional violation")
	// ErrExecution: ошибка конкретного действия на Stage 4.
	ErrExecution = errors.New("execution error")
	// ErrUnknownAction: нарушение контракта: действие не зарегистрировано.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidState: ExecutionContext структурно неполон.
	ErrInvalidState = errors.New("invalid execution state")
	// ErrNotFound: запись консоли (политика, пользователь) не найдена.
	ErrNotFound = errors.New("not found")
)

// ViolationKind классифицирует нарушение вердикта.
type ViolationKind string

const (
	KindValidation     ViolationKind = "VALIDATION"
	KindAdmission      ViolationKind = "ADMISSION"
	KindConstitutional ViolationKind = "CONSTITUTIONAL"
)

// Err возвращает sentinel-ошибку для класса нарушения.
func (k ViolationKind) Err() error {
	switch k {
	case KindAdmission:
		return ErrAdmissionDenied
	case KindConstitutional:
		return ErrConstitutionalViolation
	default:
		return ErrValidation
	}
}
