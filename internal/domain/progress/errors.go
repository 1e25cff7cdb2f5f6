package progress

import (
	"errors"

	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// ErrDuplicateMutation возвращается хранилищем, если mutationId уже применён.
// Вызывающий должен прочитать сохранённый результат вместо повторного применения.
var ErrDuplicateMutation = errors.New("mutation already applied")

func errEmpty(op, field string) error {
	return shared.Validationf(domainName, op, "%s must not be empty", field)
}

func errNegative(op, field string) error {
	return shared.Validationf(domainName, op, "%s must not be negative", field)
}

func errInvariant(msg string) error {
	return shared.Validationf(domainName, "CheckInvariants", "%s", msg)
}
