package panel

import (
	"errors"
	"fmt"
)

// ErrAuth — панель отклонила логин или не вернула сессионную cookie.
var ErrAuth = errors.New("panel: authentication failed")

// ErrNotFound — ожидаемый объект (inbound или клиент) отсутствует.
// Отличается от RemoteError: это обычно "ещё не создан", а не "панель сломана".
var ErrNotFound = errors.New("panel: object not found")

// RemoteError — не-200 ответ любого эндпоинта панели кроме логина.
type RemoteError struct {
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("panel: remote error, status=%d body=%s", e.Status, e.Body)
}
