package tasks

import (
	"context"
	"strconv"
	"sync"

	"VPN-Manager-bot/internal/logger"

	"go.uber.org/zap"
)

// Key идентифицирует фоновую проверку платежа.
type Key struct {
	UserID    int64
	PaymentID string
}

func (k Key) String() string {
	return strconv.FormatInt(k.UserID, 10) + ":" + k.PaymentID
}

type entry struct {
	cancel context.CancelFunc
	gen    uint64
}

// Registry — процессный реестр отменяемых фоновых задач (поллинг статуса
// платежа). Жизненный цикл явный: вставка при старте, удаление в defer,
// поиск-и-отмена перед вставкой, чтобы не плодить дубли по одному ключу.
type Registry struct {
	mu      sync.Mutex
	nextGen uint64
	tasks   map[Key]entry
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[Key]entry)}
}

// Start регистрирует задачу и возвращает её контекст и функцию done,
// которую задача обязана вызвать по завершении (обычно в defer).
// Если по ключу уже работает задача, она отменяется и замещается.
func (r *Registry) Start(parent context.Context, key Key) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	if prev, ok := r.tasks[key]; ok {
		logger.Warn("Повторный запуск задачи, старая отменена", zap.String("key", key.String()))
		prev.cancel()
	}
	r.nextGen++
	gen := r.nextGen
	r.tasks[key] = entry{cancel: cancel, gen: gen}
	r.mu.Unlock()

	var once sync.Once
	done := func() {
		once.Do(func() {
			r.mu.Lock()
			// Удаляем только свою запись: задачу могли уже заместить.
			if cur, ok := r.tasks[key]; ok && cur.gen == gen {
				delete(r.tasks, key)
			}
			r.mu.Unlock()
			cancel()
		})
	}
	return ctx, done
}

// Cancel отменяет задачу по ключу. Возвращает false, если задачи нет.
func (r *Registry) Cancel(key Key) bool {
	r.mu.Lock()
	e, ok := r.tasks[key]
	if ok {
		delete(r.tasks, key)
	}
	r.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

// Len — число активных задач (для статистики и тестов).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
