package services

import (
	"context"
	"errors"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"
	"VPN-Manager-bot/internal/panel"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrGroupNotFound — группа серверов не существует в реестре.
var ErrGroupNotFound = errors.New("server group not found")

// ErrAllFull — ни на одном сервере группы нет свободных мест.
var ErrAllFull = errors.New("no free slots in server group")

// Selector выбирает сервер с наибольшим числом свободных мест.
// Занятость каждый раз пересчитывается живым запросом к панели:
// никаких локальных счётчиков нагрузки не ведётся.
type Selector struct {
	Panel *panel.Client
}

func NewSelector(p *panel.Client) *Selector {
	return &Selector{Panel: p}
}

// PickServer выбирает сервер в группе groupName. excludeID исключает
// сервер из рассмотрения (используется при миграции, 0 — без исключений).
func (s *Selector) PickServer(ctx context.Context, groupName string, excludeID uint) (uint, error) {
	servers, err := db.GetGroupServers(groupName)
	if err != nil {
		return 0, ErrGroupNotFound
	}
	return s.PickFrom(ctx, servers, excludeID)
}

// PickFrom выбирает из готового списка кандидатов. Опрос серверов идёт
// параллельно, отказ одного не прерывает оценку остальных (он просто
// выбывает). При равенстве свободных мест побеждает более ранний в
// списке — выбор детерминирован.
func (s *Selector) PickFrom(ctx context.Context, servers []db.Server, excludeID uint) (uint, error) {
	candidates := servers[:0:0]
	for _, srv := range servers {
		if excludeID != 0 && srv.ID == excludeID {
			continue
		}
		candidates = append(candidates, srv)
	}
	if len(candidates) == 0 {
		return 0, ErrGroupNotFound
	}

	free := make([]int, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	for i := range candidates {
		i := i
		srv := candidates[i]
		g.Go(func() error {
			free[i] = s.probe(gctx, &srv)
			return nil
		})
	}
	g.Wait()

	best := -1
	for i, srv := range candidates {
		logger.Info("Оценка сервера",
			zap.Uint("server_id", srv.ID),
			zap.Int("total_slots", srv.TotalSlots),
			zap.Int("free_slots", free[i]))
		if free[i] > 0 && (best == -1 || free[i] > free[best]) {
			best = i
		}
	}
	if best == -1 {
		logger.Warn("В группе нет свободных мест")
		return 0, ErrAllFull
	}
	logger.Info("Выбран оптимальный сервер",
		zap.Uint("server_id", candidates[best].ID),
		zap.Int("free_slots", free[best]))
	return candidates[best].ID, nil
}

// probe возвращает число свободных мест; при любой ошибке сервер
// считается занятым (0 свободных мест).
func (s *Selector) probe(ctx context.Context, srv *db.Server) int {
	if len(srv.InboundIDList()) == 0 {
		return 0 // сервер без inbound не пригоден для размещения
	}
	sess, err := s.Panel.Login(ctx, srv)
	if err != nil {
		logger.Error("Сервер недоступен при выборе", zap.Uint("server_id", srv.ID), zap.Error(err))
		return 0
	}
	count, err := s.Panel.CountActiveClients(ctx, sess, srv)
	if err != nil {
		logger.Error("Не удалось посчитать клиентов", zap.Uint("server_id", srv.ID), zap.Error(err))
		return 0
	}
	freeSlots := srv.TotalSlots - count
	if freeSlots < 0 {
		freeSlots = 0
	}
	return freeSlots
}
