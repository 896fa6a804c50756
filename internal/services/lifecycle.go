package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"VPN-Manager-bot/config"
	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"
	"VPN-Manager-bot/internal/panel"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const msPerDay = 24 * 60 * 60 * 1000

// Orchestrator — фасад жизненного цикла клиента: создание, продление,
// перенос между серверами и чтение статуса. Все мутации панели идут
// через него; локальное состояние пишется только после успеха на панели.
type Orchestrator struct {
	Panel    *panel.Client
	Selector *Selector
}

func NewOrchestrator(p *panel.Client) *Orchestrator {
	return &Orchestrator{Panel: p, Selector: NewSelector(p)}
}

// GenerateEmail собирает логин клиента: префикс, последние 4 цифры
// telegram id и 3 случайные цифры. Уникальность не форсируется схемой,
// вероятность коллизии принимается как пренебрежимая.
func GenerateEmail(telegramID int64) string {
	idStr := strconv.FormatInt(telegramID, 10)
	if len(idStr) > 4 {
		idStr = idStr[len(idStr)-4:]
	}
	return fmt.Sprintf("%s-%s%03d", config.AppCfg.LoginPrefix, idStr, rand.Intn(1000))
}

// computeNewExpiry — правило продления: к ещё действующей подписке дни
// прибавляются к её сроку, к истёкшей — к текущему моменту.
func computeNewExpiry(currentMs, nowMs int64, days int) int64 {
	base := currentMs
	if base < nowMs {
		base = nowMs
	}
	return base + int64(days)*msPerDay
}

// CreateClient создаёт клиента на оптимальном сервере группы и сохраняет
// привязку локально. Идемпотентности нет: повторный вызов создаст второго
// клиента, защита от двойной отправки — на стороне платёжного шлюза.
func (o *Orchestrator) CreateClient(ctx context.Context, user db.User, email string, days int, groupName string) (*ClientConfig, error) {
	serverID, err := o.Selector.PickServer(ctx, groupName, 0)
	if err != nil {
		return nil, err
	}
	srv, err := db.GetServer(serverID)
	if err != nil {
		return nil, err
	}
	cfg, cred, inboundID, err := o.provision(ctx, &srv, email, user.TelegramID, time.Now().UnixMilli()+int64(days)*msPerDay)
	if err != nil {
		return nil, err
	}
	if err := db.SaveClientMapping(user.ID, email, srv.ID, cfg.Vless, days); err != nil {
		// Клиент на панели уже есть; ближайший sweep сверит кэш заново.
		logger.Error("Клиент создан, но привязка не сохранилась", zap.String("email", email), zap.Error(err))
		return nil, err
	}
	if err := db.ResetWinBackFlags(user.ID); err != nil {
		logger.Error("Не удалось сбросить win-back флаги", zap.Uint("user_id", user.ID), zap.Error(err))
	}
	logger.Info("Клиент создан",
		zap.String("email", email), zap.Uint("server_id", srv.ID),
		zap.Int("inbound_id", inboundID), zap.String("client_id", cred.ID))
	return cfg, nil
}

// provision добавляет клиента на сервер: случайный inbound из доступных
// (нагрузка балансируется между серверами, не между inbound одного
// сервера), свежий логин, рендер конфига из streamSettings.
func (o *Orchestrator) provision(ctx context.Context, srv *db.Server, email string, telegramID int64, expiryMs int64) (*ClientConfig, *panel.ClientCredential, int, error) {
	inboundIDs := srv.InboundIDList()
	if len(inboundIDs) == 0 {
		return nil, nil, 0, fmt.Errorf("server %d has no inbounds", srv.ID)
	}
	sess, err := o.Panel.Login(ctx, srv)
	if err != nil {
		return nil, nil, 0, err
	}
	inboundID := inboundIDs[rand.Intn(len(inboundIDs))]
	in, err := o.Panel.GetInbound(ctx, sess, srv, inboundID)
	if err != nil {
		return nil, nil, 0, err
	}
	cred := panel.ClientCredential{
		ID:         uuid.NewString(),
		Email:      email,
		Flow:       "xtls-rprx-vision",
		LimitIP:    3,
		ExpiryTime: expiryMs,
		Enable:     true,
		TgID:       telegramID,
		SubID:      fmt.Sprintf("%s-%s", config.AppCfg.LoginPrefix, uuid.NewString()[:8]),
	}
	if err := o.Panel.AddClient(ctx, sess, srv, inboundID, cred); err != nil {
		return nil, nil, 0, err
	}
	cfg, err := BuildClientConfig(srv, in, &cred)
	if err != nil {
		// Клиент добавлен, но ссылку собрать не вышло: отдаём ошибку,
		// конфиг восстановится при следующем чтении статуса.
		return nil, nil, 0, err
	}
	return cfg, &cred, inboundID, nil
}

// RenewClient продлевает подписку на всех серверах, где найден email.
// Локальная привязка к серверу — только подсказка: после миграций она
// может отставать, поэтому обходим все известные сервера.
func (o *Orchestrator) RenewClient(ctx context.Context, email string, days int) (string, error) {
	servers, err := db.GetAllServers()
	if err != nil {
		return "", err
	}
	messages, applied := o.renewOn(ctx, servers, email, days)
	if applied == 0 {
		return "", fmt.Errorf("renew failed for %s on every server", email)
	}
	if err := db.AddDaysLeft(email, days); err != nil {
		logger.Error("Не удалось обновить кэш days_left", zap.String("email", email), zap.Error(err))
	}
	if userID, err := userIDByEmail(email); err == nil {
		if err := db.ResetWinBackFlags(userID); err != nil {
			logger.Error("Не удалось сбросить win-back флаги", zap.Uint("user_id", userID), zap.Error(err))
		}
	}
	result := ""
	for i, m := range messages {
		if i > 0 {
			result += "\n"
		}
		result += m
	}
	return result, nil
}

// renewOn выполняет продление на каждом сервере из списка.
// Возвращает человекочитаемые сообщения по серверам и число успешных
// обновлений; операция в целом успешна, если успешен хотя бы один сервер.
func (o *Orchestrator) renewOn(ctx context.Context, servers []db.Server, email string, days int) ([]string, int) {
	var messages []string
	applied := 0
	nowMs := time.Now().UnixMilli()
	for i := range servers {
		srv := servers[i]
		sess, err := o.Panel.Login(ctx, &srv)
		if err != nil {
			logger.Error("Сервер пропущен при продлении", zap.Uint("server_id", srv.ID), zap.Error(err))
			continue
		}
		for _, inboundID := range srv.InboundIDList() {
			in, err := o.Panel.GetInbound(ctx, sess, &srv, inboundID)
			if err != nil {
				continue
			}
			cred, ok := panel.FindClient(in, email)
			if !ok {
				continue
			}
			// Полная замена объекта: берём прочитанную запись и меняем
			// только срок, иначе панель потеряет limitIp/subId/flow.
			updated := *cred
			updated.ExpiryTime = computeNewExpiry(cred.ExpiryTime, nowMs, days)
			if err := o.Panel.UpdateClient(ctx, sess, &srv, inboundID, updated); err != nil {
				logger.Error("Ошибка продления на сервере",
					zap.Uint("server_id", srv.ID), zap.String("email", email), zap.Error(err))
				messages = append(messages, fmt.Sprintf("❌ Сервер %s: ошибка продления", srv.Name))
				continue
			}
			applied++
			until := time.UnixMilli(updated.ExpiryTime).Format("02.01.2006 15:04")
			messages = append(messages, fmt.Sprintf("✅ Сервер %s: подписка продлена до %s", srv.Name, until))
			logger.Info("Подписка продлена",
				zap.String("email", email), zap.Uint("server_id", srv.ID),
				zap.Int64("new_expiry", updated.ExpiryTime))
		}
	}
	return messages, applied
}

// locateClient находит клиента на конкретном сервере.
func (o *Orchestrator) locateClient(ctx context.Context, srv *db.Server, email string) (*panel.ClientCredential, int, error) {
	sess, err := o.Panel.Login(ctx, srv)
	if err != nil {
		return nil, 0, err
	}
	for _, inboundID := range srv.InboundIDList() {
		in, err := o.Panel.GetInbound(ctx, sess, srv, inboundID)
		if err != nil {
			continue
		}
		if cred, ok := panel.FindClient(in, email); ok {
			return cred, inboundID, nil
		}
	}
	return nil, 0, panel.ErrNotFound
}

// MigrateClient переносит клиента на сервер из toGroup, исключая текущий.
// Порядок строго add-then-delete: если добавление на новый сервер
// провалилось, старый клиент не трогаем — пользователь не теряет доступ.
func (o *Orchestrator) MigrateClient(ctx context.Context, email string, fromServerID uint, toGroup string) (uint, error) {
	fromSrv, err := db.GetServer(fromServerID)
	if err != nil {
		return 0, err
	}
	newServerID, err := o.Selector.PickServer(ctx, toGroup, fromServerID)
	if err != nil {
		return 0, err
	}
	toSrv, err := db.GetServer(newServerID)
	if err != nil {
		return 0, err
	}
	moved, err := o.migrateBetween(ctx, &fromSrv, &toSrv, email)
	if err != nil {
		return 0, err
	}
	if err := db.UpdateMappingServer(email, toSrv.ID); err != nil {
		logger.Error("Миграция прошла, но привязка не обновилась", zap.String("email", email), zap.Error(err))
	}
	if err := db.UpsertDaysLeft(email, daysLeftFromExpiry(moved.ExpiryMs, time.Now())); err != nil {
		logger.Error("Миграция: кэш days_left не обновился", zap.String("email", email), zap.Error(err))
	}
	if moved.Config != nil {
		if err := db.DB.Model(&db.UserConfig{}).Where("email = ?", email).Update("config", moved.Config.Vless).Error; err != nil {
			logger.Error("Миграция: кэш конфига не обновился", zap.String("email", email), zap.Error(err))
		}
	}
	return toSrv.ID, nil
}

// migratedClient — результат переноса: новый конфиг и срок.
type migratedClient struct {
	Config   *ClientConfig
	ExpiryMs int64
}

// migrateBetween переносит клиента с from на to, сохраняя email и
// прежний expiryTime. Сначала добавление на новом сервере, удаление на
// старом — только после успеха; неудачное удаление логируется, но
// миграцию не отменяет (лишняя запись безопаснее потерянного доступа).
func (o *Orchestrator) migrateBetween(ctx context.Context, from, to *db.Server, email string) (*migratedClient, error) {
	cred, oldInboundID, err := o.locateClient(ctx, from, email)
	if err != nil {
		return nil, err
	}
	tgID := int64(0)
	switch v := cred.TgID.(type) {
	case float64:
		tgID = int64(v)
	case string:
		tgID, _ = strconv.ParseInt(v, 10, 64)
	}
	cfg, _, _, err := o.provision(ctx, to, email, tgID, cred.ExpiryTime)
	if err != nil {
		return nil, fmt.Errorf("migration add on server %d failed: %w", to.ID, err)
	}
	sess, err := o.Panel.Login(ctx, from)
	if err == nil {
		err = o.Panel.DeleteClient(ctx, sess, from, oldInboundID, cred.ID)
	}
	if err != nil {
		logger.Error("Старый клиент не удалён после миграции",
			zap.String("email", email), zap.Uint("server_id", from.ID), zap.Error(err))
		logger.NotifyAdmin(fmt.Sprintf("Миграция %s: клиент остался на сервере %d, нужно удалить вручную", email, from.ID))
	}
	return &migratedClient{Config: cfg, ExpiryMs: cred.ExpiryTime}, nil
}

func userIDByEmail(email string) (uint, error) {
	var row db.UserEmail
	if err := db.DB.Where("email = ?", email).First(&row).Error; err != nil {
		return 0, err
	}
	return row.UserID, nil
}

// Возможные состояния подписки.
const (
	StatusActive        = "active"
	StatusExpiringToday = "expiring-today"
	StatusExpired       = "expired"
	StatusNotActivated  = "not-yet-activated"
	StatusNotFound      = "not-found-on-server"
)

// SubStatus — результат чтения статуса подписки с панели.
// CanExtend=false при StatusNotFound: продлевать нечего, и кнопка
// продления в этом случае не показывается.
type SubStatus struct {
	State     string
	DaysLeft  int
	Config    string
	CanExtend bool
}

// SubscriptionStatus заново читает состояние клиента с панелей.
// Сервер из локальной привязки проверяется первым (fast path), при
// промахе — полный обход всех серверов.
func (o *Orchestrator) SubscriptionStatus(ctx context.Context, email string) (*SubStatus, error) {
	servers, err := db.GetAllServers()
	if err != nil {
		return nil, err
	}
	if hintID, err := db.GetMappingServer(email); err == nil {
		for i := range servers {
			if servers[i].ID == hintID && i != 0 {
				servers[0], servers[i] = servers[i], servers[0]
				break
			}
		}
	}
	status := o.statusOn(ctx, servers, email)
	if cfg, err := db.GetUserConfig(email); err == nil && cfg.Config != "" {
		status.Config = cfg.Config
	}
	return status, nil
}

// statusOn ищет клиента на серверах по порядку и классифицирует статус.
func (o *Orchestrator) statusOn(ctx context.Context, servers []db.Server, email string) *SubStatus {
	for i := range servers {
		cred, _, err := o.locateClient(ctx, &servers[i], email)
		if err != nil {
			if !errors.Is(err, panel.ErrNotFound) {
				logger.Error("Сервер недоступен при чтении статуса",
					zap.Uint("server_id", servers[i].ID), zap.Error(err))
			}
			continue
		}
		daysLeft := daysLeftFromExpiry(cred.ExpiryTime, time.Now())
		state := StatusActive
		switch {
		case cred.ExpiryTime <= 0:
			state = StatusNotActivated
		case daysLeft < 0:
			state = StatusExpired
		case daysLeft == 0:
			state = StatusExpiringToday
		}
		return &SubStatus{State: state, DaysLeft: daysLeft, CanExtend: true}
	}
	// Не найден нигде: отличаем от "истёк" — продлевать нечего.
	return &SubStatus{State: StatusNotFound, DaysLeft: 0, CanExtend: false}
}
