package services

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"
	"VPN-Manager-bot/internal/panel"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// daysLeftFromExpiry переводит expiryTime панели в days_left.
// expiry <= 0 — подписка безлимитная или ещё не активирована, сентинел -1.
func daysLeftFromExpiry(expiryMs int64, now time.Time) int {
	if expiryMs <= 0 {
		return -1
	}
	return int(math.Floor(float64(expiryMs-now.UnixMilli()) / float64(msPerDay)))
}

// RefreshAllDaysLeft — sweep синхронизации кэша: для каждого известного
// email заново выводит days_left из expiryTime на панели. Запускается
// раз в сутки и один раз при старте процесса. Не транзакционен: упавший
// на середине sweep доделает следующий запуск, источник истины — панель.
func RefreshAllDaysLeft(p *panel.Client) {
	defer logger.NotifyOnPanic("RefreshAllDaysLeft")
	start := time.Now()
	tracked, err := db.GetTrackedEmails()
	if err != nil {
		logger.Error("Sweep: не удалось загрузить список email", zap.Error(err))
		return
	}
	if len(tracked) == 0 {
		logger.Info("Sweep: нет отслеживаемых подписок")
		return
	}
	servers, err := db.GetAllServers()
	if err != nil {
		logger.Error("Sweep: не удалось загрузить сервера", zap.Error(err))
		return
	}

	seen := sweepDaysLeft(context.Background(), p, servers, tracked, time.Now(),
		func(email string, daysLeft int) {
			if err := db.UpsertDaysLeft(email, daysLeft); err != nil {
				logger.Error("Sweep: не удалось обновить days_left",
					zap.String("email", email), zap.Error(err))
			}
		})

	missing := missingEmails(tracked, seen)
	for _, email := range missing {
		if err := db.MarkConfigNotFound(email, true); err != nil {
			logger.Error("Sweep: не удалось пометить пропавший email",
				zap.String("email", email), zap.Error(err))
		}
	}
	logger.Info("Sweep days_left завершён",
		zap.Int("tracked", len(tracked)),
		zap.Int("updated", len(seen)),
		zap.Int("missing", len(missing)),
		zap.Duration("took", time.Since(start)))
}

// sweepDaysLeft обходит все панели параллельно и для каждого
// отслеживаемого email вызывает upsert со свежим days_left. Возвращает
// множество найденных email. Отказ одного сервера не прерывает sweep
// по остальным. upsert может вызываться из нескольких горутин.
func sweepDaysLeft(ctx context.Context, p *panel.Client, servers []db.Server, tracked map[string]struct{}, now time.Time, upsert func(email string, daysLeft int)) map[string]struct{} {
	var mu sync.Mutex
	seen := make(map[string]struct{}, len(tracked))
	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv := servers[i]
		g.Go(func() error {
			sess, err := p.Login(gctx, &srv)
			if err != nil {
				logger.Error("Sweep: сервер недоступен", zap.Uint("server_id", srv.ID), zap.Error(err))
				return nil
			}
			p.ForEachClient(gctx, sess, &srv, func(inboundID int, in *panel.Inbound, cred panel.ClientCredential) {
				email := strings.ToLower(cred.Email)
				if _, ok := tracked[email]; !ok {
					if _, ok := tracked[cred.Email]; !ok {
						return
					}
					email = cred.Email
				}
				daysLeft := daysLeftFromExpiry(cred.ExpiryTime, now)
				mu.Lock()
				seen[email] = struct{}{}
				mu.Unlock()
				upsert(email, daysLeft)
			})
			return nil
		})
	}
	g.Wait()
	return seen
}

// missingEmails возвращает отслеживаемые email, которых sweep не нашёл
// ни на одной панели. Это не "истёк", а "нечего продлевать": такие
// записи помечаются not_found, а не остаются со старым days_left.
func missingEmails(tracked, seen map[string]struct{}) []string {
	var missing []string
	for email := range tracked {
		if _, ok := seen[email]; !ok {
			missing = append(missing, email)
		}
	}
	return missing
}

// CleanupDepletedClients просит каждую панель удалить клиентов с
// исчерпанным трафиком. Хозяйственная операция, на days_left не влияет.
func CleanupDepletedClients(p *panel.Client) {
	defer logger.NotifyOnPanic("CleanupDepletedClients")
	servers, err := db.GetAllServers()
	if err != nil {
		logger.Error("Cleanup: не удалось загрузить сервера", zap.Error(err))
		return
	}
	ctx := context.Background()
	for i := range servers {
		srv := servers[i]
		sess, err := p.Login(ctx, &srv)
		if err != nil {
			logger.Error("Cleanup: сервер недоступен", zap.Uint("server_id", srv.ID), zap.Error(err))
			continue
		}
		if err := p.DeleteDepletedClients(ctx, sess, &srv); err != nil {
			logger.Error("Cleanup: очистка не прошла", zap.Uint("server_id", srv.ID), zap.Error(err))
		}
	}
}

// NotificationEvent — вид жизненного уведомления по days_left.
type NotificationEvent string

const (
	EventExpiresIn3  NotificationEvent = "expires_in_3"
	EventExpiresIn2  NotificationEvent = "expires_in_2"
	EventExpiresIn1  NotificationEvent = "expires_in_1"
	EventExpiredNow  NotificationEvent = "expired_today"
	EventWinBack3    NotificationEvent = "winback_3"
	EventWinBack7    NotificationEvent = "winback_7"
	winBack3Flag                       = "notified_after_3_days"
	winBack7Flag                       = "notified_after_7_days"
)

// NotificationFor решает, какое уведомление положено при данном days_left.
// Пороги 3/2/1/0 не защищены флагами и могут повторяться, если кэш не
// изменился между sweep-ами; win-back (-3/-7) отправляются строго один
// раз за цикл подписки благодаря персистентным флагам.
func NotificationFor(daysLeft int, notified3, notified7 bool) (NotificationEvent, bool) {
	switch daysLeft {
	case 3:
		return EventExpiresIn3, true
	case 2:
		return EventExpiresIn2, true
	case 1:
		return EventExpiresIn1, true
	case 0:
		return EventExpiredNow, true
	case -3:
		if !notified3 {
			return EventWinBack3, true
		}
	case -7:
		if !notified7 {
			return EventWinBack7, true
		}
	}
	return "", false
}

// notificationText — тексты уведомлений по событию.
func notificationText(event NotificationEvent, email string, daysLeft int) string {
	switch event {
	case EventExpiresIn3, EventExpiresIn2, EventExpiresIn1:
		return "⏳ До окончания вашей подписки " + email + " осталось " + daysWord(daysLeft) + ".\n\nЧтобы не остаться без доступа — продлите подписку заранее: /subscriptions"
	case EventExpiredNow:
		return "Ваша подписка " + email + " закончилась. Продлить можно в боте: /subscriptions"
	case EventWinBack3:
		return "Мы скучаем! 🫂 Подписка " + email + " неактивна уже 3 дня. Возьмите 3 дня бесплатно — попробуйте снова!"
	case EventWinBack7:
		return "Финальный шанс! 🔥 Подписка " + email + " неактивна неделю. Вернитесь — дарим 3 дня бесплатно."
	}
	return ""
}

func daysWord(days int) string {
	switch days {
	case 1:
		return "1 день"
	case 2:
		return "2 дня"
	default:
		return "3 дня"
	}
}

// CheckAllSubscriptions — второй проход sweep-а: сравнивает текущий
// days_left каждого пользователя с порогами и рассылает уведомления.
// Ошибка отправки логируется, повторов нет.
func CheckAllSubscriptions(bot *tgbotapi.BotAPI) {
	defer logger.NotifyOnPanic("CheckAllSubscriptions")
	rows, err := db.GetSubscriptionRows()
	if err != nil {
		logger.Error("Не удалось загрузить подписки для уведомлений", zap.Error(err))
		return
	}
	sent := 0
	for _, row := range rows {
		if row.NotFound {
			// Клиента нет ни на одной панели — продлевать нечего,
			// уведомления о сроках не имеют смысла.
			continue
		}
		event, ok := NotificationFor(row.DaysLeft, row.NotifiedAfter3Days, row.NotifiedAfter7Days)
		if !ok {
			continue
		}
		msg := tgbotapi.NewMessage(row.TelegramID, notificationText(event, row.Email, row.DaysLeft))
		if _, err := bot.Send(msg); err != nil {
			logger.Error("Не удалось отправить уведомление",
				zap.Int64("telegram_id", row.TelegramID), zap.Error(err))
			continue
		}
		sent++
		// Флаг ставим только после фактической отправки.
		switch event {
		case EventWinBack3:
			if err := db.SetNotifiedFlag(row.UserID, winBack3Flag); err != nil {
				logger.Error("Не удалось выставить флаг win-back", zap.Uint("user_id", row.UserID), zap.Error(err))
			}
		case EventWinBack7:
			if err := db.SetNotifiedFlag(row.UserID, winBack7Flag); err != nil {
				logger.Error("Не удалось выставить флаг win-back", zap.Uint("user_id", row.UserID), zap.Error(err))
			}
		}
	}
	logger.Info("Проход уведомлений завершён", zap.Int("checked", len(rows)), zap.Int("sent", sent))
}
