package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"VPN-Manager-bot/config"
	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Проверка HMAC подписи webhook YooKassa (Authorization или Content-Yoomoney-Signature)
func checkYooKassaSignature(secret string, body []byte, authHeader, yoomoneyHeader string) bool {
	var signatures []string
	if authHeader != "" {
		if strings.HasPrefix(authHeader, "HMAC ") || strings.HasPrefix(authHeader, "HMAC-SHA256 ") {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 {
				signatures = append(signatures, parts[1])
			}
		}
	}
	if yoomoneyHeader != "" {
		signatures = append(signatures, yoomoneyHeader)
	}
	if len(signatures) == 0 {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	calc := hex.EncodeToString(h.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(calc)) {
			return true
		}
	}
	return false
}

// FulfillPayment выполняет то, за что заплатили: продление существующего
// клиента или создание нового. Вызывается из webhook и из фонового
// поллера; платёж помечается succeeded только после успеха операции,
// так что повторный вызов по тому же платежу не сработает дважды.
func FulfillPayment(ctx context.Context, bot *tgbotapi.BotAPI, orch *Orchestrator, pay db.Payment) error {
	if pay.Status == "succeeded" {
		return nil
	}
	var user db.User
	if err := db.DB.First(&user, pay.UserID).Error; err != nil {
		return fmt.Errorf("payment %s: user %d not found: %w", pay.ExternalID, pay.UserID, err)
	}
	days := 30
	if pay.Days != nil {
		days = *pay.Days
	}

	if pay.Email != nil && *pay.Email != "" {
		// Продление: статус проверяем заранее, чтобы не продлевать
		// клиента, которого уже нет ни на одной панели.
		status, err := orch.SubscriptionStatus(ctx, *pay.Email)
		if err == nil && !status.CanExtend {
			return errors.New("payment " + pay.ExternalID + ": client not found on any server, nothing to extend")
		}
		result, err := orch.RenewClient(ctx, *pay.Email, days)
		if err != nil {
			return err
		}
		if err := db.MarkPaymentStatus(pay.ExternalID, "succeeded"); err != nil {
			logger.Error("Платёж выполнен, но статус не обновился", zap.String("payment_id", pay.ExternalID), zap.Error(err))
		}
		bot.Send(tgbotapi.NewMessage(user.TelegramID, "✅ Ваша подписка продлена.\n\n"+result))
		return nil
	}

	// Покупка новой подписки.
	group := "random"
	if pay.GroupName != nil && *pay.GroupName != "" {
		group = *pay.GroupName
	}
	email := GenerateEmail(user.TelegramID)
	cfg, err := orch.CreateClient(ctx, user, email, days, group)
	if err != nil {
		if errors.Is(err, ErrAllFull) || errors.Is(err, ErrGroupNotFound) {
			bot.Send(tgbotapi.NewMessage(user.TelegramID,
				"😔 Сейчас нет свободных мест в выбранной локации. Напишите в поддержку, мы всё решим."))
			logger.NotifyAdmin("Оплаченная покупка не выдана: нет мест в группе " + group + ", платёж " + pay.ExternalID)
		}
		return err
	}
	if err := db.MarkPaymentStatus(pay.ExternalID, "succeeded"); err != nil {
		logger.Error("Платёж выполнен, но статус не обновился", zap.String("payment_id", pay.ExternalID), zap.Error(err))
	}
	text := fmt.Sprintf(
		"✅ Оплата подтверждена, подписка активирована!\n\n👤 Ваш логин: %s\n\n🔑 Ключ (нажмите, чтобы скопировать):\n\n<pre><code>%s</code></pre>\n\n🔗 Подписка: %s",
		email, cfg.Vless, cfg.SubURL)
	msg := tgbotapi.NewMessage(user.TelegramID, text)
	msg.ParseMode = "HTML"
	bot.Send(msg)
	return nil
}

// WebhookHandler обрабатывает уведомления от YooKassa.
// onFulfilled вызывается после успешной выдачи, чтобы остановить
// фоновый поллер этого платежа; может быть nil.
func WebhookHandler(bot *tgbotapi.BotAPI, orch *Orchestrator, onFulfilled func(telegramID int64, paymentID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer logger.NotifyOnPanic("WebhookHandler")
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.NotifyAdmin("Ошибка чтения тела webhook: " + err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.Body.Close()
		authHeader := r.Header.Get("Authorization")
		yoomoneyHeader := r.Header.Get("Content-Yoomoney-Signature")
		if !checkYooKassaSignature(config.AppCfg.YooKassaSecret, body, authHeader, yoomoneyHeader) {
			logger.NotifyAdmin("Недействительная подпись webhook")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("invalid signature"))
			return
		}
		var event struct {
			Object struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"object"`
		}
		if err := json.Unmarshal(body, &event); err != nil {
			logger.NotifyAdmin("Ошибка парсинга webhook: " + err.Error())
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if event.Object.Status != "succeeded" {
			w.WriteHeader(http.StatusOK)
			return // обрабатываем только успешные платежи
		}
		pay, err := db.FindPaymentByExternalID(event.Object.ID)
		if err != nil {
			logger.NotifyAdmin("Webhook по неизвестному платежу: " + event.Object.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := FulfillPayment(ctx, bot, orch, pay); err != nil {
			logger.Error("Не удалось выполнить оплаченную операцию",
				zap.String("payment_id", pay.ExternalID), zap.Error(err))
			logger.NotifyAdmin("Ошибка выдачи по платежу " + pay.ExternalID + ": " + err.Error())
		} else if onFulfilled != nil {
			var user db.User
			if err := db.DB.First(&user, pay.UserID).Error; err == nil {
				onFulfilled(user.TelegramID, pay.ExternalID)
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}
