package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"VPN-Manager-bot/config"
	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"
	"VPN-Manager-bot/internal/services"
	"VPN-Manager-bot/internal/tasks"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Тарифная сетка: срок в днях → цена в рублях.
var TariffDays = []int{30, 90, 180, 365}

var TariffPrices = map[int]int{
	30:  150,
	90:  400,
	180: 750,
	365: 1400,
}

// CreateSubscriptionPayment создаёт платёж на покупку новой подписки
// в выбранной группе серверов и возвращает ссылку на оплату.
// Сервер и логин выбираются только после подтверждения оплаты.
func CreateSubscriptionPayment(botapi *tgbotapi.BotAPI, user db.User, groupName string, days int) (paymentURL string, err error) {
	price, ok := TariffPrices[days]
	if !ok {
		return "", errors.New("некорректный срок подписки")
	}
	desc := fmt.Sprintf("VPN подписка на %d дн.", days)
	paymentID, url, err := services.CreateYooKassaPayment(user.ID, price, desc,
		config.AppCfg.YooKassaShopID, config.AppCfg.YooKassaSecret)
	if err != nil {
		return "", err
	}
	pay := db.Payment{
		UserID:     user.ID,
		ExternalID: paymentID,
		Amount:     price,
		Days:       &days,
		GroupName:  &groupName,
	}
	if err := db.CreatePayment(&pay); err != nil {
		return "", err
	}
	StartPaymentPoll(botapi, user, paymentID)
	return url, nil
}

// CreateRenewalPayment создаёт платёж на продление существующего клиента.
func CreateRenewalPayment(botapi *tgbotapi.BotAPI, user db.User, email string, days int) (paymentURL string, err error) {
	price, ok := TariffPrices[days]
	if !ok {
		return "", errors.New("некорректный срок продления")
	}
	desc := fmt.Sprintf("Продление VPN (%s) на %d дн.", email, days)
	paymentID, url, err := services.CreateYooKassaPayment(user.ID, price, desc,
		config.AppCfg.YooKassaShopID, config.AppCfg.YooKassaSecret)
	if err != nil {
		return "", err
	}
	pay := db.Payment{
		UserID:     user.ID,
		ExternalID: paymentID,
		Amount:     price,
		Email:      &email,
		Days:       &days,
	}
	if err := db.CreatePayment(&pay); err != nil {
		return "", err
	}
	StartPaymentPoll(botapi, user, paymentID)
	return url, nil
}

// StartPaymentPoll запускает фоновую проверку статуса платежа — резерв на
// случай, если webhook не дойдёт. Повторный запуск по тому же платежу
// замещает предыдущий.
func StartPaymentPoll(botapi *tgbotapi.BotAPI, user db.User, paymentID string) {
	key := tasks.Key{UserID: user.TelegramID, PaymentID: paymentID}
	ctx, done := taskReg.Start(context.Background(), key)
	go func() {
		defer done()
		defer logger.NotifyOnPanic("PaymentPoll " + key.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(config.AppCfg.FirstCheckDelay) * time.Second):
		}
		for attempt := 1; attempt <= config.AppCfg.MaxCheckAttempts; attempt++ {
			status, err := services.CheckYooKassaPayment(paymentID,
				config.AppCfg.YooKassaShopID, config.AppCfg.YooKassaSecret)
			if err != nil {
				logger.Warn("Не удалось проверить статус платежа",
					zap.String("payment_id", paymentID), zap.Error(err))
			}
			switch status {
			case "succeeded":
				pay, err := db.FindPaymentByExternalID(paymentID)
				if err != nil {
					logger.Error("Оплаченный платёж не найден в БД", zap.String("payment_id", paymentID))
					return
				}
				opCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				err = services.FulfillPayment(opCtx, botapi, orch, pay)
				cancel()
				if err != nil {
					logger.Error("Не удалось выполнить оплаченную операцию",
						zap.String("payment_id", paymentID), zap.Error(err))
					logger.NotifyAdmin("Ошибка выдачи по платежу " + paymentID + ": " + err.Error())
				}
				return
			case "canceled":
				db.MarkPaymentStatus(paymentID, "canceled")
				botapi.Send(tgbotapi.NewMessage(user.TelegramID, "Платёж отменён. Попробуйте ещё раз: /buy"))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(config.AppCfg.CheckInterval) * time.Second):
			}
		}
		db.MarkPaymentStatus(paymentID, "expired")
		logger.Info("Платёж не оплачен за отведённое время",
			zap.String("payment_id", paymentID), zap.Int64("user", user.TelegramID))
	}()
}

// CancelPaymentPoll останавливает проверку платежа (например, после
// обработки webhook). Возвращает false, если задачи уже нет.
func CancelPaymentPoll(telegramID int64, paymentID string) bool {
	return taskReg.Cancel(tasks.Key{UserID: telegramID, PaymentID: paymentID})
}
