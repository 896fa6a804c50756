package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"VPN-Manager-bot/internal/admin"
	"VPN-Manager-bot/internal/db"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func HandleUpdate(botapi *tgbotapi.BotAPI, update tgbotapi.Update) {
	// Проверяем и добавляем пользователя в БД при любом апдейте
	if update.Message != nil && update.Message.From != nil {
		if _, err := db.GetOrCreateUser(update.Message.From.ID); err != nil {
			log.Printf("Failed to upsert user %d: %v", update.Message.From.ID, err)
		}
	}

	if update.CallbackQuery != nil {
		handleCallback(botapi, update)
		return
	}

	if update.Message == nil {
		return
	}
	userID := update.Message.From.ID
	fields := strings.Fields(update.Message.Text)
	if len(fields) == 0 {
		return
	}
	cmd := fields[0]
	if !admin.IsAdmin(userID) && rateLimiter.IsLimited(userID, cmd) {
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, "Пожалуйста, не так быстро! Подождите пару секунд...")
		msg.ReplyMarkup = GetReplyKeyboard(userID)
		botapi.Send(msg)
		return
	}
	keyboard := GetReplyKeyboard(userID)
	if admin.IsAdmin(userID) && strings.HasPrefix(update.Message.Text, "/admin_") {
		admin.HandleAdminCommand(botapi, &update)
		return
	}
	switch {
	case strings.HasPrefix(update.Message.Text, "/start"):
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, "Добро пожаловать! Для покупки VPN используйте /buy")
		msg.ReplyMarkup = keyboard
		botapi.Send(msg)
	case strings.HasPrefix(update.Message.Text, "/buy"):
		handleBuy(botapi, update, keyboard)
	case strings.HasPrefix(update.Message.Text, "/subscriptions"):
		handleSubscriptions(botapi, update, keyboard)
	case strings.HasPrefix(update.Message.Text, "/getkey"):
		handleGetKey(botapi, update, keyboard)
	case strings.HasPrefix(update.Message.Text, "/support"):
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, "Поддержка: напишите вашему администратору.")
		msg.ReplyMarkup = keyboard
		botapi.Send(msg)
	case strings.HasPrefix(update.Message.Text, "/help"):
		helpText := `Доступные команды:
/buy — Купить VPN
/subscriptions — Мои подписки и продление
/getkey — Повторно получить ключ
/support — Связаться с поддержкой
/help — Показать эту справку

Покупка: /buy → выберите локацию и срок → получите ссылку для оплаты.
Продление: /subscriptions → нажмите «Продлить» → выберите срок → оплатите.
После оплаты бот автоматически выдаст или продлит ваш ключ.`
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, helpText)
		msg.ReplyMarkup = keyboard
		botapi.Send(msg)
	default:
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, "Неизвестная команда. Используйте /help для списка всех возможностей.")
		msg.ReplyMarkup = keyboard
		botapi.Send(msg)
	}
}

func handleCallback(botapi *tgbotapi.BotAPI, update tgbotapi.Update) {
	data := update.CallbackQuery.Data
	chatID := update.CallbackQuery.Message.Chat.ID

	// buy_group_<group> → выбор срока
	if strings.HasPrefix(data, "buy_group_") {
		group := strings.TrimPrefix(data, "buy_group_")
		msg := tgbotapi.NewMessage(chatID, "Выберите срок подписки:")
		msg.ReplyMarkup = tariffKeyboard("buy_days_", group)
		botapi.Send(msg)
		botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Локация выбрана"))
		return
	}
	// buy_days_<days>_<group> → создать платёж на покупку
	if strings.HasPrefix(data, "buy_days_") {
		days, group, ok := parseDaysPayload(strings.TrimPrefix(data, "buy_days_"))
		if !ok {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Ошибка выбора тарифа"))
			return
		}
		user, err := db.GetOrCreateUser(update.CallbackQuery.From.ID)
		if err != nil {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Ошибка: "+err.Error()))
			return
		}
		url, err := CreateSubscriptionPayment(botapi, user, group, days)
		if err != nil {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Ошибка: "+err.Error()))
			return
		}
		botapi.Send(tgbotapi.NewMessage(chatID, "Ссылка на оплату: "+url))
		botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Платёж создан"))
		return
	}
	// renew_<email> → выбор срока продления
	if strings.HasPrefix(data, "renew_") && !strings.HasPrefix(data, "renew_days_") {
		email := strings.TrimPrefix(data, "renew_")
		if !ownsEmail(update.CallbackQuery.From.ID, email) {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Это не ваша подписка"))
			return
		}
		msg := tgbotapi.NewMessage(chatID, "Выберите срок продления:")
		msg.ReplyMarkup = tariffKeyboard("renew_days_", email)
		botapi.Send(msg)
		botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, ""))
		return
	}
	// renew_days_<days>_<email> → создать платёж на продление
	if strings.HasPrefix(data, "renew_days_") {
		days, email, ok := parseDaysPayload(strings.TrimPrefix(data, "renew_days_"))
		if !ok {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Ошибка выбора тарифа продления"))
			return
		}
		if !ownsEmail(update.CallbackQuery.From.ID, email) {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Это не ваша подписка"))
			return
		}
		// Не принимаем деньги за продление клиента, которого нет на панелях
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		status, err := orch.SubscriptionStatus(ctx, email)
		cancel()
		if err == nil && !status.CanExtend {
			botapi.Send(tgbotapi.NewMessage(chatID,
				"😔 Эта подписка не найдена на серверах и не может быть продлена. Напишите в /support."))
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Продление недоступно"))
			return
		}
		user, err := db.GetOrCreateUser(update.CallbackQuery.From.ID)
		if err != nil {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Ошибка: "+err.Error()))
			return
		}
		url, err := CreateRenewalPayment(botapi, user, email, days)
		if err != nil {
			botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Ошибка: "+err.Error()))
			return
		}
		botapi.Send(tgbotapi.NewMessage(chatID, "Ссылка на оплату продления: "+url))
		botapi.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "Платёж на продление создан"))
		return
	}
}

func handleBuy(botapi *tgbotapi.BotAPI, update tgbotapi.Update, keyboard tgbotapi.ReplyKeyboardMarkup) {
	var groups []db.ServerGroup
	db.DB.Find(&groups)
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, g := range groups {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(g.GroupName, "buy_group_"+g.GroupName),
		))
	}
	// «Любая локация» — все сервера сразу
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🎲 Любая локация", "buy_group_random"),
	))
	msg := tgbotapi.NewMessage(update.Message.Chat.ID, "Выберите локацию:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	botapi.Send(msg)
}

func handleSubscriptions(botapi *tgbotapi.BotAPI, update tgbotapi.Update, keyboard tgbotapi.ReplyKeyboardMarkup) {
	user, err := db.GetOrCreateUser(update.Message.From.ID)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	emails, err := db.GetUserEmails(user.ID)
	if err != nil || len(emails) == 0 {
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, "У вас нет активных подписок. Для покупки используйте /buy.")
		msg.ReplyMarkup = keyboard
		botapi.Send(msg)
		return
	}
	var text strings.Builder
	var rows [][]tgbotapi.InlineKeyboardButton
	text.WriteString("Ваши подписки:\n\n")
	for _, e := range emails {
		cfg, err := db.GetUserConfig(e.Email)
		text.WriteString("👤 " + e.Email + "\n")
		switch {
		case err != nil:
			text.WriteString("Статус неизвестен\n\n")
		case cfg.NotFound:
			text.WriteString("❌ Не найдена на серверах, продление недоступно\n\n")
			continue
		case cfg.DaysLeft < 0:
			text.WriteString("⏳ Истекла или не активирована\n\n")
		case cfg.DaysLeft == 0:
			text.WriteString("⚠️ Истекает сегодня!\n\n")
		default:
			text.WriteString(fmt.Sprintf("✅ Осталось дней: %d\n\n", cfg.DaysLeft))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Продлить "+e.Email, "renew_"+e.Email),
		))
	}
	msg := tgbotapi.NewMessage(update.Message.Chat.ID, text.String())
	if len(rows) > 0 {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	}
	botapi.Send(msg)
}

func handleGetKey(botapi *tgbotapi.BotAPI, update tgbotapi.Update, keyboard tgbotapi.ReplyKeyboardMarkup) {
	user, err := db.GetOrCreateUser(update.Message.From.ID)
	if err != nil {
		botapi.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: "+err.Error()))
		return
	}
	emails, err := db.GetUserEmails(user.ID)
	if err != nil || len(emails) == 0 {
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, "У вас нет активных подписок. Для покупки используйте /buy.")
		msg.ReplyMarkup = keyboard
		botapi.Send(msg)
		return
	}
	for _, e := range emails {
		cfg, err := db.GetUserConfig(e.Email)
		if err != nil || cfg.Config == "" {
			continue
		}
		text := fmt.Sprintf("👤 %s\n\n🔑 Ключ (нажмите, чтобы скопировать):\n\n<pre><code>%s</code></pre>", e.Email, cfg.Config)
		msg := tgbotapi.NewMessage(update.Message.Chat.ID, text)
		msg.ParseMode = "HTML"
		botapi.Send(msg)
	}
}

// tariffKeyboard строит кнопки сроков; payload несёт и срок, и хвост
// (группу или email), срок идёт первым, потому что хвост может
// содержать подчёркивания.
func tariffKeyboard(prefix, tail string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, d := range TariffDays {
		label := tariffLabel(d)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, prefix+strconv.Itoa(d)+"_"+tail),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func tariffLabel(days int) string {
	price, ok := TariffPrices[days]
	if !ok {
		return strconv.Itoa(days) + " дн."
	}
	return fmt.Sprintf("%d дн. — %d₽", days, price)
}

func parseDaysPayload(payload string) (days int, tail string, ok bool) {
	parts := strings.SplitN(payload, "_", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	days, err := strconv.Atoi(parts[0])
	if err != nil || days <= 0 {
		return 0, "", false
	}
	return days, parts[1], true
}

func ownsEmail(telegramID int64, email string) bool {
	user, err := db.GetOrCreateUser(telegramID)
	if err != nil {
		return false
	}
	emails, err := db.GetUserEmails(user.ID)
	if err != nil {
		return false
	}
	for _, e := range emails {
		if strings.EqualFold(e.Email, email) {
			return true
		}
	}
	return false
}
