package admin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"
	"VPN-Manager-bot/internal/panel"
	"VPN-Manager-bot/internal/services"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var AdminTelegramID int64

func InitAdmin(id int64) {
	AdminTelegramID = id
}

func IsAdmin(userID int64) bool {
	return userID == AdminTelegramID
}

func HandleAdminCommand(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	if update.Message == nil || update.Message.From.ID != AdminTelegramID {
		return
	}
	cmd := update.Message.Command()
	switch cmd {
	case "admin_stats":
		handleStats(bot, update)
	case "admin_servers":
		handleServers(bot, update)
	case "admin_groups":
		handleGroups(bot, update)
	case "admin_addserver":
		handleAddServer(bot, update)
	case "admin_setgroup":
		handleSetGroup(bot, update)
	case "admin_migrate":
		handleMigrate(bot, update)
	case "admin_payments":
		handlePayments(bot, update)
	case "admin_backup":
		handleBackup(bot, update)
	case "admin_restore":
		handleRestore(bot, update)
	}
	logger.LogAdminAction(AdminTelegramID, cmd, update.Message.Text)
}

func handleStats(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	users := db.CountUsers()
	activeSubs := db.CountActiveSubscriptions()
	todayPayments := db.SumPayments(time.Now().Truncate(24*time.Hour), time.Now())
	monthPayments := db.SumPayments(time.Now().AddDate(0, 0, -30), time.Now())
	msg := fmt.Sprintf(
		"Пользователей: %d\nАктивных подписок: %d\nПлатежи: сегодня: %.2f₽, месяц: %.2f₽",
		users, activeSubs, todayPayments, monthPayments)
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

func handleServers(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	statuses := services.GetServerStatuses()
	msg := "Статус серверов:\n"
	for _, s := range statuses {
		msg += fmt.Sprintf("%s (%s): %s, последний пинг: %s\n",
			s.Name, s.IP, s.Status, s.LastChecked.Format("02.01 15:04"))
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
}

func handleGroups(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	var groups []db.ServerGroup
	if err := db.DB.Find(&groups).Error; err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка чтения групп: "+err.Error()))
		return
	}
	var sb strings.Builder
	sb.WriteString("Группы серверов:\n")
	for _, g := range groups {
		sb.WriteString(fmt.Sprintf("%s: [%s]\n", g.GroupName, g.ServerIDs))
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, sb.String()))
}

// handleAddServer регистрирует панель:
// /admin_addserver <name> <slots> <ip> <base_url> <sub_base> <username> <password> <inbound_ids>
func handleAddServer(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 8 {
		msg := "Использование: /admin_addserver <name> <slots> <ip> <base_url> <sub_base> <username> <password> <inbound_ids(1,2)>"
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, msg))
		return
	}
	slots, err := strconv.Atoi(args[1])
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка: slots должно быть целым числом"))
		return
	}
	server := db.Server{
		Name:             args[0],
		TotalSlots:       slots,
		ServerIP:         args[2],
		BaseURL:          args[3],
		SubscriptionBase: args[4],
		Username:         args[5],
		Password:         args[6],
		InboundIDs:       args[7],
		SubURL:           "/sub/",
		JSONSub:          "/json/",
	}
	if err := db.DB.Create(&server).Error; err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка добавления сервера: "+err.Error()))
		return
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
		fmt.Sprintf("Сервер добавлен: %s (id=%d)", server.Name, server.ID)))
}

// handleSetGroup создаёт или перезаписывает группу:
// /admin_setgroup <group_name> <server_ids(1,2,3)>
func handleSetGroup(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 2 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_setgroup <group_name> <server_ids(1,2,3)>"))
		return
	}
	for _, id := range db.ParseIDList(args[1]) {
		if _, err := db.GetServer(id); err != nil {
			bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID,
				fmt.Sprintf("Сервер %d не существует, группа не сохранена", id)))
			return
		}
	}
	group := db.ServerGroup{GroupName: args[0], ServerIDs: args[1]}
	if err := db.DB.Save(&group).Error; err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка сохранения группы: "+err.Error()))
		return
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Группа сохранена: "+args[0]))
}

// handleMigrate переносит клиента на другой сервер группы:
// /admin_migrate <email> <to_group>
// Текущий сервер берётся из привязки и исключается из кандидатов.
func handleMigrate(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 2 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Использование: /admin_migrate <email> <to_group>"))
		return
	}
	email, toGroup := args[0], args[1]
	fromID, err := db.GetMappingServer(email)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Email не найден в привязках: "+email))
		return
	}
	chatID := update.Message.Chat.ID
	go func() {
		defer logger.NotifyOnPanic("admin_migrate " + email)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		orch := services.NewOrchestrator(panel.New())
		newID, err := orch.MigrateClient(ctx, email, fromID, toGroup)
		if err != nil {
			bot.Send(tgbotapi.NewMessage(chatID,
				fmt.Sprintf("Миграция %s не удалась: %v", email, err)))
			return
		}
		bot.Send(tgbotapi.NewMessage(chatID,
			fmt.Sprintf("Клиент %s перенесён: сервер %d → %d", email, fromID, newID)))
	}()
}

func handlePayments(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	// Пример: /admin_payments 2024-01-01 2024-01-31
	args := strings.Fields(update.Message.CommandArguments())
	var from, to time.Time
	var err error
	if len(args) == 2 {
		from, err = time.Parse("2006-01-02", args[0])
		if err != nil {
			bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Неверный формат даты (from)"))
			return
		}
		to, err = time.Parse("2006-01-02", args[1])
		if err != nil {
			bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Неверный формат даты (to)"))
			return
		}
	} else {
		from = time.Now().AddDate(0, 0, -30)
		to = time.Now()
	}
	var payments []db.Payment
	db.DB.Where("created_at >= ? AND created_at <= ?", from.Unix(), to.Unix()).Find(&payments)
	var sb strings.Builder
	for _, p := range payments {
		sb.WriteString(fmt.Sprintf("ID: %d, User: %v, Amount: %d, Status: %s\n", p.ID, p.UserID, p.Amount, p.Status))
	}
	if sb.Len() == 0 {
		sb.WriteString("Платежей за период нет")
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, sb.String()))
}

func handleBackup(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	backupDir := "backups"
	os.MkdirAll(backupDir, 0o755)
	filename := filepath.Join(backupDir, "backup_"+time.Now().Format("20060102_150405")+".dump")
	dsn := os.Getenv("DATABASE_URL")
	err := BackupDatabase(filename, dsn)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка резервного копирования: "+err.Error()))
		return
	}
	file := tgbotapi.NewDocument(update.Message.Chat.ID, tgbotapi.FilePath(filename))
	file.Caption = "Резервная копия БД успешно создана"
	bot.Send(file)
	_ = os.Remove(filename)
}

func handleRestore(bot *tgbotapi.BotAPI, update *tgbotapi.Update) {
	backupDir := "backups"
	args := strings.Fields(update.Message.CommandArguments())
	if len(args) < 1 {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Укажите имя файла для восстановления"))
		return
	}
	filename := filepath.Join(backupDir, args[0])
	dsn := os.Getenv("DATABASE_URL")
	err := RestoreDatabase(filename, dsn)
	if err != nil {
		bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Ошибка восстановления: "+err.Error()))
		return
	}
	bot.Send(tgbotapi.NewMessage(update.Message.Chat.ID, "Восстановление успешно завершено из файла: "+args[0]))
}
