package main

import (
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"VPN-Manager-bot/config"
	"VPN-Manager-bot/internal/admin"
	"VPN-Manager-bot/internal/bot"
	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"
	"VPN-Manager-bot/internal/panel"
	"VPN-Manager-bot/internal/services"
	"VPN-Manager-bot/internal/tasks"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/robfig/cron/v3"
)

func main() {
	config.LoadConfig()
	db.InitDB()
	botapi, err := tgbotapi.NewBotAPI(config.AppCfg.BotToken)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	adminID, err := strconv.ParseInt(config.AppCfg.AdminTelegramID, 10, 64)
	if err != nil {
		log.Fatalf("Invalid ADMIN_TELEGRAM_ID: %v", err)
	}
	admin.InitAdmin(adminID)
	logger.InitNotifier(botapi, adminID)
	// --- Логирование в файл и консоль ---
	logFile, err := os.OpenFile("bot.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("Не удалось открыть файл логов: %v", err)
	}
	mw := io.MultiWriter(os.Stdout, logFile)
	log.SetOutput(mw)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	panelClient := panel.New()
	orch := services.NewOrchestrator(panelClient)
	taskReg := tasks.NewRegistry()
	bot.Init(orch, taskReg)

	// Кэш days_left обновляем сразу при старте: процесс мог лежать
	// несколько дней, и уведомления должны опираться на свежие данные.
	go services.RefreshAllDaysLeft(panelClient)

	c := cron.New()
	// Проверка доступности панелей
	c.AddFunc("@every 1m", services.UpdateAllServerStatuses)
	// Ежедневная сверка подписок с панелями и уведомления об истечении
	c.AddFunc("37 4 * * *", func() {
		services.RefreshAllDaysLeft(panelClient)
		services.CheckAllSubscriptions(botapi)
	})
	// Еженедельная чистка клиентов с исчерпанным трафиком на панелях
	c.AddFunc("15 5 * * 1", func() {
		services.CleanupDepletedClients(panelClient)
	})
	// Автоматический бэкап БД раз в сутки
	c.AddFunc("0 3 * * *", func() {
		admin.AutoBackupDatabase(config.AppCfg.DatabaseURL)
	})
	c.Start()

	// Запуск webhook-сервера для YooKassa (VPS)
	go func() {
		http.HandleFunc("/yookassa/webhook", services.WebhookHandler(botapi, orch,
			func(telegramID int64, paymentID string) {
				bot.CancelPaymentPoll(telegramID, paymentID)
			}))
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		log.Println("Запуск webhook-сервера на :8080 (VPS)")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			log.Fatalf("Webhook server error: %v", err)
		}
	}()

	// Запуск Telegram-бота (polling)
	bot.StartBotWithInstance(botapi)
}
