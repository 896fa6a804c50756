package bot

import (
	"log"

	"VPN-Manager-bot/config"
	"VPN-Manager-bot/internal/services"
	"VPN-Manager-bot/internal/tasks"

	"github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	orch        *services.Orchestrator
	taskReg     *tasks.Registry
	rateLimiter = NewRateLimiter()
)

// Init передаёт боту оркестратор и реестр фоновых задач.
// Вызывается один раз из main до запуска long-polling.
func Init(o *services.Orchestrator, r *tasks.Registry) {
	orch = o
	taskReg = r
}

func StartBot() {
	bot, err := tgbotapi.NewBotAPI(config.AppCfg.BotToken)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}
	StartBotWithInstance(bot)
}

// StartBotWithInstance запускает Telegram-бота с переданным экземпляром
func StartBotWithInstance(bot *tgbotapi.BotAPI) {
	log.Printf("Authorized on account %s", bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := bot.GetUpdatesChan(u)

	for update := range updates {
		HandleUpdate(bot, update)
	}
}
