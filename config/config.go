package config

import (
	"github.com/joho/godotenv"
	"log"
	"os"
	"strconv"
)

type AppConfig struct {
	BotToken        string
	AdminTelegramID string
	YooKassaShopID  string
	YooKassaSecret  string
	DatabaseURL     string
	LoginPrefix     string // префикс для генерации email клиентов, например "moyvpn"

	// Параметры фоновой проверки статуса платежа
	FirstCheckDelay  int
	CheckInterval    int
	MaxCheckAttempts int
}

var AppCfg AppConfig

func LoadConfig() {
	err := godotenv.Load()
	if err != nil {
		log.Println(".env file not found, relying on environment variables")
	}

	AppCfg.BotToken = os.Getenv("BOT_TOKEN")
	AppCfg.AdminTelegramID = os.Getenv("ADMIN_TELEGRAM_ID")
	AppCfg.YooKassaShopID = os.Getenv("YOOKASSA_SHOP_ID")
	AppCfg.YooKassaSecret = os.Getenv("YOOKASSA_SECRET_KEY")
	AppCfg.DatabaseURL = os.Getenv("DATABASE_URL")
	AppCfg.LoginPrefix = os.Getenv("LOGIN_PREFIX")
	if AppCfg.LoginPrefix == "" {
		AppCfg.LoginPrefix = "vpn"
	}

	AppCfg.FirstCheckDelay = envInt("FIRST_CHECK_DELAY", 15)
	AppCfg.CheckInterval = envInt("SUBSEQUENT_CHECK_INTERVAL", 30)
	AppCfg.MaxCheckAttempts = envInt("MAX_ATTEMPTS", 15)

	if AppCfg.BotToken == "" || AppCfg.AdminTelegramID == "" || AppCfg.DatabaseURL == "" {
		log.Fatal("Critical environment variables are missing. Bot will exit.")
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Некорректное значение %s=%q, используется %d", key, v, def)
		return def
	}
	return n
}
