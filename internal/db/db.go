package db

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var DB *gorm.DB

func InitDB() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	DB = db
	db.AutoMigrate(&User{}, &Server{}, &ServerGroup{}, &UserEmail{}, &UserConfig{}, &Payment{})
}

// ParseIDList разбирает строку "1,2,3" в список id.
// Мусорные элементы пропускаются, как и в исходной схеме.
func ParseIDList(csv string) []uint {
	var ids []uint
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			continue
		}
		ids = append(ids, uint(n))
	}
	return ids
}

// InboundIDList возвращает inbound id сервера в порядке из БД.
func (s *Server) InboundIDList() []int {
	var ids []int
	for _, id := range ParseIDList(s.InboundIDs) {
		ids = append(ids, int(id))
	}
	return ids
}

func GetServer(id uint) (Server, error) {
	var srv Server
	err := DB.First(&srv, id).Error
	return srv, err
}

func GetAllServers() ([]Server, error) {
	var servers []Server
	err := DB.Order("id").Find(&servers).Error
	return servers, err
}

// GetGroupServers возвращает сервера группы в порядке, заданном админом.
// Если группы нет, но имя — числовой id существующего сервера, группа
// трактуется как тривиальная из одного сервера.
func GetGroupServers(groupName string) ([]Server, error) {
	var group ServerGroup
	err := DB.Where("group_name = ?", groupName).First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if id, convErr := strconv.Atoi(groupName); convErr == nil {
			srv, srvErr := GetServer(uint(id))
			if srvErr == nil {
				return []Server{srv}, nil
			}
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	var servers []Server
	for _, id := range ParseIDList(group.ServerIDs) {
		srv, err := GetServer(id)
		if err != nil {
			log.Printf("Группа %s ссылается на несуществующий сервер %d", groupName, id)
			continue
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

// GetOrCreateUser регистрирует пользователя при первом обращении.
func GetOrCreateUser(telegramID int64) (User, error) {
	var user User
	err := DB.Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = User{TelegramID: telegramID}
		err = DB.Create(&user).Error
	}
	return user, err
}

// SaveClientMapping сохраняет привязку email -> сервер и кэш конфига
// после успешного создания клиента на панели.
func SaveClientMapping(userID uint, email string, serverID uint, config string, daysLeft int) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&UserEmail{UserID: userID, Email: email, IDServer: serverID}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "email"}},
			DoUpdates: clause.AssignmentColumns([]string{"config", "days_left", "not_found"}),
		}).Create(&UserConfig{Email: email, Config: config, DaysLeft: daysLeft}).Error
	})
}

// UpdateMappingServer переносит привязку email на новый сервер (миграция).
func UpdateMappingServer(email string, serverID uint) error {
	return DB.Model(&UserEmail{}).Where("email = ?", email).Update("id_server", serverID).Error
}

// UpsertDaysLeft — единственный путь, которым состояние панели
// перезаписывает локальный кэш days_left.
func UpsertDaysLeft(email string, daysLeft int) error {
	return DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"days_left", "not_found"}),
	}).Create(&UserConfig{Email: email, DaysLeft: daysLeft}).Error
}

// AddDaysLeft сдвигает кэш после успешного продления.
// Сентинел -1 (безлимит) не трогаем: следующий sweep пересчитает точно.
func AddDaysLeft(email string, delta int) error {
	return DB.Model(&UserConfig{}).
		Where("email = ? AND days_left <> -1", email).
		Update("days_left", gorm.Expr("days_left + ?", delta)).Error
}

// MarkConfigNotFound помечает email, который не нашёлся ни на одной панели.
func MarkConfigNotFound(email string, notFound bool) error {
	return DB.Model(&UserConfig{}).Where("email = ?", email).Update("not_found", notFound).Error
}

// GetTrackedEmails возвращает все email, за которыми следит бот.
func GetTrackedEmails() (map[string]struct{}, error) {
	var emails []string
	if err := DB.Model(&UserConfig{}).Pluck("email", &emails).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		set[e] = struct{}{}
	}
	return set, nil
}

func GetUserConfig(email string) (UserConfig, error) {
	var cfg UserConfig
	err := DB.Where("email = ?", email).First(&cfg).Error
	return cfg, err
}

func GetUserEmails(userID uint) ([]UserEmail, error) {
	var rows []UserEmail
	err := DB.Where("user_id = ?", userID).Find(&rows).Error
	return rows, err
}

// GetMappingServer возвращает подсказку, на каком сервере искать email.
func GetMappingServer(email string) (uint, error) {
	var row UserEmail
	if err := DB.Where("email = ?", email).First(&row).Error; err != nil {
		return 0, err
	}
	return row.IDServer, nil
}

// SubscriptionRow — строка выборки для прохода уведомлений:
// user_configs JOIN user_emails JOIN users.
type SubscriptionRow struct {
	Email              string
	DaysLeft           int
	NotFound           bool
	UserID             uint
	TelegramID         int64
	NotifiedAfter3Days bool
	NotifiedAfter7Days bool
}

func GetSubscriptionRows() ([]SubscriptionRow, error) {
	var rows []SubscriptionRow
	err := DB.Table("user_configs uc").
		Select("uc.email, uc.days_left, uc.not_found, u.id as user_id, u.telegram_id, u.notified_after_3_days, u.notified_after_7_days").
		Joins("JOIN user_emails ue ON ue.email = uc.email").
		Joins("JOIN users u ON u.id = ue.user_id").
		Scan(&rows).Error
	return rows, err
}

// SetNotifiedFlag выставляет флаг win-back уведомления.
// Обратно флаг снимается только явным ResetWinBackFlags при продлении.
func SetNotifiedFlag(userID uint, column string) error {
	switch column {
	case "notified_after_3_days", "notified_after_7_days":
	default:
		return errors.New("unknown notification flag: " + column)
	}
	return DB.Model(&User{}).Where("id = ?", userID).Update(column, true).Error
}

// ResetWinBackFlags сбрасывает флаги win-back при новой оплате,
// открывая следующий цикл уведомлений.
func ResetWinBackFlags(userID uint) error {
	return DB.Model(&User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"notified_after_3_days": false,
		"notified_after_7_days": false,
	}).Error
}

// --- Платежи ---

func CreatePayment(p *Payment) error {
	p.Status = "pending"
	p.CreatedAt = time.Now().Unix()
	return DB.Create(p).Error
}

func FindPaymentByExternalID(externalID string) (Payment, error) {
	var pay Payment
	err := DB.Where("external_id = ?", externalID).First(&pay).Error
	return pay, err
}

func MarkPaymentStatus(externalID, status string) error {
	return DB.Model(&Payment{}).Where("external_id = ?", externalID).Update("status", status).Error
}

// --- Админская статистика ---

func CountUsers() int {
	var count int64
	DB.Model(&User{}).Count(&count)
	return int(count)
}

func CountActiveSubscriptions() int {
	var count int64
	DB.Model(&UserConfig{}).Where("days_left > 0 OR days_left = -1").Where("not_found = false").Count(&count)
	return int(count)
}

func SumPayments(from, to time.Time) float64 {
	var sum int64
	DB.Model(&Payment{}).Where("status = ? AND created_at >= ? AND created_at <= ?", "succeeded", from.Unix(), to.Unix()).Select("coalesce(sum(amount),0)").Scan(&sum)
	return float64(sum)
}
