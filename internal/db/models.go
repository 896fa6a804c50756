package db

// User — пользователь бота. Флаги notified_after_* защищают win-back
// уведомления от повторной отправки между ежедневными проверками.
type User struct {
	ID                 uint  `gorm:"primaryKey"`
	TelegramID         int64 `gorm:"uniqueIndex"`
	HasTrial           bool  `gorm:"default:false"`
	SumMy              int
	SumRef             int
	NotifiedAfter3Days bool `gorm:"default:false"`
	NotifiedAfter7Days bool `gorm:"default:false"`
}

// Server — панель 3x-ui, на которой размещаются клиенты.
// InboundIDs хранится строкой "1,2,3" как в исходной схеме.
type Server struct {
	ID               uint `gorm:"primaryKey"`
	TotalSlots       int
	Name             string
	Username         string
	Password         string
	ServerIP         string
	BaseURL          string
	SubscriptionBase string
	SubURL           string
	JSONSub          string
	InboundIDs       string
}

// ServerGroup — именованный кластер взаимозаменяемых серверов ("Германия").
// ServerIDs — строка "1,2,3", порядок определяет tie-break при выборе.
type ServerGroup struct {
	GroupName string `gorm:"primaryKey"`
	ServerIDs string
}

// UserEmail — привязка email к пользователю и серверу.
// IDServer — подсказка, где искать клиента; не считается авторитетной,
// после миграций фактическое размещение уточняется обходом серверов.
type UserEmail struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   uint   `gorm:"index"`
	Email    string `gorm:"index"`
	IDServer uint
}

// UserConfig — кэш подписки: отрендеренная vless-ссылка и days_left.
// DaysLeft = -1 означает "безлимит / ещё не активирована".
// Авторитетное значение всегда на панели, кэш обновляет Reconciler.
type UserConfig struct {
	Email    string `gorm:"primaryKey"`
	Config   string
	DaysLeft int  `gorm:"default:-1"`
	NotFound bool `gorm:"default:false"` // клиент не найден ни на одной панели
}

// Payment — платёж с метаданными, по которым webhook решает,
// создавать новую подписку или продлевать существующую.
type Payment struct {
	ID         uint `gorm:"primaryKey"`
	UserID     uint
	ExternalID string `gorm:"index"`
	Amount     int
	Status     string
	Email      *string // если продление — email продлеваемого клиента
	Days       *int    // срок в днях
	GroupName  *string // если покупка — группа серверов для размещения
	CreatedAt  int64
}
