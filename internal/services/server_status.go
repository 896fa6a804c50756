package services

import (
	"net"
	"net/url"
	"sync"
	"time"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/logger"

	"go.uber.org/zap"
)

type ServerStatus struct {
	Name        string
	IP          string
	Status      string
	LastChecked time.Time
}

// lastStatuses пишется cron-горутиной и читается из обработчика
// /admin_servers, поэтому доступ только под мьютексом.
var (
	statusMu     sync.RWMutex
	lastStatuses []ServerStatus
)

func GetServerStatuses() []ServerStatus {
	statusMu.RLock()
	defer statusMu.RUnlock()
	return append([]ServerStatus(nil), lastStatuses...)
}

func setServerStatuses(statuses []ServerStatus) {
	statusMu.Lock()
	lastStatuses = statuses
	statusMu.Unlock()
}

// UpdateAllServerStatuses проверяет доступность панелей по TCP и
// уведомляет админа об упавших. Вызывается по cron каждую минуту.
func UpdateAllServerStatuses() {
	defer logger.NotifyOnPanic("UpdateAllServerStatuses")
	servers, err := db.GetAllServers()
	if err != nil {
		logger.Error("Не удалось загрузить сервера для проверки статуса", zap.Error(err))
		return
	}
	var statuses []ServerStatus
	for _, srv := range servers {
		status := ServerStatus{Name: srv.Name, IP: srv.ServerIP}
		conn, err := net.DialTimeout("tcp", panelHostPort(&srv), 2*time.Second)
		if err != nil {
			status.Status = "❌ offline"
			logger.NotifyAdmin("Сервер " + srv.Name + " (" + srv.ServerIP + ") недоступен!")
		} else {
			status.Status = "✅ online"
			conn.Close()
		}
		status.LastChecked = time.Now()
		statuses = append(statuses, status)
	}
	setServerStatuses(statuses)
}

// panelHostPort выделяет host:port панели из base_url;
// при кривом URL откатываемся на server_ip:443.
func panelHostPort(srv *db.Server) string {
	u, err := url.Parse(srv.BaseURL)
	if err != nil || u.Host == "" {
		return srv.ServerIP + ":443"
	}
	if u.Port() == "" {
		return u.Host + ":443"
	}
	return u.Host
}
