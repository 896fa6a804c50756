package services

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"VPN-Manager-bot/internal/db"
)

func TestPanelHostPort(t *testing.T) {
	tests := []struct {
		name string
		srv  db.Server
		want string
	}{
		{"url with port", db.Server{BaseURL: "https://panel.example.com:2053", ServerIP: "1.2.3.4"}, "panel.example.com:2053"},
		{"url without port", db.Server{BaseURL: "https://panel.example.com", ServerIP: "1.2.3.4"}, "panel.example.com:443"},
		{"broken url falls back to ip", db.Server{BaseURL: "://bad", ServerIP: "1.2.3.4"}, "1.2.3.4:443"},
		{"empty url falls back to ip", db.Server{BaseURL: "", ServerIP: "1.2.3.4"}, "1.2.3.4:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := panelHostPort(&tt.srv); got != tt.want {
				t.Errorf("panelHostPort = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestServerStatusesConcurrentAccess(t *testing.T) {
	// Писатель (cron) и читатель (/admin_servers) работают из разных
	// горутин; под -race тест ловит несинхронизированный доступ.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			setServerStatuses([]ServerStatus{{Name: "srv-" + strconv.Itoa(i), Status: "✅ online", LastChecked: time.Now()}})
		}()
		go func() {
			defer wg.Done()
			for _, s := range GetServerStatuses() {
				_ = s.Name
			}
		}()
	}
	wg.Wait()

	setServerStatuses([]ServerStatus{{Name: "final"}})
	got := GetServerStatuses()
	if len(got) != 1 || got[0].Name != "final" {
		t.Errorf("statuses = %+v, want the last written snapshot", got)
	}

	// Читатель получает копию: мутация результата не трогает кэш.
	got[0].Name = "mutated"
	if again := GetServerStatuses(); again[0].Name != "final" {
		t.Error("GetServerStatuses must return a copy")
	}
}
