package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/panel"
)

const testStreamSettings = `{"network":"tcp","security":"reality","realitySettings":{"serverNames":["cdn.example.com"],"shortIds":["ab12cd34"],"settings":{"publicKey":"pbk-test","fingerprint":"chrome","spiderX":"/"}}}`

// fakePanel эмулирует HTTP-протокол 3x-ui для одного сервера.
type fakePanel struct {
	mu       sync.Mutex
	ts       *httptest.Server
	inbounds map[int][]panel.ClientCredential

	loginFail  bool
	addFail    bool
	deleteFail bool

	added   []panel.ClientCredential
	updated []panel.ClientCredential
	deleted []string
}

func newFakePanel(t *testing.T, inbounds map[int][]panel.ClientCredential) *fakePanel {
	t.Helper()
	fp := &fakePanel{inbounds: inbounds}
	fp.ts = httptest.NewServer(http.HandlerFunc(fp.handle))
	t.Cleanup(fp.ts.Close)
	return fp
}

func (fp *fakePanel) handle(w http.ResponseWriter, r *http.Request) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	path := r.URL.Path
	switch {
	case path == "/login":
		if fp.loginFail {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "3x-ui", Value: "fake-session"})
		w.Write([]byte(`{"success":true}`))
	case strings.HasPrefix(path, "/panel/api/inbounds/get/"):
		id, _ := strconv.Atoi(strings.TrimPrefix(path, "/panel/api/inbounds/get/"))
		clients, ok := fp.inbounds[id]
		if !ok {
			w.Write([]byte(`{"success":false,"msg":"record not found","obj":null}`))
			return
		}
		settings, _ := json.Marshal(panel.ClientSettings{Clients: clients})
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"obj": map[string]interface{}{
				"id":             id,
				"port":           443,
				"protocol":       "vless",
				"settings":       string(settings),
				"streamSettings": testStreamSettings,
			},
		})
	case path == "/panel/api/inbounds/addClient":
		if fp.addFail {
			w.Write([]byte(`{"success":false,"msg":"add rejected"}`))
			return
		}
		id, cred, err := decodeClientPayload(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fp.added = append(fp.added, cred)
		fp.inbounds[id] = append(fp.inbounds[id], cred)
		w.Write([]byte(`{"success":true}`))
	case strings.HasPrefix(path, "/panel/api/inbounds/updateClient/"):
		_, cred, err := decodeClientPayload(r)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fp.updated = append(fp.updated, cred)
		w.Write([]byte(`{"success":true}`))
	case strings.Contains(path, "/delClient/"):
		if fp.deleteFail {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("delete failed"))
			return
		}
		parts := strings.Split(path, "/delClient/")
		fp.deleted = append(fp.deleted, parts[1])
		w.Write([]byte(`{"success":true}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func decodeClientPayload(r *http.Request) (int, panel.ClientCredential, error) {
	var payload struct {
		ID       int    `json:"id"`
		Settings string `json:"settings"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return 0, panel.ClientCredential{}, err
	}
	var settings panel.ClientSettings
	if err := json.Unmarshal([]byte(payload.Settings), &settings); err != nil {
		return 0, panel.ClientCredential{}, err
	}
	if len(settings.Clients) != 1 {
		return 0, panel.ClientCredential{}, fmt.Errorf("want exactly one client, got %d", len(settings.Clients))
	}
	return payload.ID, settings.Clients[0], nil
}

// server собирает db.Server, указывающий на фейковую панель.
func (fp *fakePanel) server(id uint, slots int, inboundIDs string) db.Server {
	return db.Server{
		ID:               id,
		Name:             "srv-" + strconv.Itoa(int(id)),
		TotalSlots:       slots,
		Username:         "admin",
		Password:         "secret",
		ServerIP:         "10.0.0." + strconv.Itoa(int(id)),
		BaseURL:          fp.ts.URL,
		SubscriptionBase: "https://sub.example.com",
		SubURL:           "/sub/",
		JSONSub:          "/json/",
		InboundIDs:       inboundIDs,
	}
}

func (fp *fakePanel) addedCount() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return len(fp.added)
}

func (fp *fakePanel) deletedIDs() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]string(nil), fp.deleted...)
}

func (fp *fakePanel) updatedClients() []panel.ClientCredential {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]panel.ClientCredential(nil), fp.updated...)
}

// nClients — n болванок клиентов для заполнения inbound.
func nClients(n int) []panel.ClientCredential {
	out := make([]panel.ClientCredential, n)
	for i := range out {
		out[i] = panel.ClientCredential{
			ID:    fmt.Sprintf("uuid-%d", i),
			Email: fmt.Sprintf("vpn-0000%03d", i),
		}
	}
	return out
}
