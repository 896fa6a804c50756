package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"VPN-Manager-bot/config"
	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/panel"
)

func TestGenerateEmail(t *testing.T) {
	config.AppCfg.LoginPrefix = "vpn"
	email := GenerateEmail(987654321)
	// Префикс, последние 4 цифры telegram id, 3 случайные цифры.
	if !strings.HasPrefix(email, "vpn-4321") {
		t.Errorf("email = %q, want prefix vpn-4321", email)
	}
	if len(email) != len("vpn-4321")+3 {
		t.Errorf("email = %q, want exactly 3 random digits after the id", email)
	}

	short := GenerateEmail(42)
	if !strings.HasPrefix(short, "vpn-42") {
		t.Errorf("email = %q, короткий id берётся целиком", short)
	}
}

func TestComputeNewExpiry(t *testing.T) {
	now := int64(1_700_000_000_000)
	tests := []struct {
		name    string
		current int64
		days    int
		want    int64
	}{
		{"active subscription extends from its expiry", now + 5*msPerDay, 30, now + 35*msPerDay},
		{"expired subscription extends from now", now - 10*msPerDay, 30, now + 30*msPerDay},
		{"expires exactly now", now, 7, now + 7*msPerDay},
		{"not yet activated", 0, 30, now + 30*msPerDay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := computeNewExpiry(tt.current, now, tt.days)
			if got != tt.want {
				t.Errorf("computeNewExpiry(%d, now, %d) = %d, want %d", tt.current, tt.days, got, tt.want)
			}
		})
	}
}

func TestComputeNewExpiryIsAdditive(t *testing.T) {
	// Два продления по 30 дней дают тот же срок, что одно на 60.
	now := int64(1_700_000_000_000)
	step := computeNewExpiry(computeNewExpiry(now+msPerDay, now, 30), now, 30)
	once := computeNewExpiry(now+msPerDay, now, 60)
	if step != once {
		t.Errorf("sequential renewals %d != single renewal %d", step, once)
	}
}

func TestRenewOnAppliesToEveryServerWithClient(t *testing.T) {
	// Клиент живёт на серверах 1 и 3; сервер 2 его не знает.
	// Продление должно пройти на обоих и вернуть applied=2.
	expiry := time.Now().UnixMilli() + 10*msPerDay
	cred := panel.ClientCredential{
		ID: "uuid-renew", Email: "vpn-7777001", Flow: "xtls-rprx-vision",
		LimitIP: 3, ExpiryTime: expiry, Enable: true, SubID: "vpn-sub1",
	}
	fp1 := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	fp2 := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(2)})
	fp3 := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	servers := []db.Server{fp1.server(1, 10, "1"), fp2.server(2, 10, "1"), fp3.server(3, 10, "1")}

	o := NewOrchestrator(panel.New())
	messages, applied := o.renewOn(context.Background(), servers, "vpn-7777001", 30)
	if applied != 2 {
		t.Fatalf("applied = %d, want 2", applied)
	}
	if len(messages) != 2 {
		t.Errorf("messages = %d, want 2", len(messages))
	}
	for _, fp := range []*fakePanel{fp1, fp3} {
		ups := fp.updatedClients()
		if len(ups) != 1 {
			t.Fatalf("updates on panel = %d, want 1", len(ups))
		}
		got := ups[0]
		if got.ExpiryTime != expiry+30*msPerDay {
			t.Errorf("new expiry = %d, want %d", got.ExpiryTime, expiry+30*msPerDay)
		}
		// Полная замена объекта: остальные поля не должны потеряться.
		if got.SubID != cred.SubID || got.LimitIP != cred.LimitIP || got.Flow != cred.Flow || !got.Enable {
			t.Errorf("update lost client fields: %+v", got)
		}
	}
	if len(fp2.updatedClients()) != 0 {
		t.Error("server without the client must not receive updates")
	}
}

func TestRenewOnPartialOutage(t *testing.T) {
	// Один из серверов с клиентом лежит: операция успешна, applied=1.
	cred := panel.ClientCredential{ID: "uuid-po", Email: "vpn-7777002", ExpiryTime: time.Now().UnixMilli() + msPerDay, Enable: true}
	down := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	down.loginFail = true
	up := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	servers := []db.Server{down.server(1, 10, "1"), up.server(2, 10, "1")}

	o := NewOrchestrator(panel.New())
	_, applied := o.renewOn(context.Background(), servers, "vpn-7777002", 7)
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (лежащий сервер пропущен)", applied)
	}
}

func TestRenewOnClientNowhere(t *testing.T) {
	fp := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(2)})
	servers := []db.Server{fp.server(1, 10, "1")}

	o := NewOrchestrator(panel.New())
	_, applied := o.renewOn(context.Background(), servers, "vpn-missing", 30)
	if applied != 0 {
		t.Errorf("applied = %d, want 0", applied)
	}
}

func TestMigrateBetweenAddThenDelete(t *testing.T) {
	expiry := time.Now().UnixMilli() + 20*msPerDay
	cred := panel.ClientCredential{
		ID: "uuid-old", Email: "vpn-8888001", ExpiryTime: expiry,
		Enable: true, TgID: float64(123456789),
	}
	from := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	to := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(1)})

	o := NewOrchestrator(panel.New())
	fromSrv := from.server(1, 10, "1")
	toSrv := to.server(2, 10, "1")
	got, err := o.migrateBetween(context.Background(), &fromSrv, &toSrv, "vpn-8888001")
	if err != nil {
		t.Fatalf("migrateBetween: %v", err)
	}
	if got.ExpiryMs != expiry {
		t.Errorf("migrated expiry = %d, want %d (срок сохраняется)", got.ExpiryMs, expiry)
	}
	if to.addedCount() != 1 {
		t.Fatalf("adds on target = %d, want 1", to.addedCount())
	}
	deleted := from.deletedIDs()
	if len(deleted) != 1 || deleted[0] != "uuid-old" {
		t.Errorf("deleted = %v, want [uuid-old]", deleted)
	}
	if got.Config == nil || !strings.Contains(got.Config.Vless, "#vpn-8888001") {
		t.Errorf("migrated config must keep the email, got %+v", got.Config)
	}
}

func TestMigrateBetweenAddFailureKeepsOldClient(t *testing.T) {
	cred := panel.ClientCredential{ID: "uuid-keep", Email: "vpn-8888002", ExpiryTime: time.Now().UnixMilli() + msPerDay, Enable: true}
	from := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	to := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(1)})
	to.addFail = true

	o := NewOrchestrator(panel.New())
	fromSrv := from.server(1, 10, "1")
	toSrv := to.server(2, 10, "1")
	if _, err := o.migrateBetween(context.Background(), &fromSrv, &toSrv, "vpn-8888002"); err == nil {
		t.Fatal("want error when add on target fails")
	}
	if len(from.deletedIDs()) != 0 {
		t.Error("old client must not be deleted when add failed")
	}
}

func TestMigrateBetweenDeleteFailureStillSucceeds(t *testing.T) {
	cred := panel.ClientCredential{ID: "uuid-df", Email: "vpn-8888003", ExpiryTime: time.Now().UnixMilli() + msPerDay, Enable: true}
	from := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	from.deleteFail = true
	to := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(1)})

	o := NewOrchestrator(panel.New())
	fromSrv := from.server(1, 10, "1")
	toSrv := to.server(2, 10, "1")
	got, err := o.migrateBetween(context.Background(), &fromSrv, &toSrv, "vpn-8888003")
	if err != nil {
		t.Fatalf("миграция не должна падать из-за неудалённого старого клиента: %v", err)
	}
	if to.addedCount() != 1 {
		t.Errorf("adds on target = %d, want 1", to.addedCount())
	}
	if got == nil || got.Config == nil {
		t.Error("want migrated config despite delete failure")
	}
}

func TestStatusOnClassification(t *testing.T) {
	now := time.Now().UnixMilli()
	tests := []struct {
		name      string
		expiry    int64
		wantState string
	}{
		{"active", now + 10*msPerDay, StatusActive},
		{"expiring today", now + msPerDay/2, StatusExpiringToday},
		{"expired", now - 2*msPerDay, StatusExpired},
		{"not yet activated", 0, StatusNotActivated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred := panel.ClientCredential{ID: "uuid-st", Email: "vpn-9999001", ExpiryTime: tt.expiry, Enable: true}
			fp := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
			servers := []db.Server{fp.server(1, 10, "1")}

			o := NewOrchestrator(panel.New())
			status := o.statusOn(context.Background(), servers, "vpn-9999001")
			if status.State != tt.wantState {
				t.Errorf("state = %q, want %q", status.State, tt.wantState)
			}
			if !status.CanExtend {
				t.Error("найденный клиент должен допускать продление")
			}
		})
	}
}

func TestStatusOnNotFoundAnywhere(t *testing.T) {
	fp := newFakePanel(t, map[int][]panel.ClientCredential{1: nClients(2)})
	servers := []db.Server{fp.server(1, 10, "1")}

	o := NewOrchestrator(panel.New())
	status := o.statusOn(context.Background(), servers, "vpn-ghost")
	if status.State != StatusNotFound {
		t.Errorf("state = %q, want %q", status.State, StatusNotFound)
	}
	if status.CanExtend {
		t.Error("CanExtend должен быть false: продлевать нечего")
	}
}

func TestStatusOnSkipsUnreachableServers(t *testing.T) {
	cred := panel.ClientCredential{ID: "uuid-sk", Email: "vpn-9999002", ExpiryTime: time.Now().UnixMilli() + 5*msPerDay, Enable: true}
	down := newFakePanel(t, map[int][]panel.ClientCredential{})
	down.loginFail = true
	up := newFakePanel(t, map[int][]panel.ClientCredential{1: {cred}})
	servers := []db.Server{down.server(1, 10, "1"), up.server(2, 10, "1")}

	o := NewOrchestrator(panel.New())
	status := o.statusOn(context.Background(), servers, "vpn-9999002")
	if status.State != StatusActive {
		t.Errorf("state = %q, want %q (недоступный сервер пропускается)", status.State, StatusActive)
	}
}
