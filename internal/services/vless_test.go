package services

import (
	"strings"
	"testing"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/panel"
)

func vlessTestServer() *db.Server {
	return &db.Server{
		ID:               1,
		ServerIP:         "203.0.113.10",
		SubscriptionBase: "https://sub.example.com",
		SubURL:           "/sub/",
		JSONSub:          "/json/",
	}
}

func TestBuildClientConfig(t *testing.T) {
	in := &panel.Inbound{ID: 1, Port: 443, StreamSettings: testStreamSettings}
	cred := &panel.ClientCredential{ID: "11111111-2222-3333-4444-555555555555", Email: "vpn-1234001", SubID: "vpn-ab12cd34"}

	cfg, err := BuildClientConfig(vlessTestServer(), in, cred)
	if err != nil {
		t.Fatalf("BuildClientConfig: %v", err)
	}
	want := "vless://11111111-2222-3333-4444-555555555555@203.0.113.10:443" +
		"?type=tcp&security=reality&pbk=pbk-test&fp=chrome&sni=cdn.example.com" +
		"&sid=ab12cd34&spx=%2F&flow=xtls-rprx-vision#vpn-1234001"
	if cfg.Vless != want {
		t.Errorf("vless link:\n got %s\nwant %s", cfg.Vless, want)
	}
	if cfg.SubURL != "https://sub.example.com/sub/vpn-ab12cd34" {
		t.Errorf("sub url = %s", cfg.SubURL)
	}
	if cfg.JSONSub != "https://sub.example.com/json/vpn-ab12cd34" {
		t.Errorf("json sub url = %s", cfg.JSONSub)
	}
}

func TestBuildClientConfigSpiderXEscaped(t *testing.T) {
	stream := `{"network":"tcp","security":"reality","realitySettings":{"serverNames":["a.com"],"shortIds":["ff"],"settings":{"publicKey":"pk","fingerprint":"chrome","spiderX":"/path/x"}}}`
	in := &panel.Inbound{ID: 1, Port: 8443, StreamSettings: stream}
	cred := &panel.ClientCredential{ID: "u", Email: "e", SubID: "s"}

	cfg, err := BuildClientConfig(vlessTestServer(), in, cred)
	if err != nil {
		t.Fatalf("BuildClientConfig: %v", err)
	}
	if !strings.Contains(cfg.Vless, "spx=%2Fpath%2Fx") {
		t.Errorf("spiderX must be escaped, got %s", cfg.Vless)
	}
}

func TestBuildClientConfigIncompleteReality(t *testing.T) {
	tests := []struct {
		name   string
		stream string
	}{
		{"no server names", `{"network":"tcp","security":"reality","realitySettings":{"serverNames":[],"shortIds":["ff"],"settings":{}}}`},
		{"no short ids", `{"network":"tcp","security":"reality","realitySettings":{"serverNames":["a.com"],"shortIds":[],"settings":{}}}`},
		{"broken json", `{not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &panel.Inbound{ID: 1, Port: 443, StreamSettings: tt.stream}
			cred := &panel.ClientCredential{ID: "u", Email: "e", SubID: "s"}
			if _, err := BuildClientConfig(vlessTestServer(), in, cred); err == nil {
				t.Error("want error for incomplete stream settings")
			}
		})
	}
}
