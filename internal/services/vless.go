package services

import (
	"fmt"
	"strings"

	"VPN-Manager-bot/internal/db"
	"VPN-Manager-bot/internal/panel"
)

// ClientConfig — отрендеренные ссылки подключения для одного клиента.
type ClientConfig struct {
	Vless   string // vless://... для ручной настройки
	SubURL  string // ссылка на подписку
	JSONSub string // json-подписка
}

// BuildClientConfig собирает vless-ссылку и подписочные URL из данных
// inbound и клиентской записи. Reality-параметры — прозрачный passthrough
// того, что отдала панель.
func BuildClientConfig(srv *db.Server, in *panel.Inbound, cred *panel.ClientCredential) (*ClientConfig, error) {
	stream, err := in.ParseStream()
	if err != nil {
		return nil, fmt.Errorf("bad streamSettings on inbound %d: %w", in.ID, err)
	}
	if len(stream.RealitySettings.ServerNames) == 0 || len(stream.RealitySettings.ShortIDs) == 0 {
		return nil, fmt.Errorf("inbound %d: incomplete reality settings", in.ID)
	}
	spiderX := strings.ReplaceAll(stream.RealitySettings.Settings.SpiderX, "/", "%2F")
	vless := fmt.Sprintf(
		"vless://%s@%s:%d?type=%s&security=%s&pbk=%s&fp=%s&sni=%s&sid=%s&spx=%s&flow=xtls-rprx-vision#%s",
		cred.ID,
		srv.ServerIP,
		in.Port,
		stream.Network,
		stream.Security,
		stream.RealitySettings.Settings.PublicKey,
		stream.RealitySettings.Settings.Fingerprint,
		stream.RealitySettings.ServerNames[0],
		stream.RealitySettings.ShortIDs[0],
		spiderX,
		cred.Email,
	)
	return &ClientConfig{
		Vless:   vless,
		SubURL:  srv.SubscriptionBase + srv.SubURL + cred.SubID,
		JSONSub: srv.SubscriptionBase + srv.JSONSub + cred.SubID,
	}, nil
}
