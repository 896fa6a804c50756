package panel

import "encoding/json"

// Ответы 3x-ui слабо типизированы: obj может быть null, а settings и
// streamSettings приходят строкой JSON внутри JSON и требуют второго
// парсинга. Все эти странности изолированы в этом пакете.

type apiResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

type inboundResponse struct {
	Success bool     `json:"success"`
	Msg     string   `json:"msg"`
	Obj     *Inbound `json:"obj"`
}

// Inbound — логический листенер панели, внутри которого живут клиенты.
type Inbound struct {
	ID             int    `json:"id"`
	Remark         string `json:"remark"`
	Enable         bool   `json:"enable"`
	Port           int    `json:"port"`
	Protocol       string `json:"protocol"`
	Settings       string `json:"settings"`
	StreamSettings string `json:"streamSettings"`
}

// ClientCredential — одна клиентская запись внутри settings inbound-а.
type ClientCredential struct {
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	Flow       string      `json:"flow,omitempty"`
	LimitIP    int         `json:"limitIp"`
	TotalGB    int         `json:"totalGB"`
	ExpiryTime int64       `json:"expiryTime"`
	Enable     bool        `json:"enable"`
	TgID       interface{} `json:"tgId"` // панель отдаёт то число, то строку
	SubID      string      `json:"subId"`
	Reset      int         `json:"reset"`
}

type ClientSettings struct {
	Clients    []ClientCredential `json:"clients"`
	Decryption string             `json:"decryption,omitempty"`
}

// StreamSettings — транспортные параметры inbound, нужны для сборки
// vless-ссылки. Передаются дальше как есть, без валидации.
type StreamSettings struct {
	Network         string          `json:"network"`
	Security        string          `json:"security"`
	RealitySettings RealitySettings `json:"realitySettings"`
}

type RealitySettings struct {
	ServerNames []string       `json:"serverNames"`
	ShortIDs    []string       `json:"shortIds"`
	Settings    RealityOptions `json:"settings"`
}

type RealityOptions struct {
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
	SpiderX     string `json:"spiderX"`
}

// ParseClients разбирает stringified settings inbound-а.
func (in *Inbound) ParseClients() ([]ClientCredential, error) {
	var settings ClientSettings
	if err := json.Unmarshal([]byte(in.Settings), &settings); err != nil {
		return nil, err
	}
	return settings.Clients, nil
}

// ParseStream разбирает stringified streamSettings.
func (in *Inbound) ParseStream() (*StreamSettings, error) {
	var stream StreamSettings
	if err := json.Unmarshal([]byte(in.StreamSettings), &stream); err != nil {
		return nil, err
	}
	return &stream, nil
}
