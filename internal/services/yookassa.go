package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

type PaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Paid         bool   `json:"paid"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

// CreateYooKassaPayment создаёт платёж и возвращает id и ссылку на оплату.
func CreateYooKassaPayment(userID uint, amount int, description, shopID, secretKey string) (paymentID, paymentURL string, err error) {
	url := "https://api.yookassa.ru/v3/payments"
	body := map[string]interface{}{
		"amount":       map[string]interface{}{"value": fmt.Sprintf("%d.00", amount), "currency": "RUB"},
		"confirmation": map[string]string{"type": "redirect"},
		"capture":      true,
		"description":  description,
		"metadata":     map[string]interface{}{"user_id": userID},
	}
	jsonBody, _ := json.Marshal(body)
	client := &http.Client{}
	req, _ := http.NewRequest("POST", url, bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(shopID, secretKey)
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 && resp.StatusCode != 201 {
		return "", "", errors.New("YooKassa error")
	}
	var pr PaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", "", err
	}
	return pr.ID, pr.Confirmation.ConfirmationURL, nil
}

// CheckYooKassaPayment возвращает текущий статус платежа.
// Используется фоновым поллером как резерв на случай потери webhook.
func CheckYooKassaPayment(paymentID, shopID, secretKey string) (status string, err error) {
	url := "https://api.yookassa.ru/v3/payments/" + paymentID
	client := &http.Client{}
	req, _ := http.NewRequest("GET", url, nil)
	req.SetBasicAuth(shopID, secretKey)
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return "", errors.New("YooKassa error")
	}
	var pr PaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", err
	}
	return pr.Status, nil
}
