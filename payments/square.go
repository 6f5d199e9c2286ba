package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// SquareConfig содержит настройки доступа к Square
type SquareConfig struct {
	BaseURL     string
	AccessToken string
	Version     string
	LocationID  string
	Timeout     time.Duration
}

// SquareGateway списывает средства через Square Payments API
type SquareGateway struct {
	client     *resty.Client
	locationID string
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePaymentRequest struct {
	SourceID       string      `json:"source_id"`
	IdempotencyKey string      `json:"idempotency_key"`
	AmountMoney    squareMoney `json:"amount_money"`
	CustomerID     string      `json:"customer_id,omitempty"`
	LocationID     string      `json:"location_id,omitempty"`
	Note           string      `json:"note,omitempty"`
	Autocomplete   bool        `json:"autocomplete"`
}

type squarePaymentResponse struct {
	Payment struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
}

type squareErrorResponse struct {
	Errors []struct {
		Category string `json:"category"`
		Code     string `json:"code"`
		Detail   string `json:"detail"`
	} `json:"errors"`
}

func (e squareErrorResponse) message() string {
	if len(e.Errors) == 0 {
		return "неизвестная ошибка Square"
	}
	first := e.Errors[0]
	if first.Detail != "" {
		return fmt.Sprintf("%s: %s", first.Code, first.Detail)
	}
	return first.Code
}

// NewSquareGateway создает адаптер Square
func NewSquareGateway(cfg SquareConfig) *SquareGateway {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.AccessToken).
		SetHeader("Square-Version", cfg.Version).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)

	return &SquareGateway{client: client, locationID: cfg.LocationID}
}

// Charge создает платеж с сохраненной карты клиента
func (g *SquareGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body := squarePaymentRequest{
		SourceID:       req.PaymentMethodRef,
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney:    squareMoney{Amount: req.AmountMinor, Currency: req.Currency},
		CustomerID:     req.CustomerRef,
		LocationID:     g.locationID,
		Note:           req.Note,
		Autocomplete:   true,
	}

	var result squarePaymentResponse
	var apiErr squareErrorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&apiErr).
		Post("/v2/payments")
	if err != nil {
		return ChargeResult{}, fmt.Errorf("ошибка запроса к Square: %w", err)
	}
	if resp.IsError() {
		return ChargeResult{}, fmt.Errorf("Square вернул %d: %s", resp.StatusCode(), apiErr.message())
	}

	out := ChargeResult{Status: result.Payment.Status, TransactionID: result.Payment.ID}
	if !out.Succeeded() {
		return out, fmt.Errorf("%w: статус %s", ErrDeclined, out.Status)
	}
	return out, nil
}
