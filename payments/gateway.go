// Package payments содержит адаптеры платежных провайдеров.
package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// StatusCompleted означает успешное списание
const StatusCompleted = "COMPLETED"

// ErrDeclined возвращается, когда провайдер ответил, но платеж не завершен
var ErrDeclined = errors.New("платеж отклонен провайдером")

// ChargeRequest описывает одно списание с сохраненного способа оплаты
type ChargeRequest struct {
	AmountMinor      int64
	Currency         string
	IdempotencyKey   string
	CustomerRef      string
	PaymentMethodRef string
	Note             string
}

// ChargeResult содержит ответ провайдера
type ChargeResult struct {
	Status        string
	TransactionID string
}

// Succeeded проверяет, что провайдер подтвердил платеж
func (r ChargeResult) Succeeded() bool {
	return r.Status == StatusCompleted
}

// Gateway списывает средства у провайдера
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

var hundred = decimal.NewFromInt(100)

// ToMinorUnits переводит сумму в центы с округлением от нуля
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}
