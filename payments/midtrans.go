package payments

import (
	"context"
	"errors"
	"fmt"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
)

// MidtransGateway списывает средства через Midtrans Core API по сохраненному токену карты
type MidtransGateway struct {
	client coreapi.Client
}

// NewMidtransGateway создает адаптер Midtrans
func NewMidtransGateway(serverKey string, production bool) *MidtransGateway {
	g := &MidtransGateway{}
	if production {
		g.client.New(serverKey, midtrans.Production)
	} else {
		g.client.New(serverKey, midtrans.Sandbox)
	}
	return g
}

// ErrFractionalAmount возвращается, когда сумму нельзя списать без потери центов
var ErrFractionalAmount = errors.New("сумма содержит дробную часть, недопустимую для провайдера")

// wholeUnits переводит центы в целые единицы валюты без округления
func wholeUnits(amountMinor int64) (int64, error) {
	if amountMinor%100 != 0 {
		return 0, fmt.Errorf("%w: %d.%02d", ErrFractionalAmount, amountMinor/100, amountMinor%100)
	}
	return amountMinor / 100, nil
}

// Charge выполняет списание; Midtrans принимает сумму в целых единицах валюты
func (g *MidtransGateway) Charge(_ context.Context, req ChargeRequest) (ChargeResult, error) {
	gross, err := wholeUnits(req.AmountMinor)
	if err != nil {
		return ChargeResult{}, err
	}
	charge := &coreapi.ChargeReq{
		PaymentType: coreapi.PaymentTypeCreditCard,
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.IdempotencyKey,
			GrossAmt: gross,
		},
		CreditCard: &coreapi.CreditCardDetails{
			TokenID: req.PaymentMethodRef,
		},
	}

	resp, mErr := g.client.ChargeTransaction(charge)
	if mErr != nil {
		return ChargeResult{}, fmt.Errorf("ошибка Midtrans: %s", mErr.Message)
	}
	if resp == nil {
		return ChargeResult{}, fmt.Errorf("пустой ответ Midtrans")
	}

	out := ChargeResult{Status: resp.TransactionStatus, TransactionID: resp.TransactionID}
	switch resp.TransactionStatus {
	case "capture", "settlement":
		out.Status = StatusCompleted
		return out, nil
	default:
		return out, fmt.Errorf("%w: статус %s (%s)", ErrDeclined, resp.TransactionStatus, resp.StatusMessage)
	}
}
