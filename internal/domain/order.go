package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus is the gateway-confirmed state of an order.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
	PaymentFailed  PaymentStatus = "FAILED"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// OrderItem snapshots the product's flat affiliate amount at purchase time.
type OrderItem struct {
	ProductID                 string          `json:"product_id"`
	Quantity                  int             `json:"quantity"`
	UnitPrice                 decimal.Decimal `json:"unit_price"`
	AffiliateCommissionAmount decimal.Decimal `json:"affiliate_commission_amount"`
}

// Order is a product purchase. ReferredByID is captured from the customer at
// purchase time.
type Order struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	ReferredByID  *string         `json:"referred_by_id,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Status        OrderStatus     `json:"status"`
	Items         []OrderItem     `json:"items"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AffiliateCommissionTotal is Σ(flat amount × quantity) over the items.
func (o Order) AffiliateCommissionTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			continue
		}
		total = total.Add(item.AffiliateCommissionAmount.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return RoundMoney(total)
}
