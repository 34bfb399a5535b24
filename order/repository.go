package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository 订单持久化边界。Fill 与 CancelIfOpen 都是对 status=OPEN 的
// compare-and-set：未生效时返回库中当前订单且 applied=false。
type Repository interface {
	CreateOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id string) (Order, error)
	// ListOrders returns every order, newest first.
	ListOrders(ctx context.Context) ([]Order, error)
	// OpenOrders returns OPEN orders, oldest first.
	OpenOrders(ctx context.Context) ([]Order, error)
	Fill(ctx context.Context, id string, executed, purchased decimal.Decimal, at time.Time) (o Order, applied bool, err error)
	CancelIfOpen(ctx context.Context, id string, at time.Time) (o Order, applied bool, err error)
}
