package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"treasury-desk/curve"
	"treasury-desk/order"
)

// yieldDayRow 每个日历日一行，date 唯一。
type yieldDayRow struct {
	ID        uint                       `gorm:"primaryKey"`
	Date      time.Time                  `gorm:"column:date;type:date;uniqueIndex;not null"`
	Data      map[string]decimal.Decimal `gorm:"column:data;serializer:json;type:jsonb;not null"`
	CreatedAt time.Time
}

func (yieldDayRow) TableName() string { return "yield_days" }

type orderRow struct {
	ID             string              `gorm:"column:id;type:varchar(36);primaryKey"`
	Term           string              `gorm:"column:term;type:varchar(16);not null"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:decimal(18,2);not null"`
	OrderType      string              `gorm:"column:order_type;type:varchar(10);not null;default:'MARKET'"`
	Timing         string              `gorm:"column:timing;type:varchar(10);not null;default:'DAY'"`
	Status         string              `gorm:"column:status;type:varchar(10);not null;default:'OPEN';index"`
	LimitPrice     decimal.NullDecimal `gorm:"column:limit_price;type:decimal(9,4)"`
	ExecutedPrice  decimal.NullDecimal `gorm:"column:executed_price;type:decimal(9,4)"`
	PurchasedPrice decimal.NullDecimal `gorm:"column:purchased_price;type:decimal(18,2)"`
	CreatedAt      time.Time           `gorm:"column:created_at;not null;index"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;not null"`
}

func (orderRow) TableName() string { return "orders" }

// Postgres gorm 实现。曲线写入用 ON CONFLICT (date) DO NOTHING，
// 订单成交/撤销用带 status='OPEN' 条件的单条 UPDATE。
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects, applies pool settings and optionally migrates.
func OpenPostgres(opt PostgresOption) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(opt.dsn()), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opt.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opt.MaxOpenConns)
	}
	if opt.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opt.MaxIdleConns)
	}
	if opt.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opt.ConnMaxLifetime)
	}

	p := NewPostgres(db)
	if opt.AutoMigrate {
		if err := p.Migrate(); err != nil {
			_ = p.Close()
			return nil, err
		}
	}
	return p, nil
}

// NewPostgres wraps an existing gorm handle.
func NewPostgres(db *gorm.DB) *Postgres { return &Postgres{db: db} }

// Migrate creates or updates both tables.
func (p *Postgres) Migrate() error {
	if err := p.db.AutoMigrate(&yieldDayRow{}, &orderRow{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (p *Postgres) CurveByDate(ctx context.Context, date time.Time) (curve.YieldCurve, bool, error) {
	var row yieldDayRow
	err := p.selectCurve(p.db.WithContext(ctx), date, &row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return curve.YieldCurve{}, false, nil
	}
	if err != nil {
		return curve.YieldCurve{}, false, err
	}
	return row.toCurve(), true, nil
}

func (p *Postgres) PutCurve(ctx context.Context, c curve.YieldCurve) (curve.YieldCurve, bool, error) {
	row := yieldDayRow{Date: c.Date, Data: c.Points}
	res := p.insertCurve(p.db.WithContext(ctx), &row)
	if res.Error != nil {
		return curve.YieldCurve{}, false, res.Error
	}
	stored, ok, err := p.CurveByDate(ctx, c.Date)
	if err != nil {
		return curve.YieldCurve{}, false, err
	}
	if !ok {
		return curve.YieldCurve{}, false, fmt.Errorf("curve %s vanished after insert", dateKey(c.Date))
	}
	return stored, res.RowsAffected == 1, nil
}

func (p *Postgres) CreateOrder(ctx context.Context, o order.Order) error {
	row := fromOrder(o)
	err := p.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: order %s", ErrDuplicate, o.ID)
	}
	return err
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (order.Order, error) {
	var row orderRow
	err := p.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return order.Order{}, fmt.Errorf("%w: %s", order.ErrUnknownOrder, id)
	}
	if err != nil {
		return order.Order{}, err
	}
	return row.toOrder(), nil
}

func (p *Postgres) ListOrders(ctx context.Context) ([]order.Order, error) {
	var rows []orderRow
	if err := p.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return toOrders(rows), nil
}

func (p *Postgres) OpenOrders(ctx context.Context) ([]order.Order, error) {
	var rows []orderRow
	err := p.db.WithContext(ctx).
		Where("status = ?", string(order.StatusOpen)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toOrders(rows), nil
}

func (p *Postgres) Fill(ctx context.Context, id string, executed, purchased decimal.Decimal, at time.Time) (order.Order, bool, error) {
	res := p.fillOrder(p.db.WithContext(ctx), id, executed, purchased, at)
	return p.afterCAS(ctx, id, res)
}

func (p *Postgres) CancelIfOpen(ctx context.Context, id string, at time.Time) (order.Order, bool, error) {
	res := p.cancelOrder(p.db.WithContext(ctx), id, at)
	return p.afterCAS(ctx, id, res)
}

func (p *Postgres) afterCAS(ctx context.Context, id string, res *gorm.DB) (order.Order, bool, error) {
	if res.Error != nil {
		return order.Order{}, false, res.Error
	}
	o, err := p.GetOrder(ctx, id)
	if err != nil {
		return order.Order{}, false, err
	}
	return o, res.RowsAffected == 1, nil
}

// 以下构造具体语句，测试用 DryRun 会话检查生成的 SQL。

func (p *Postgres) selectCurve(tx *gorm.DB, date time.Time, row *yieldDayRow) *gorm.DB {
	return tx.Where("date = ?", date.Format(time.DateOnly)).Take(row)
}

func (p *Postgres) insertCurve(tx *gorm.DB, row *yieldDayRow) *gorm.DB {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "date"}},
		DoNothing: true,
	}).Create(row)
}

func (p *Postgres) fillOrder(tx *gorm.DB, id string, executed, purchased decimal.Decimal, at time.Time) *gorm.DB {
	return tx.Model(&orderRow{}).
		Where("id = ? AND status = ?", id, string(order.StatusOpen)).
		Updates(map[string]interface{}{
			"executed_price":  executed,
			"purchased_price": purchased,
			"status":          string(order.StatusFilled),
			"updated_at":      at,
		})
}

func (p *Postgres) cancelOrder(tx *gorm.DB, id string, at time.Time) *gorm.DB {
	return tx.Model(&orderRow{}).
		Where("id = ? AND status = ?", id, string(order.StatusOpen)).
		Updates(map[string]interface{}{
			"status":     string(order.StatusCancelled),
			"updated_at": at,
		})
}

func (r yieldDayRow) toCurve() curve.YieldCurve {
	y, m, d := r.Date.Date()
	pts := make(map[string]decimal.Decimal, len(r.Data))
	for k, v := range r.Data {
		pts[k] = v
	}
	return curve.YieldCurve{
		Date:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
		Points: pts,
		Source: curve.SourceStore,
	}
}

func fromOrder(o order.Order) orderRow {
	return orderRow{
		ID:             o.ID,
		Term:           o.Term,
		Amount:         o.Amount,
		OrderType:      string(o.Type),
		Timing:         string(o.Timing),
		Status:         string(o.Status),
		LimitPrice:     nullDec(o.LimitPrice),
		ExecutedPrice:  nullDec(o.ExecutedPrice),
		PurchasedPrice: nullDec(o.PurchasedPrice),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (r orderRow) toOrder() order.Order {
	return order.Order{
		ID:             r.ID,
		Term:           r.Term,
		Amount:         r.Amount,
		Type:           order.Type(r.OrderType),
		Timing:         order.Timing(r.Timing),
		LimitPrice:     decPtr(r.LimitPrice),
		ExecutedPrice:  decPtr(r.ExecutedPrice),
		PurchasedPrice: decPtr(r.PurchasedPrice),
		Status:         order.Status(r.Status),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

func toOrders(rows []orderRow) []order.Order {
	out := make([]order.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOrder())
	}
	return out
}

func nullDec(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func decPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	v := n.Decimal
	return &v
}
