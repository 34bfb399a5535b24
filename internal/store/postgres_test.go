package store

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"treasury-desk/order"
)

func dryRunPostgres(t *testing.T) (*Postgres, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=td dbname=desk sslmode=disable",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true, SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewPostgres(db), db
}

func TestPostgresDSN(t *testing.T) {
	assert.Equal(t, "postgres://localhost:5432?sslmode=disable", PostgresOption{}.dsn())

	opt := PostgresOption{
		Host:     "db",
		Port:     6543,
		User:     "td",
		Password: "p@ss",
		Database: "desk",
		SSLMode:  "require",
		Params:   map[string]string{"application_name": "treasury-desk", "": "ignored"},
	}
	assert.Equal(t,
		"postgres://td:p%40ss@db:6543/desk?application_name=treasury-desk&sslmode=require",
		opt.dsn())

	assert.Equal(t, "postgres://x", PostgresOption{DSN: "postgres://x", Host: "ignored"}.dsn())
}

func TestPostgresInsertCurveIgnoresConflicts(t *testing.T) {
	p, db := dryRunPostgres(t)
	row := yieldDayRow{Date: day22, Data: map[string]decimal.Decimal{"1 Mo": decimal.RequireFromString("5.12")}}

	res := p.insertCurve(db.Session(&gorm.Session{DryRun: true}), &row)
	require.NoError(t, res.Error)
	sql := res.Statement.SQL.String()
	assert.Contains(t, sql, `INSERT INTO "yield_days"`)
	assert.Contains(t, sql, `ON CONFLICT ("date") DO NOTHING`)
}

func TestPostgresSelectCurveByDate(t *testing.T) {
	p, db := dryRunPostgres(t)
	var row yieldDayRow
	res := p.selectCurve(db.Session(&gorm.Session{DryRun: true}), day22, &row)
	require.NoError(t, res.Error)
	assert.Contains(t, res.Statement.SQL.String(), `FROM "yield_days" WHERE date = $1`)
	assert.Contains(t, res.Statement.Vars, "2025-08-22")
}

func TestPostgresFillIsConditionalOnOpen(t *testing.T) {
	p, db := dryRunPostgres(t)
	res := p.fillOrder(db.Session(&gorm.Session{DryRun: true}), "abc",
		decimal.RequireFromString("4.47"), decimal.RequireFromString("996.34"), time.Now())
	require.NoError(t, res.Error)
	stmt := res.Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, `UPDATE "orders" SET`)
	assert.Contains(t, sql, `"executed_price"=`)
	assert.Contains(t, sql, `"purchased_price"=`)
	assert.Contains(t, sql, `"status"=`)
	assert.Contains(t, sql, "WHERE id = $5 AND status = $6")
	assert.Contains(t, stmt.Vars, string(order.StatusFilled))
	assert.Contains(t, stmt.Vars, string(order.StatusOpen))
}

func TestPostgresCancelIsConditionalOnOpen(t *testing.T) {
	p, db := dryRunPostgres(t)
	res := p.cancelOrder(db.Session(&gorm.Session{DryRun: true}), "abc", time.Now())
	require.NoError(t, res.Error)
	stmt := res.Statement

	sql := stmt.SQL.String()
	assert.Contains(t, sql, `UPDATE "orders" SET "status"=$1,"updated_at"=$2 WHERE id = $3 AND status = $4`)
	require.Len(t, stmt.Vars, 4)
	assert.Equal(t, string(order.StatusCancelled), stmt.Vars[0])
	assert.Equal(t, "abc", stmt.Vars[2])
	assert.Equal(t, string(order.StatusOpen), stmt.Vars[3])
}

func TestOrderRowRoundTrip(t *testing.T) {
	lp := decimal.RequireFromString("4.5")
	o := openOrder("id-1", day22)
	o.Type = order.TypeLimit
	o.Timing = order.TimingGTC
	o.LimitPrice = &lp

	back := fromOrder(o).toOrder()
	assert.Equal(t, o.ID, back.ID)
	assert.Equal(t, order.TypeLimit, back.Type)
	require.NotNil(t, back.LimitPrice)
	assert.True(t, lp.Equal(*back.LimitPrice))
	assert.Nil(t, back.ExecutedPrice)
	assert.Nil(t, back.PurchasedPrice)
}
