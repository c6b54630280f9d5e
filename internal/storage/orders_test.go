package storage

import (
	"database/sql"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow feeds scanOrder fixed values without a real database, the way a
// *sql.Row or *sql.Rows would via rowScanner. Side/Type/Status are distinct
// string-kind types, so plain assignment needs reflection the way
// database/sql's convertAssign does internally.
type fakeRow struct {
	values []interface{}
}

func (f fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *int64:
			*v = f.values[i].(int64)
		case *sql.NullString:
			*v = f.values[i].(sql.NullString)
		case *time.Time:
			*v = f.values[i].(time.Time)
		default:
			rv := reflect.ValueOf(d).Elem()
			sv := reflect.ValueOf(f.values[i])
			if sv.Kind() == reflect.String && rv.Kind() == reflect.String {
				rv.SetString(sv.String())
				continue
			}
			rv.Set(sv)
		}
	}
	return nil
}

func TestScanOrder_ParsesPriceAndQuantities(t *testing.T) {
	now := time.Now()
	row := fakeRow{values: []interface{}{
		int64(7), int64(1), int64(2), "BTCUSD", "BUY", "LIMIT",
		sql.NullString{String: "50000.50", Valid: true},
		"1.5", "0.5", "PARTIAL", now, now,
	}}

	order, err := scanOrder(row)
	require.NoError(t, err)

	assert.Equal(t, int64(7), order.ID)
	require.NotNil(t, order.Price)
	assert.True(t, order.Price.Equal(decimal.RequireFromString("50000.50")))
	assert.True(t, order.Quantity.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, order.RemainingQuantity.Equal(decimal.RequireFromString("0.5")))
}

func TestScanOrder_NilPriceForMarketOrder(t *testing.T) {
	now := time.Now()
	row := fakeRow{values: []interface{}{
		int64(8), int64(1), int64(2), "BTCUSD", "SELL", "MARKET",
		sql.NullString{Valid: false},
		"2", "2", "FILLED", now, now,
	}}

	order, err := scanOrder(row)
	require.NoError(t, err)
	assert.Nil(t, order.Price)
}
