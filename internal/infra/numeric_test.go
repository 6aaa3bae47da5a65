package infra

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumericToDecimal_Zero(t *testing.T) {
	v, err := NumericToDecimal(DecimalToNumeric(decimal.Zero))
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestNumericToDecimal_Cents(t *testing.T) {
	// 4250 * 10^-2 = 42.50
	n := pgtype.Numeric{Int: big.NewInt(4250), Exp: -2, Valid: true}
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.Equal(t, "42.50", v.StringFixed(2))
}

func TestNumericToDecimal_PositiveExponent(t *testing.T) {
	// 7 * 10^1 = 70
	n := pgtype.Numeric{Int: big.NewInt(7), Exp: 1, Valid: true}
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(70)))
}

func TestNumericToDecimal_Negative(t *testing.T) {
	n := pgtype.Numeric{Int: big.NewInt(-7000), Exp: -2, Valid: true}
	v, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(-70)))
}

func TestNumericToDecimal_NullReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{Valid: false})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NULL")
}

func TestNumericToDecimal_NaNReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{NaN: true, Valid: true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NaN")
}

func TestNumericToDecimal_InfinityReturnsError(t *testing.T) {
	_, err := NumericToDecimal(pgtype.Numeric{InfinityModifier: pgtype.Infinity, Valid: true})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "infinite")
}

func TestDecimalToNumeric_Roundtrip(t *testing.T) {
	values := []string{"0", "0.01", "40", "30.00", "1234567890123456.78", "-12.5"}
	for _, s := range values {
		d := decimal.RequireFromString(s)
		result, err := NumericToDecimal(DecimalToNumeric(d))
		require.NoError(t, err, "value: %s", s)
		assert.True(t, d.Equal(result), "value: %s got %s", s, result)
	}
}

func TestDecimalToNumeric_DoesNotAliasCoefficient(t *testing.T) {
	d := decimal.RequireFromString("12.34")
	n := DecimalToNumeric(d)
	n.Int.SetInt64(0)
	assert.Equal(t, "12.34", d.String())
}

func TestScanDecimals(t *testing.T) {
	var a, b decimal.Decimal
	err := ScanDecimals(
		[]string{"a", "b"},
		[]pgtype.Numeric{DecimalToNumeric(decimal.NewFromInt(1)), DecimalToNumeric(decimal.NewFromInt(2))},
		[]*decimal.Decimal{&a, &b},
	)
	require.NoError(t, err)
	assert.True(t, a.Equal(decimal.NewFromInt(1)))
	assert.True(t, b.Equal(decimal.NewFromInt(2)))

	err = ScanDecimals([]string{"reserved_balance"}, []pgtype.Numeric{{}}, []*decimal.Decimal{&a})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved_balance")
}
