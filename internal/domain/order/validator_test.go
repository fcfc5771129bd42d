package order

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestValidateTotal(t *testing.T) {
	items := []LineItem{
		{ProductID: "p1", Name: "Margherita", Quantity: 2, UnitPrice: dec("25.00"), Subtotal: dec("50.00")},
	}

	tests := []struct {
		name         string
		items        []LineItem
		deliveryFee  string
		discount     string
		claimed      string
		wantComputed string
		wantErr      bool
	}{
		{
			name:         "exact match",
			items:        items,
			deliveryFee:  "5.00",
			discount:     "0",
			claimed:      "55.00",
			wantComputed: "55.00",
		},
		{
			name:         "one cent off is within tolerance",
			items:        items,
			deliveryFee:  "5.00",
			discount:     "0",
			claimed:      "55.01",
			wantComputed: "55.00",
		},
		{
			name:         "one cent under is within tolerance",
			items:        items,
			deliveryFee:  "5.00",
			discount:     "0",
			claimed:      "54.99",
			wantComputed: "55.00",
		},
		{
			name:         "two cents off is rejected",
			items:        items,
			deliveryFee:  "5.00",
			discount:     "0",
			claimed:      "55.02",
			wantComputed: "55.00",
			wantErr:      true,
		},
		{
			name:         "tampered total rejected",
			items:        items,
			deliveryFee:  "5.00",
			discount:     "0",
			claimed:      "60.00",
			wantComputed: "55.00",
			wantErr:      true,
		},
		{
			name:         "discount is subtracted",
			items:        items,
			deliveryFee:  "5.00",
			discount:     "10.00",
			claimed:      "45.00",
			wantComputed: "45.00",
		},
		{
			name: "item sum rounds to 2 decimal places before fees",
			items: []LineItem{
				{ProductID: "p1", Quantity: 3, UnitPrice: dec("3.333")},
			},
			deliveryFee:  "0",
			discount:     "0",
			claimed:      "10.00",
			wantComputed: "10.00",
		},
		{
			name:         "no items computes fees only",
			items:        nil,
			deliveryFee:  "5.00",
			discount:     "0",
			claimed:      "5.00",
			wantComputed: "5.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			computed, err := ValidateTotal(tt.items, dec(tt.deliveryFee), dec(tt.discount), dec(tt.claimed))

			assert.True(t, dec(tt.wantComputed).Equal(computed),
				"computed = %s, want %s", computed, tt.wantComputed)

			if tt.wantErr {
				var mismatch *TotalMismatchError
				require.ErrorAs(t, err, &mismatch)
				assert.True(t, dec(tt.claimed).Equal(mismatch.Claimed))
				assert.True(t, dec(tt.wantComputed).Equal(mismatch.Computed))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidateTotal_Deterministic(t *testing.T) {
	items := []LineItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: dec("12.35")},
		{ProductID: "p2", Quantity: 1, UnitPrice: dec("7.90")},
	}

	first, err := ValidateTotal(items, dec("4.50"), dec("2.00"), dec("35.10"))
	require.NoError(t, err)

	for range 10 {
		again, err := ValidateTotal(items, dec("4.50"), dec("2.00"), dec("35.10"))
		require.NoError(t, err)
		assert.True(t, first.Equal(again))
	}
}

func TestDraftCheckItems(t *testing.T) {
	d := &Draft{}
	require.ErrorIs(t, d.CheckItems(), ErrEmptyItems)

	d = &Draft{LineItems: []LineItem{{ProductID: "p1", Quantity: 0}}}
	var iqErr *InvalidQuantityError
	require.ErrorAs(t, d.CheckItems(), &iqErr)
	assert.Equal(t, "p1", iqErr.ProductID)

	d = &Draft{LineItems: []LineItem{{ProductID: "p1", Quantity: 1}}}
	require.NoError(t, d.CheckItems())
}
