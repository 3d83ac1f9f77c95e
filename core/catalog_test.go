package core_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasa/datavend/core"
)

func TestCatalog_DefaultPrices(t *testing.T) {
	catalog := core.DefaultCatalog()

	cases := map[core.BundleSize]string{
		1:  "2.50",
		2:  "4.50",
		5:  "10.00",
		10: "18.00",
	}
	for size, want := range cases {
		price, err := catalog.PriceFor(size)
		require.NoError(t, err)
		assert.Equal(t, want, price.StringFixed(2), "size %dGB", size)
	}

	assert.Equal(t, []core.BundleSize{1, 2, 5, 10}, catalog.Sizes())
}

func TestCatalog_UnknownSize(t *testing.T) {
	catalog := core.DefaultCatalog()

	_, err := catalog.PriceFor(3)
	assert.ErrorIs(t, err, core.ErrInvalidBundle)

	_, err = catalog.PriceFor(0)
	assert.ErrorIs(t, err, core.ErrInvalidBundle)
}

func TestCatalog_SetPrices_ReplacesList(t *testing.T) {
	catalog := core.DefaultCatalog()

	err := catalog.SetPrices(map[core.BundleSize]decimal.Decimal{
		1: decimal.RequireFromString("3.00"),
		5: decimal.RequireFromString("11.50"),
	})
	require.NoError(t, err)

	price, err := catalog.PriceFor(5)
	require.NoError(t, err)
	assert.Equal(t, "11.50", price.StringFixed(2))

	// Sizes absent from the new list are no longer offered.
	_, err = catalog.PriceFor(10)
	assert.ErrorIs(t, err, core.ErrInvalidBundle)
}

func TestCatalog_SetPrices_RejectsBadInput(t *testing.T) {
	catalog := core.DefaultCatalog()

	assert.Error(t, catalog.SetPrices(nil))
	assert.Error(t, catalog.SetPrices(map[core.BundleSize]decimal.Decimal{
		2: decimal.Zero,
	}))
	assert.Error(t, catalog.SetPrices(map[core.BundleSize]decimal.Decimal{
		-1: decimal.RequireFromString("5.00"),
	}))

	// A rejected update leaves the catalog untouched.
	price, err := catalog.PriceFor(2)
	assert.NoError(t, err)
	assert.Equal(t, "4.50", price.StringFixed(2))
}

func TestNetworkName_Mapping(t *testing.T) {
	assert.Equal(t, "MTN", core.NetworkName(core.NetworkYello))
	assert.Equal(t, "Vodafone", core.NetworkName(core.NetworkTelecel))
	assert.Equal(t, "AirtelTigo", core.NetworkName(core.NetworkATPremium))
	assert.Equal(t, "SOMENET", core.NetworkName(core.Network("SOMENET")), "unknown codes pass through")
}
