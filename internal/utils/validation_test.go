package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type listing struct {
	Title    string `validate:"required"`
	SaleMode string `validate:"required,sale_mode"`
	Price    int64  `validate:"gt=0"`
}

func TestValidateStruct(t *testing.T) {
	require.NoError(t, ValidateStruct(listing{Title: "Lamp", SaleMode: "reserve", Price: 10}))

	err := ValidateStruct(listing{SaleMode: "dutch"})
	require.Error(t, err)
	msg := ValidationMessage(err)
	require.Contains(t, msg, "title is required")
	require.Contains(t, msg, "salemode is invalid (sale_mode)")
	require.Contains(t, msg, "price must be greater than 0")
}

func TestIsValidSpecKey(t *testing.T) {
	require.True(t, IsValidSpecKey("frame_size"))
	require.False(t, IsValidSpecKey("Frame Size"))
	require.False(t, IsValidSpecKey(""))
}
