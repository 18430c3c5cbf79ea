package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"plain path", "/pricing", "/pricing"},
		{"trailing slash", "/pricing/", "/pricing"},
		{"query stripped", "/pricing?utm_source=ad", "/pricing"},
		{"fragment stripped", "/docs#install", "/docs"},
		{"full url", "https://shop.example.com/cart", "/cart"},
		{"full url with query", "https://shop.example.com/cart?id=1", "/cart"},
		{"full url root", "https://shop.example.com", "/"},
		{"missing leading slash", "pricing", "/pricing"},
		{"nested", "/docs/getting-started/", "/docs/getting-started"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizePath(tc.in))
		})
	}
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 33.33, Round2(100.0/3))
	assert.Equal(t, 50.0, Round2(50))
	assert.Equal(t, 66.67, Round2(200.0/3))
	assert.Equal(t, 0.0, Round2(0))
}

func TestIsValidInterval(t *testing.T) {
	assert.True(t, IsValidInterval("Day"))
	assert.True(t, IsValidInterval("Hour"))
	assert.False(t, IsValidInterval("day"))
	assert.False(t, IsValidInterval("Fortnight"))
	assert.False(t, IsValidInterval(""))
}
