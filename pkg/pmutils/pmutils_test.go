package pmutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateAQI(t *testing.T) {
	tests := []struct {
		pm25  float64
		level string
		value int
	}{
		{0, "good", 0},
		{6.0, "good", 25},
		{12.0, "good", 50},
		{12.1, "moderate", 50},
		{35.4, "moderate", 100},
		{45.45, "unhealthy-sensitive", 125},
		{55.5, "unhealthy", 150},
		{150.5, "very-unhealthy", 200},
		{250.4, "very-unhealthy", 300},
		{500.4, "hazardous", 500},
		{-3, "good", 0},
	}

	for _, tt := range tests {
		got := CalculateAQI(tt.pm25)
		assert.Equal(t, tt.level, got.Level, "pm25=%v", tt.pm25)
		assert.Equal(t, tt.value, got.Value, "pm25=%v", tt.pm25)
		assert.NotEmpty(t, got.Color)
		assert.NotEmpty(t, got.Message)
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "0s", FormatUptime(0))
	assert.Equal(t, "8s", FormatUptime(8_999))
	assert.Equal(t, "6m 7s", FormatUptime((6*60+7)*1000))
	assert.Equal(t, "4h 5m", FormatUptime((4*3600+5*60+59)*1000))
	assert.Equal(t, "2d 3h", FormatUptime((2*86400+3*3600+120)*1000))
	assert.Equal(t, "0s", FormatUptime(-10))
}
