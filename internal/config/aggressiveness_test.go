package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggressivenessConcurrency(t *testing.T) {
	assert.Equal(t, 1, Light.Concurrency())
	assert.Equal(t, 2, Normal.Concurrency())
	assert.Equal(t, 3, Aggressive.Concurrency())
	assert.Equal(t, 2, Aggressiveness("bogus").Concurrency())
}

func TestParseAggressiveness(t *testing.T) {
	tests := []struct {
		in   string
		want Aggressiveness
	}{
		{"light", Light},
		{"LIGHT", Light},
		{" aggressive ", Aggressive},
		{"normal", Normal},
		{"", Normal},
		{"max", Normal},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAggressiveness(tt.in))
		})
	}
}

func TestAggressivenessValid(t *testing.T) {
	assert.True(t, Light.Valid())
	assert.True(t, Aggressive.Valid())
	assert.False(t, Aggressiveness("max").Valid())
}
