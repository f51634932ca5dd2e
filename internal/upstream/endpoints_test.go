package upstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderDefaultsToDeclaredOrder(t *testing.T) {
	e := NewEndpointAvailability(time.Minute)
	assert.Equal(t, []string{ProdEndpoint, DailyEndpoint}, e.Order(DefaultEndpoints))
}

func TestOrderPrefersLastSuccess(t *testing.T) {
	e := NewEndpointAvailability(time.Minute)
	e.MarkSuccess(DailyEndpoint)
	assert.Equal(t, []string{DailyEndpoint, ProdEndpoint}, e.Order(DefaultEndpoints))
}

func TestOrderSkipsUnavailableEndpoint(t *testing.T) {
	e := NewEndpointAvailability(time.Minute)
	e.MarkUnavailable(ProdEndpoint)
	assert.Equal(t, []string{DailyEndpoint}, e.Order(DefaultEndpoints))
}

func TestOrderFallsBackToEverythingWhenAllUnavailable(t *testing.T) {
	e := NewEndpointAvailability(time.Minute)
	e.MarkUnavailable(ProdEndpoint)
	e.MarkUnavailable(DailyEndpoint)
	assert.ElementsMatch(t, DefaultEndpoints, e.Order(DefaultEndpoints))
}

func TestMarkSuccessClearsUnavailability(t *testing.T) {
	e := NewEndpointAvailability(time.Minute)
	e.MarkUnavailable(ProdEndpoint)
	assert.False(t, e.IsAvailable(ProdEndpoint))
	e.MarkSuccess(ProdEndpoint)
	assert.True(t, e.IsAvailable(ProdEndpoint))
}
