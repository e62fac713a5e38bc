package ai

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDailySeed_IsDeterministicForSameUserAndDay(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := dailySeed(42, 7, day)
	b := dailySeed(42, 7, day)
	assert.Equal(t, a, b)
}

func TestDailySeed_DiffersAcrossUsersAndDays(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	nextDay := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	s1 := dailySeed(42, 7, day)
	s2 := dailySeed(42, 8, day)
	s3 := dailySeed(42, 7, nextDay)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, s1, s3)
}

func TestClampFloat_BoundsToUnitInterval(t *testing.T) {
	assert.Equal(t, 0.0, clampFloat(-0.5))
	assert.Equal(t, 1.0, clampFloat(1.5))
	assert.Equal(t, 0.3, clampFloat(0.3))
}
