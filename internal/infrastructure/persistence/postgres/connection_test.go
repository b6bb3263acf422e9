package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPoolSettings_WithDefaults(t *testing.T) {
	// A zero value resolves to the full default tuning.
	got := PoolSettings{}.withDefaults()
	assert.Equal(t, DefaultPoolSettings(), got)

	// Explicit values survive; only unset fields are filled.
	got = PoolSettings{MaxConns: 25, MaxConnLifetime: 10 * time.Minute}.withDefaults()
	assert.Equal(t, int32(25), got.MaxConns)
	assert.Equal(t, 10*time.Minute, got.MaxConnLifetime)
	assert.Equal(t, int32(2), got.MinConns)
	assert.Equal(t, 30*time.Minute, got.MaxConnIdleTime)
}
