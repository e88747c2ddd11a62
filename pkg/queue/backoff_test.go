package queue_test

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/learnhub/mailqueue/pkg/queue"
)

func TestExponentialBackoff_Delay(t *testing.T) {
	t.Parallel()

	t.Run("default doubles from two seconds", func(t *testing.T) {
		t.Parallel()

		policy := queue.DefaultBackoff()
		assert.Equal(t, time.Duration(0), policy(0))
		assert.Equal(t, 2*time.Second, policy(1))
		assert.Equal(t, 4*time.Second, policy(2))
		assert.Equal(t, 8*time.Second, policy(3))
		assert.Equal(t, 16*time.Second, policy(4))
	})

	t.Run("cap", func(t *testing.T) {
		t.Parallel()

		policy := queue.ExponentialBackoff{Base: time.Second, Multiplier: 2, Max: 5 * time.Second}.Delay
		assert.Equal(t, 4*time.Second, policy(3))
		assert.Equal(t, 5*time.Second, policy(4))
		assert.Equal(t, 5*time.Second, policy(50))
	})

	t.Run("overflow clamps", func(t *testing.T) {
		t.Parallel()

		d := queue.ExponentialBackoff{Base: time.Hour, Multiplier: 10}.Delay(100)
		assert.Equal(t, time.Duration(math.MaxInt64), d)
	})

	t.Run("jitter never shortens the delay", func(t *testing.T) {
		t.Parallel()

		policy := queue.ExponentialBackoff{Base: 2 * time.Second, Multiplier: 2, Jitter: 0.5}.Delay
		for attempt := 1; attempt <= 5; attempt++ {
			minimum := time.Duration(2000*math.Pow(2, float64(attempt-1))) * time.Millisecond
			for range 20 {
				d := policy(attempt)
				assert.GreaterOrEqual(t, d, minimum)
				assert.LessOrEqual(t, d, minimum+minimum/2)
			}
		}
	})

	t.Run("zero values fall back to defaults", func(t *testing.T) {
		t.Parallel()

		assert.Equal(t, 2*time.Second, queue.ExponentialBackoff{}.Delay(1))
		assert.Equal(t, 4*time.Second, queue.ExponentialBackoff{}.Delay(2))
	})
}

func TestFixedBackoff(t *testing.T) {
	t.Parallel()

	policy := queue.FixedBackoff(time.Minute)
	assert.Equal(t, time.Duration(0), policy(0))
	assert.Equal(t, time.Minute, policy(1))
	assert.Equal(t, time.Minute, policy(9))
}
