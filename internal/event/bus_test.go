package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInMemoryBus(t *testing.T) {
	t.Parallel()

	t.Run("delivers to every subscriber", func(t *testing.T) {
		bus := NewBus()
		first, cancelFirst := bus.Subscribe()
		second, cancelSecond := bus.Subscribe()
		defer cancelFirst()
		defer cancelSecond()

		bus.Publish(Event{ID: "1", Type: TypeSessionAuthenticated})

		require.Equal(t, TypeSessionAuthenticated, (<-first).Type)
		require.Equal(t, TypeSessionAuthenticated, (<-second).Type)
	})

	t.Run("unsubscribed channel stops receiving and is closed", func(t *testing.T) {
		bus := NewBus()
		ch, cancel := bus.Subscribe()

		cancel()
		bus.Publish(Event{ID: "1", Type: TypeSessionCleared})

		_, open := <-ch
		require.False(t, open)
	})

	t.Run("cancel is safe to call twice", func(t *testing.T) {
		bus := NewBus()
		_, cancel := bus.Subscribe()
		cancel()
		cancel()
	})

	t.Run("a full subscriber never blocks the publisher", func(t *testing.T) {
		bus := NewBus()
		_, cancel := bus.Subscribe() // never drained
		defer cancel()

		done := make(chan struct{})
		go func() {
			for i := 0; i < subscriberBuffer*2; i++ {
				bus.Publish(Event{Type: TypeLicenseUpdated})
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("publisher blocked on a slow subscriber")
		}
	})
}
