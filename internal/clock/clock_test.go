package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(2 * time.Second)
	require.Equal(t, 1, f.Waiters())

	f.Advance(time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	f.Advance(time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(2*time.Second), at)
	default:
		t.Fatal("did not fire at deadline")
	}
	assert.Equal(t, 0, f.Waiters())
}

func TestFake_AfterNonPositiveFiresImmediately(t *testing.T) {
	f := NewFake(time.Unix(0, 0))

	select {
	case <-f.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
	assert.Equal(t, 0, f.Waiters())
}
