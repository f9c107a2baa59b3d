package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInFlightDeduper_AcquireRelease(t *testing.T) {
	d := NewInFlightDeduper(time.Minute, 4)

	release, err := d.Acquire("marketa:s1")
	require.NoError(t, err)
	_, err = d.Acquire("marketa:s1")
	assert.ErrorIs(t, err, ErrDuplicateInFlight)

	_, err = d.Acquire("marketb:s1")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Len())

	release()
	_, err = d.Acquire("marketa:s1")
	assert.NoError(t, err)
}

func TestInFlightDeduper_ExpiresAfterTTL(t *testing.T) {
	d := NewInFlightDeduper(20*time.Millisecond, 1)
	require.NoError(t, d.TryAcquire("k"))
	assert.ErrorIs(t, d.TryAcquire("k"), ErrDuplicateInFlight)

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, d.TryAcquire("k"))
}

func TestInFlightDeduper_EmptyKeyAndNil(t *testing.T) {
	d := NewInFlightDeduper(0, 0)
	assert.NoError(t, d.TryAcquire(""))
	assert.NoError(t, d.TryAcquire(""))

	var nilD *InFlightDeduper
	assert.NoError(t, nilD.TryAcquire("x"))
	assert.Zero(t, nilD.Len())
}
