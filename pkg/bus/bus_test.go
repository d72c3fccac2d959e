package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	medium := NewBus(8)
	a := medium.Attach()
	b := medium.Attach()
	c := medium.Attach()

	require.NoError(t, a.Send([]byte("hello")))

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = c.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestBusSenderDoesNotHearOwnSend(t *testing.T) {
	medium := NewBus(8)
	a := medium.Attach()
	medium.Attach()

	require.NoError(t, a.Send([]byte("out")))

	_, err := a.Recv()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBusInjectReachesAllTaps(t *testing.T) {
	medium := NewBus(8)
	a := medium.Attach()
	b := medium.Attach()

	medium.Inject([]byte{0xde, 0xad})

	got, err := a.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, got)

	got, err = b.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, got)
}

func TestBusDetachedTapStopsReceiving(t *testing.T) {
	medium := NewBus(8)
	a := medium.Attach()
	b := medium.Attach()
	c := medium.Attach()
	require.Equal(t, 3, medium.TapCount())

	require.NoError(t, b.Close())
	require.Equal(t, 2, medium.TapCount())

	require.NoError(t, a.Send([]byte("after")))

	got, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("after"), got)

	_, err = b.Recv()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Send([]byte("x")), ErrClosed)
}

func TestBusDetachedTapDrainsQueued(t *testing.T) {
	medium := NewBus(8)
	a := medium.Attach()
	b := medium.Attach()

	require.NoError(t, a.Send([]byte("queued")))
	require.NoError(t, b.Close())

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte("queued"), got)

	_, err = b.Recv()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBusSlowTapDropsOverflow(t *testing.T) {
	medium := NewBus(1)
	a := medium.Attach()
	b := medium.Attach()

	require.NoError(t, a.Send([]byte{1}))
	require.NoError(t, a.Send([]byte{2}))

	assert.Equal(t, uint64(1), b.Dropped())

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, got)
	_, err = b.Recv()
	assert.ErrorIs(t, err, ErrNoData)
}

func TestBusSendCopiesData(t *testing.T) {
	medium := NewBus(8)
	a := medium.Attach()
	b := medium.Attach()

	buf := []byte{1, 2, 3}
	require.NoError(t, a.Send(buf))
	buf[0] = 99

	got, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestBusTapCloseIdempotent(t *testing.T) {
	medium := NewBus(8)
	tap := medium.Attach()
	require.NoError(t, tap.Close())
	require.NoError(t, tap.Close())
	assert.Equal(t, 0, medium.TapCount())
}
