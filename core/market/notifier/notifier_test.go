package notifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenBeforeNotifyDoesNotLoseEvent(t *testing.T) {
	n := New()
	l := n.Listen("sub-1")
	defer l.Close()

	n.Notify("sub-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.WaitForEvent(ctx))
}

func TestWaitForEventWithTimeoutExpires(t *testing.T) {
	n := New()
	l := n.Listen("sub-1")
	defer l.Close()

	err := l.WaitForEventWithTimeout(10 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestStopNotifyingYieldsUnsubscribed(t *testing.T) {
	n := New()
	l := n.Listen("sub-1")
	defer l.Close()

	n.StopNotifying("sub-1")

	err := l.WaitForEventWithTimeout(time.Second)
	require.Error(t, err)
	assert.True(t, IsUnsubscribed(err))
}

func TestCloseYieldsChannelClosed(t *testing.T) {
	n := New()
	l := n.Listen("sub-1")
	n.Close()

	err := l.WaitForEventWithTimeout(time.Second)
	require.Error(t, err)
	assert.True(t, IsChannelClosed(err))
}

func TestNotifyOnlyWakesMatchingID(t *testing.T) {
	n := New()
	l := n.Listen("sub-1")
	defer l.Close()

	n.Notify("sub-2")

	err := l.WaitForEventWithTimeout(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}
