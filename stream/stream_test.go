package stream_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/stream"
)

func TestCommitEventFanOut(t *testing.T) {
	stream.Initialize()

	subA := stream.Subscribe()
	subB := stream.Subscribe()

	require.Nil(t, stream.Push(stream.CommitEvent{Sequence: 7, Records: 3, Bytes: 1024}))

	for _, sub := range []*stream.Subscriber{subA, subB} {
		ev, err := sub.Next()
		require.Nil(t, err)
		assert.Equal(t, uint64(7), ev.Sequence)
		assert.Equal(t, 3, ev.Records)
		assert.Equal(t, 1024, ev.Bytes)
	}

	// An unsubscribed subscriber's queue closes and Next errors out.
	stream.Unsubscribe(subA)
	_, err := subA.Next()
	assert.NotNil(t, err)

	// The remaining subscriber still receives.
	require.Nil(t, stream.Push(stream.CommitEvent{Sequence: 8, Records: 1, Bytes: 10}))
	ev, err := subB.Next()
	require.Nil(t, err)
	assert.Equal(t, uint64(8), ev.Sequence)

	stream.Shutdown()
	deadline := time.After(5 * time.Second)
	errC := make(chan error, 1)
	go func() {
		_, err := subB.Next()
		errC <- err
	}()
	select {
	case err := <-errC:
		assert.NotNil(t, err)
	case <-deadline:
		t.Fatal("subscriber queue was not closed on shutdown")
	}
}
