package liveevents

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	hub := NewHub()
	hub.Publish("org-1", ReportEvent{ReportID: "1"})

	sub, backlog, err := hub.Subscribe("org-1")
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, backlog)
}

func TestSubscribersOnlySeeTheirOrg(t *testing.T) {
	hub := NewHub()
	one, _, err := hub.Subscribe("org-1")
	require.NoError(t, err)
	defer one.Close()
	two, _, err := hub.Subscribe("org-2")
	require.NoError(t, err)
	defer two.Close()

	hub.Publish("org-1", ReportEvent{ReportID: "a", Total: 7})

	got := <-one.Events()
	assert.Equal(t, "a", got.ReportID)
	assert.Equal(t, int64(7), got.Total)
	select {
	case ev := <-two.Events():
		t.Fatalf("org-2 received %+v", ev)
	default:
	}
}

func TestBacklogIsBounded(t *testing.T) {
	hub := NewHub()
	keep, _, err := hub.Subscribe("org-1")
	require.NoError(t, err)
	defer keep.Close()

	for i := 0; i < DefaultBufferSize+10; i++ {
		hub.Publish("org-1", ReportEvent{ReportID: fmt.Sprint(i)})
	}

	late, backlog, err := hub.Subscribe("org-1")
	require.NoError(t, err)
	defer late.Close()
	require.Len(t, backlog, DefaultBufferSize)
	assert.Equal(t, "10", backlog[0].ReportID)

	// The slow subscriber kept only what fit in its channel.
	assert.Len(t, keep.Events(), DefaultSubscriberBuffer)
}

func TestCloseReleasesStream(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe("org-1")
	require.NoError(t, err)
	sub.Close()
	sub.Close()

	hub.mu.RLock()
	_, ok := hub.orgs["org-1"]
	hub.mu.RUnlock()
	assert.False(t, ok)

	_, _, err = hub.Subscribe(" ")
	assert.ErrorIs(t, err, ErrInvalidOrgID)
	var nilHub *Hub
	_, _, err = nilHub.Subscribe("org-1")
	assert.ErrorIs(t, err, ErrHubUnavailable)
}
