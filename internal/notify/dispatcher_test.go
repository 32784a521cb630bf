// ABOUTME: Tests for notification fan-out
// ABOUTME: Covers isolated failure, audience isolation, ordering, timeouts, and the reservation scenario

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_NewReservationReachesAdmin(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	_, tr := openTestChannel(t, reg, AdminBroadcast, adminSession)

	payload := map[string]any{
		"id":         "r1",
		"vehicle":    map[string]string{"brand": "BMW", "model": "X5"},
		"totalPrice": 150000,
	}
	summary, err := d.Dispatch(t.Context(), KindNewReservation, payload, AdminBroadcast)
	require.NoError(t, err)
	assert.Equal(t, Summary{Delivered: 1}, summary)

	msgs := tr.Messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, KindNewReservation, msgs[0].Type)

	var data struct {
		ID      string `json:"id"`
		Vehicle struct {
			Brand string `json:"brand"`
			Model string `json:"model"`
		} `json:"vehicle"`
		TotalPrice float64 `json:"totalPrice"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Data, &data))
	assert.Equal(t, "r1", data.ID)
	assert.Equal(t, "BMW", data.Vehicle.Brand)
	assert.Equal(t, float64(150000), data.TotalPrice)
}

func TestDispatcher_IsolatedFailure(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	_, tr1 := openTestChannel(t, reg, AdminBroadcast, adminSession)
	c2, tr2 := openTestChannel(t, reg, AdminBroadcast, adminSession)
	_, tr3 := openTestChannel(t, reg, AdminBroadcast, adminSession)
	tr2.SetFail(true)

	summary, err := d.Dispatch(t.Context(), KindNewReservation, map[string]string{"id": "r1"}, AdminBroadcast)

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Delivered)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, tr1.Messages(t), 1)
	assert.Len(t, tr3.Messages(t), 1)
	assert.False(t, c2.IsActive())
	_, ok := registered(reg, c2.ID())
	assert.False(t, ok)
	assert.Equal(t, 2, reg.Len())
}

func TestDispatcher_AudienceIsolation(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	_, trX := openTestChannel(t, reg, Conversation("X"), userSession)
	_, trY := openTestChannel(t, reg, Conversation("Y"), userSession)
	_, trUser := openTestChannel(t, reg, User("user-1"), userSession)
	_, trAdmin := openTestChannel(t, reg, AdminBroadcast, adminSession)

	summary, err := d.Dispatch(t.Context(), KindNewMessage, map[string]string{"content": "hi"}, Conversation("X"))
	require.NoError(t, err)

	assert.Equal(t, Summary{Delivered: 1}, summary)
	assert.Len(t, trX.Messages(t), 1)
	assert.Empty(t, trY.Messages(t))
	assert.Empty(t, trUser.Messages(t))
	assert.Empty(t, trAdmin.Messages(t))
}

func TestDispatcher_PreservesDispatchOrderPerChannel(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	_, tr := openTestChannel(t, reg, Conversation("v1"), userSession)

	var want []string
	for i := range 20 {
		ev, err := NewEvent(KindNewMessage, Conversation("v1"), map[string]int{"n": i}, fixedTime(i))
		require.NoError(t, err)
		want = append(want, ev.ID)
		d.DispatchEvent(t.Context(), ev)
	}

	assert.Equal(t, want, messageIDs(tr.Messages(t)))
}

func TestDispatcher_ConcurrentDispatchesNeverInterleaveFrames(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	_, tr := openTestChannel(t, reg, AdminBroadcast, adminSession)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), KindNewReservation, map[string]string{"id": fmt.Sprintf("r%d", n)}, AdminBroadcast)
		}(i)
	}
	wg.Wait()

	assert.Len(t, tr.Messages(t), 10)
}

func TestDispatcher_ExpiredContextCountsFailedButKeepsChannels(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	c1, tr1 := openTestChannel(t, reg, AdminBroadcast, adminSession)
	openTestChannel(t, reg, AdminBroadcast, adminSession)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := d.Dispatch(ctx, KindNewReservation, map[string]string{"id": "r1"}, AdminBroadcast)
	require.NoError(t, err)

	assert.Equal(t, Summary{Failed: 2}, summary)
	assert.Empty(t, tr1.Messages(t))
	assert.True(t, c1.IsActive())
	assert.Equal(t, 2, reg.Len())
}

func TestDispatcher_RejectsUndispatchableEvents(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	_, err := d.Dispatch(t.Context(), KindPing, nil, AdminBroadcast)
	assert.Error(t, err)

	_, err = d.Dispatch(t.Context(), KindNewMessage, nil, "nobody")
	assert.ErrorIs(t, err, ErrInvalidAudience)
}

func TestDispatcher_NoChannels(t *testing.T) {
	reg := NewRegistry(0, nil)
	defer reg.Shutdown()
	d := NewDispatcher(reg, 0, nil)

	summary, err := d.Dispatch(t.Context(), KindNewReservation, map[string]string{"id": "r1"}, AdminBroadcast)

	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
}
