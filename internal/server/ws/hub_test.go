package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/djinnmarket/internal/domain"
)

type chanBus struct {
	chans     map[string]chan []byte
	stream    []domain.StreamMessage
	readSince string
}

func newChanBus() *chanBus {
	b := &chanBus{chans: map[string]chan []byte{}}
	for _, ch := range Channels {
		b.chans[ch] = make(chan []byte, 8)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	if stream != domain.StreamTrades {
		return nil, nil
	}
	b.readSince = lastID
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

func TestHubRelaysEvents(t *testing.T) {
	bus := newChanBus()
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"id":"t1","market_id":"m1"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	assert.Equal(t, domain.ChannelTrades, env.Channel)
	assert.JSONEq(t, `{"id":"t1","market_id":"m1"}`, string(env.Data))

	cancel()
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestHubReplaysTradesSince(t *testing.T) {
	bus := newChanBus()
	bus.stream = []domain.StreamMessage{
		{ID: "1-0", Payload: []byte(`{"id":"t1","market_id":"m1"}`)},
		{ID: "2-0", Payload: []byte(`{"id":"t2","market_id":"m1"}`)},
		{ID: "3-0", Payload: []byte(`not json`)},
	}
	hub := NewHub(bus, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?since=1-0", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "1-0", bus.readSince)

	require.NoError(t, bus.Publish(ctx, domain.ChannelTrades, []byte(`{"id":"t4","market_id":"m1"}`)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []Envelope
	for range 2 {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		got = append(got, env)
	}
	assert.Equal(t, "2-0", got[0].ID)
	assert.JSONEq(t, `{"id":"t2","market_id":"m1"}`, string(got[0].Data))
	assert.Empty(t, got[1].ID)
	assert.JSONEq(t, `{"id":"t4","market_id":"m1"}`, string(got[1].Data))
}

func TestClientFilters(t *testing.T) {
	c := &client{subs: map[string]bool{domain.ChannelTrades: true, domain.ChannelPrices: true}, markets: map[string]bool{}}
	assert.True(t, c.wants(domain.ChannelTrades, "m1"))

	c.apply(subscribeMsg{Action: "subscribe", Markets: []string{"m2"}})
	assert.False(t, c.wants(domain.ChannelTrades, "m1"))
	assert.True(t, c.wants(domain.ChannelTrades, "m2"))

	c.apply(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPrices}})
	assert.False(t, c.wants(domain.ChannelPrices, "m2"))

	c.apply(subscribeMsg{Action: "unsubscribe", Markets: []string{"m2"}})
	assert.True(t, c.wants(domain.ChannelTrades, "m1"))
}

func TestNewBroadcastRejectsMalformed(t *testing.T) {
	_, err := newBroadcast(domain.ChannelTrades, []byte("not json"))
	require.Error(t, err)

	msg, err := newBroadcast(domain.ChannelPrices, []byte(`{"market_id":"m9","price":0.1}`))
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.marketID)
}
