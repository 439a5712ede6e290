package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{"hello", `{"op":10,"d":{"heartbeat_interval":41250}}`, Hello{HeartbeatInterval: 41250 * time.Millisecond}},
		{"invalid session resumable", `{"op":9,"d":true}`, InvalidSession{Resumable: true}},
		{"invalid session", `{"op":9,"d":false}`, InvalidSession{}},
		{"ack", `{"op":11}`, HeartbeatAck{}},
		{"heartbeat request", `{"op":1,"d":null}`, heartbeatRequest{}},
		{"reconnect", `{"op":7,"d":null}`, reconnectRequest{}},
		{
			"dispatch",
			`{"op":0,"t":"MESSAGE_DELETE","s":42,"d":{"id":"1","channel_id":"2"}}`,
			Dispatch{Sequence: 42, Type: EventMessageDelete, Data: json.RawMessage(`{"id":"1","channel_id":"2"}`)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeEventRejectsMalformedFrames(t *testing.T) {
	for _, frame := range []string{
		`{"t":"READY","s":1,"d":{}}`,
		`{"op":0,"s":1,"d":{}}`,
		`{"op":0,"t":"READY","d":{}}`,
		`{"op":10,"d":{"heartbeat_interval":0}}`,
		`{"op":99}`,
		`not json`,
	} {
		_, err := DecodeEvent([]byte(frame))
		assert.Error(t, err, frame)
	}
}

func TestEncodeCommand(t *testing.T) {
	seq := int64(7)
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"heartbeat null", Heartbeat{}, `{"op":1,"d":null}`},
		{"heartbeat", Heartbeat{Sequence: &seq}, `{"op":1,"d":7}`},
		{
			"resume",
			Resume{SessionData{Token: "tok", SessionID: "abc", Sequence: 9}},
			`{"op":6,"d":{"token":"tok","session_id":"abc","seq":9}}`,
		},
		{
			"subscriptions",
			UpdateSubscriptions{GuildID: "g1", Typing: true, Threads: true, Activities: true},
			`{"op":14,"d":{"guild_id":"g1","typing":true,"threads":true,"activities":true}}`,
		},
		{
			"members",
			RequestGuildMembers{GuildID: "g1", UserIDs: []string{"u1", "u2"}},
			`{"op":8,"d":{"guild_id":"g1","user_ids":["u1","u2"],"limit":0,"presences":false}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := EncodeCommand(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestIdentifyFrame(t *testing.T) {
	b, err := EncodeCommand(Identify{
		Token:        "tok",
		Properties:   IdentifyProperties{OS: "linux", Browser: "chatgw", Device: "chatgw"},
		Capabilities: DefaultCapabilities,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":2,"d":{"token":"tok","properties":{"os":"linux","browser":"chatgw","device":"chatgw"},"capabilities":253}}`, string(b))

	cmd, err := DecodeCommand(b)
	require.NoError(t, err)
	identify, ok := cmd.(Identify)
	require.True(t, ok)
	assert.Equal(t, "tok", identify.Token)
	assert.Equal(t, 253, identify.Capabilities)
}

func TestDecodeCommandHeartbeat(t *testing.T) {
	cmd, err := DecodeCommand([]byte(`{"op":1,"d":12}`))
	require.NoError(t, err)
	hb, ok := cmd.(Heartbeat)
	require.True(t, ok)
	require.NotNil(t, hb.Sequence)
	assert.Equal(t, int64(12), *hb.Sequence)

	cmd, err = DecodeCommand([]byte(`{"op":1,"d":null}`))
	require.NoError(t, err)
	assert.Nil(t, cmd.(Heartbeat).Sequence)
}

func TestEncodeEventMatchesDecode(t *testing.T) {
	for _, ev := range []Event{
		Hello{HeartbeatInterval: time.Second},
		InvalidSession{Resumable: true},
		HeartbeatAck{},
		Dispatch{Sequence: 3, Type: EventResumed, Data: json.RawMessage(`null`)},
	} {
		b, err := EncodeEvent(ev)
		require.NoError(t, err)
		got, err := DecodeEvent(b)
		require.NoError(t, err)
		assert.Equal(t, ev, got)
	}

	_, err := EncodeEvent(TransportError{})
	assert.Error(t, err)
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 4*time.Second, DefaultBackoff.Delay(0))
	assert.Equal(t, 6*time.Second, DefaultBackoff.Delay(1))
	assert.Equal(t, 24*time.Second, DefaultBackoff.Delay(10))
	assert.Equal(t, 4*time.Second, DefaultBackoff.Delay(-1))
}

func TestBroadcastDeliversInOrder(t *testing.T) {
	b := newBroadcast[int](4)
	ch, cancel := b.subscribe(0)
	defer cancel()

	go func() {
		for i := 1; i <= 10; i++ {
			b.publish(i)
		}
		b.close()
	}()

	var got []int
	for v := range ch {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, got)
}

func TestBroadcastCancelUnblocksPublisher(t *testing.T) {
	b := newBroadcast[int](1)
	_, cancel := b.subscribe(0) // buffer already full

	done := make(chan struct{})
	go func() {
		b.publish(1)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after cancel")
	}
	b.close()
}

func TestBroadcastSubscribeAfterClose(t *testing.T) {
	b := newBroadcast[string](1)
	b.close()
	ch, _ := b.subscribe("first")
	_, ok := <-ch
	assert.False(t, ok)
}
