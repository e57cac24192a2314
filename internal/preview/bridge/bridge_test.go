package bridge_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kai9987kai/single-file-lab-studio/internal/preview/bridge"
	"github.com/kai9987kai/single-file-lab-studio/tests/helpers/testutil"
)

type counter struct {
	mu       sync.Mutex
	dropped  map[string]int
	accepted map[string]int
}

func newCounter() *counter {
	return &counter{dropped: map[string]int{}, accepted: map[string]int{}}
}

func (c *counter) FrameDropped(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped[reason]++
}

func (c *counter) FrameAccepted(level string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted[level]++
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		want    bridge.ConsoleMessage
	}{
		{
			name: "log message",
			raw:  `{"isConsoleEvent":true,"level":"log","args":["hi"]}`,
			want: bridge.ConsoleMessage{IsConsoleEvent: true, Level: bridge.LevelLog, Args: []string{"hi"}},
		},
		{
			name: "no args",
			raw:  `{"isConsoleEvent":true,"level":"info"}`,
			want: bridge.ConsoleMessage{IsConsoleEvent: true, Level: bridge.LevelInfo, Args: []string{}},
		},
		{
			name: "extra fields ignored",
			raw:  `{"isConsoleEvent":true,"level":"warn","args":["a","b"],"source":"x"}`,
			want: bridge.ConsoleMessage{IsConsoleEvent: true, Level: bridge.LevelWarn, Args: []string{"a", "b"}},
		},
		{name: "missing tag", raw: `{"level":"log","args":["hi"]}`, wantErr: true},
		{name: "false tag", raw: `{"isConsoleEvent":false,"level":"log","args":["hi"]}`, wantErr: true},
		{name: "string tag", raw: `{"isConsoleEvent":"true","level":"log","args":["hi"]}`, wantErr: true},
		{name: "unknown level", raw: `{"isConsoleEvent":true,"level":"debug","args":["hi"]}`, wantErr: true},
		{name: "non string args", raw: `{"isConsoleEvent":true,"level":"log","args":[1]}`, wantErr: true},
		{name: "not json", raw: `hello`, wantErr: true},
		{name: "array", raw: `[1,2]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bridge.Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, bridge.ErrFraming)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	raw, err := bridge.Encode(bridge.ConsoleMessage{Level: bridge.LevelError, Args: []string{"boom"}})
	require.NoError(t, err)

	msg, err := bridge.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "boom", msg.Text())
	assert.True(t, msg.IsConsoleEvent)
}

func TestLevelValid(t *testing.T) {
	tests := []struct {
		level bridge.Level
		want  bool
	}{
		{bridge.LevelLog, true},
		{bridge.LevelWarn, true},
		{bridge.LevelError, true},
		{bridge.LevelInfo, true},
		{"debug", false},
		{"trace", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.Valid(), "level %q", tt.level)
	}
}

func TestReceive(t *testing.T) {
	c := newCounter()
	b := bridge.New(nil).WithMetrics(c)

	var got []bridge.ConsoleMessage
	b.OnFromSandbox(func(m bridge.ConsoleMessage) { got = append(got, m) })

	assert.True(t, b.Receive(testutil.ConsoleFrame(t, bridge.LevelLog, "hi")))
	assert.False(t, b.Receive([]byte(`{"level":"log","args":["spoof"]}`)))
	assert.False(t, b.Receive([]byte(`garbage`)))

	require.Len(t, got, 1)
	assert.Equal(t, []string{"hi"}, got[0].Args)
	assert.Equal(t, uint64(2), b.Dropped())
	assert.Equal(t, uint64(1), b.Accepted())
	assert.Equal(t, 2, c.dropped["framing"])
	assert.Equal(t, 1, c.accepted["log"])
}

func TestReceiveWithoutHandler(t *testing.T) {
	b := bridge.New(nil)
	assert.False(t, b.Receive(testutil.ConsoleFrame(t, bridge.LevelLog, "hi")))
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestSendToSandbox(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(nil)

	// No transport yet: retained for replay.
	require.NoError(t, b.SendToSandbox(ctx, bridge.Delivery{Revision: 1, Content: "<p>1</p>"}))
	last, ok := b.Last()
	require.True(t, ok)
	assert.Equal(t, bridge.FullReload, last.Policy)

	tr := testutil.NewMockTransport(t)
	require.NoError(t, b.Attach(ctx, tr))
	assert.True(t, b.Attached())

	require.NoError(t, b.SendToSandbox(ctx, bridge.Delivery{Revision: 2, Content: "<p>2</p>"}))

	deliveries := tr.Deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, uint64(1), deliveries[0].Revision, "attach replays the last delivery")
	assert.Equal(t, "<p>2</p>", deliveries[1].Content)
	assert.Equal(t, bridge.FullReload, deliveries[1].Policy)
}

func TestAttachReplacesTransport(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(nil)

	first := testutil.NewMockTransport(t)
	second := testutil.NewMockTransport(t)

	require.NoError(t, b.Attach(ctx, first))
	require.NoError(t, b.Attach(ctx, second))
	first.AssertCalled(t, "Close")

	assert.False(t, b.Detach(first))
	assert.True(t, b.Detach(second))
	assert.False(t, b.Attached())
}

func TestDeliverError(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(nil)

	tr := new(testutil.MockTransport)
	tr.On("Deliver", mock.Anything, mock.Anything).Return(bridge.ErrTransportClosed)
	tr.On("Close").Return(nil).Maybe()
	require.NoError(t, b.Attach(ctx, tr))

	err := b.SendToSandbox(ctx, bridge.Delivery{Revision: 7})
	assert.ErrorIs(t, err, bridge.ErrTransportClosed)
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	b := bridge.New(nil)
	tr := testutil.NewMockTransport(t)
	require.NoError(t, b.Attach(ctx, tr))

	handled := 0
	b.OnFromSandbox(func(bridge.ConsoleMessage) { handled++ })

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	tr.AssertNumberOfCalls(t, "Close", 1)

	assert.True(t, errors.Is(b.SendToSandbox(ctx, bridge.Delivery{}), bridge.ErrClosed))
	assert.ErrorIs(t, b.Attach(ctx, tr), bridge.ErrClosed)
	assert.False(t, b.Receive(testutil.ConsoleFrame(t, bridge.LevelLog, "late")))
	assert.Equal(t, 0, handled)
}
