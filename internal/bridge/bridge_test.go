package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// existingDevice is a node that always passes the PortExists check, so the
// streaming loop's disappearance probe stays quiet during tests.
const existingDevice = "/dev/null"

// fakePort returns scripted chunks from Read, one per call, then behaves
// like a serial read timeout (or a scripted error) once the script is
// exhausted.
type fakePort struct {
	mu       sync.Mutex
	chunks   [][]byte
	errAfter error // returned once chunks are exhausted; nil = timeout forever
	writes   []byte
	closed   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.chunks) == 0 {
		err := p.errAfter
		p.mu.Unlock()
		if err != nil {
			return 0, err
		}
		// Simulated read timeout tick.
		time.Sleep(5 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := p.chunks[0]
	p.chunks = p.chunks[1:]
	p.mu.Unlock()
	return copy(b, chunk), nil
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, b...)
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.writes)
}

// recordingHandler collects handler calls behind a mutex.
type recordingHandler struct {
	mu       sync.Mutex
	ready    []string
	accepted []RemoteEvent
	acks     []struct {
		msg   string
		stats *Stats
	}
	raw []string
}

func (h *recordingHandler) Ready(device string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = append(h.ready, device)
}

func (h *recordingHandler) Accepted(ev RemoteEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.accepted = append(h.accepted, ev)
}

func (h *recordingHandler) Ack(msg string, stats *Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.acks = append(h.acks, struct {
		msg   string
		stats *Stats
	}{msg, stats})
}

func (h *recordingHandler) Raw(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.raw = append(h.raw, line)
}

func (h *recordingHandler) counts() (ready, accepted, acks, raw int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.ready), len(h.accepted), len(h.acks), len(h.raw)
}

func testBridgeConfig() Config {
	return Config{
		Port:            existingDevice,
		Baud:            115200,
		ReadTimeout:     10 * time.Millisecond,
		SettleDelay:     0,
		ReconnectLimit:  3,
		ReconnectDelay:  time.Millisecond,
		RediscoveryWait: 10 * time.Millisecond,
		AwaitReady:      true,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStreamDispatch(t *testing.T) {
	port := &fakePort{chunks: [][]byte{
		[]byte(`{"status":"ready","device":"NV10 Monitor v1"}` + "\n"),
		// A record split across two reads must still frame correctly.
		[]byte(`{"event":"bill_accepted","channel":2,"value":5,"pul`),
		[]byte(`se_ms":120,"total_bills":7,"total_amount":35}` + "\n"),
		[]byte(`{"status":"ok","msg":"totals reset"}` + "\n"),
		[]byte(`{"status":"ok","total_bills":7,"total_amount":35,"channels":[{"channel":2,"value":5,"count":7}]}` + "\n"),
		[]byte(`{"status":"weird","msg":"??"}` + "\n"),
		[]byte("boot garbage not json\n"),
	}}

	h := &recordingHandler{}
	b := New(testBridgeConfig(), h, zap.NewNop(), func(string, int, time.Duration) (Port, error) {
		return port, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, func() bool {
		ready, accepted, acks, raw := h.counts()
		return ready == 1 && accepted == 1 && acks == 2 && raw == 2
	})
	cancel()
	<-done

	assert.Equal(t, []string{"NV10 Monitor v1"}, h.ready)

	ev := h.accepted[0]
	assert.Equal(t, 2, ev.Channel)
	assert.Equal(t, 5, ev.Value)
	assert.Equal(t, 120*time.Millisecond, ev.Width)
	assert.Equal(t, 7, ev.TotalBills)
	assert.Equal(t, 35, ev.TotalAmount)

	// Plain acknowledgement carries no stats; the one with totals does.
	assert.Equal(t, "totals reset", h.acks[0].msg)
	assert.Nil(t, h.acks[0].stats)
	require.NotNil(t, h.acks[1].stats)
	assert.Equal(t, 7, h.acks[1].stats.TotalBills)
	assert.Equal(t, 35, h.acks[1].stats.TotalAmount)
	require.Len(t, h.acks[1].stats.Channels, 1)
	assert.Equal(t, ChannelStat{Channel: 2, Value: 5, Count: 7}, h.acks[1].stats.Channels[0])

	// Unrecognized-but-valid and malformed lines both surface verbatim.
	assert.Contains(t, h.raw, `{"status":"weird","msg":"??"}`)
	assert.Contains(t, h.raw, "boot garbage not json")
}

func TestReadyTransitionsToStreaming(t *testing.T) {
	port := &fakePort{chunks: [][]byte{
		[]byte(`{"status":"ready","device":"arduino"}` + "\n"),
	}}

	h := &recordingHandler{}
	b := New(testBridgeConfig(), h, zap.NewNop(), func(string, int, time.Duration) (Port, error) {
		return port, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, func() bool { return b.State() == StateStreaming })
	cancel()
	<-done
}

func TestReconnectBound(t *testing.T) {
	var opens int
	var mu sync.Mutex

	// The first connection dies without delivering a record; every reopen
	// after that fails outright. Three consecutive failed attempts end
	// the session.
	b := New(testBridgeConfig(), &recordingHandler{}, zap.NewNop(),
		func(string, int, time.Duration) (Port, error) {
			mu.Lock()
			defer mu.Unlock()
			opens++
			if opens == 1 {
				return &fakePort{errAfter: errors.New("input/output error")}, nil
			}
			return nil, errors.New("device busy")
		})

	err := b.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReconnectExhausted)
	assert.Equal(t, StateFailed, b.State())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 4, opens, "one working connection plus the bound's worth of failed reopens")
}

func TestDeadStreamsKeepReconnecting(t *testing.T) {
	var opens int
	var mu sync.Mutex

	// Every reopen succeeds but the stream always errors before any
	// record arrives. Successful reconnects reset the bound, so the
	// bridge keeps trying well past the consecutive-failure limit.
	b := New(testBridgeConfig(), &recordingHandler{}, zap.NewNop(),
		func(string, int, time.Duration) (Port, error) {
			mu.Lock()
			opens++
			mu.Unlock()
			return &fakePort{errAfter: errors.New("input/output error")}, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opens >= 6
	})
	cancel()
	err := <-done
	assert.NotErrorIs(t, err, ErrReconnectExhausted)
}

func TestSuccessfulReopenResetsCounter(t *testing.T) {
	var opens int
	var mu sync.Mutex

	// Two failed reopens, then a successful one, repeating. The bound is
	// never hit because the counter resets on every successful reconnect.
	b := New(testBridgeConfig(), &recordingHandler{}, zap.NewNop(),
		func(string, int, time.Duration) (Port, error) {
			mu.Lock()
			defer mu.Unlock()
			opens++
			if opens%3 == 1 {
				return &fakePort{errAfter: errors.New("input/output error")}, nil
			}
			return nil, errors.New("device busy")
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return opens >= 8
	})
	cancel()
	err := <-done
	assert.NotErrorIs(t, err, ErrReconnectExhausted)
}

func TestOutboundCommands(t *testing.T) {
	port := &fakePort{}
	b := New(testBridgeConfig(), &recordingHandler{}, zap.NewNop(),
		func(string, int, time.Duration) (Port, error) {
			return port, nil
		})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, func() bool { return b.State() == StateAwaitingReady })

	require.NoError(t, b.SendStatus())
	require.NoError(t, b.SendReset())
	assert.Equal(t, "STATUS\nRESET\n", port.Written())

	cancel()
	<-done
}

func TestSendWhenDisconnected(t *testing.T) {
	b := New(testBridgeConfig(), &recordingHandler{}, zap.NewNop(), nil)
	assert.Error(t, b.SendStatus())
	assert.Error(t, b.SendReset())
}
