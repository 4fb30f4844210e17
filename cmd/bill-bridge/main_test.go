package main

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/bill-acceptor/internal/bridge"
	"github.com/sweeney/bill-acceptor/internal/ledger"
)

// scriptedPort plays back chunks, then behaves like a serial read timeout.
type scriptedPort struct {
	mu     sync.Mutex
	chunks [][]byte
	writes []byte
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.chunks) == 0 {
		p.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		return 0, io.EOF
	}
	chunk := p.chunks[0]
	p.chunks = p.chunks[1:]
	p.mu.Unlock()
	return copy(b, chunk), nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, b...)
	return len(b), nil
}

func (p *scriptedPort) Close() error { return nil }

func (p *scriptedPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.writes)
}

func newTestReporter() *reporter {
	return &reporter{
		values:    ledger.NewValueMap(map[int]int{1: 1, 2: 5, 3: 10, 4: 50}),
		book:      ledger.New(),
		log:       zap.NewNop(),
		statsSeen: make(chan struct{}, 1),
	}
}

func TestReporterSignalsStatsSeen(t *testing.T) {
	rep := newTestReporter()

	rep.Ack("ok", nil)
	select {
	case <-rep.statsSeen:
		t.Fatal("plain acknowledgement must not signal stats")
	default:
	}

	// Repeated stats payloads must never block the signalling side.
	rep.Ack("", &bridge.Stats{TotalBills: 1})
	rep.Ack("", &bridge.Stats{TotalBills: 2})

	select {
	case <-rep.statsSeen:
	default:
		t.Fatal("stats payload did not signal")
	}
}

func TestRequestFinalStatsBeforeStreaming(t *testing.T) {
	rep := newTestReporter()
	br := bridge.New(bridge.Config{Port: "/dev/null"}, rep, zap.NewNop(), nil)

	start := time.Now()
	requestFinalStats(br, rep.statsSeen, time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("a bridge that never streamed must be left alone, waited %v", elapsed)
	}
}

func TestRequestFinalStatsSendsStatus(t *testing.T) {
	port := &scriptedPort{chunks: [][]byte{
		[]byte(`{"status":"ready","device":"x"}` + "\n"),
	}}
	rep := newTestReporter()
	br := bridge.New(bridge.Config{
		Port:            "/dev/null",
		Baud:            115200,
		ReadTimeout:     10 * time.Millisecond,
		ReconnectLimit:  3,
		ReconnectDelay:  time.Millisecond,
		RediscoveryWait: 10 * time.Millisecond,
		AwaitReady:      true,
	}, rep, zap.NewNop(), func(string, int, time.Duration) (bridge.Port, error) {
		return port, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for br.State() != bridge.StateStreaming {
		if time.Now().After(deadline) {
			t.Fatal("bridge never reached streaming")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// No stats acknowledgement arrives; the wait must be bounded.
	start := time.Now()
	requestFinalStats(br, rep.statsSeen, 50*time.Millisecond)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond || elapsed > time.Second {
		t.Errorf("expected a bounded wait around 50ms, waited %v", elapsed)
	}
	if !strings.Contains(port.Written(), "STATUS\n") {
		t.Errorf("expected a STATUS request on the wire, got %q", port.Written())
	}

	// With the acknowledgement already rendered, the wait ends early.
	rep.Ack("", &bridge.Stats{TotalBills: 3, TotalAmount: 15})
	start = time.Now()
	requestFinalStats(br, rep.statsSeen, time.Second)
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected the rendered stats to end the wait, waited %v", elapsed)
	}

	cancel()
	<-done
}
