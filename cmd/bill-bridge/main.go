// Command bill-bridge monitors a bill acceptor through its secondary
// controller over USB-serial, decoding the controller's JSON report stream
// and relaying operator commands to it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/bill-acceptor/internal/bridge"
	"github.com/sweeney/bill-acceptor/internal/command"
	"github.com/sweeney/bill-acceptor/internal/config"
	"github.com/sweeney/bill-acceptor/internal/ledger"
	"github.com/sweeney/bill-acceptor/internal/logger"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: bill-acceptor.yaml in . or /etc/bill-acceptor)")
	port := flag.String("port", "", "serial device (overrides config, empty enables auto-discovery)")
	flag.Parse()

	cfg, _, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Serial.Port = *port
	}

	log, err := logger.New(cfg.LoggerSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	values := ledger.NewValueMap(cfg.ValueAssignments())
	book := ledger.New(ledger.WithHistoryCap(cfg.Session.HistoryCap))

	h := &reporter{values: values, book: book, log: log, statsSeen: make(chan struct{}, 1)}
	br := bridge.New(bridge.Config{
		Port:            cfg.Serial.Port,
		Baud:            cfg.Serial.BaudRate,
		ReadTimeout:     cfg.Serial.ReadTimeout,
		SettleDelay:     cfg.Serial.SettleDelay,
		ReconnectLimit:  cfg.Serial.ReconnectLimit,
		ReconnectDelay:  cfg.Serial.ReconnectDelay,
		RediscoveryWait: cfg.Serial.RediscoveryWait,
		AwaitReady:      cfg.Serial.AwaitReady,
	}, h, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// On shutdown the remote's totals are requested one last time so the
	// authoritative numbers are rendered before the link goes down.
	var finishOnce sync.Once
	finish := func() {
		finishOnce.Do(func() {
			requestFinalStats(br, h.statsSeen, 2*time.Second)
			cancel()
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", s.String()))
		finish()
	}()

	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- br.Run(ctx) }()

	go func() {
		cmdH := &relay{bridge: br, shutdown: finish}
		if err := command.Loop(ctx, os.Stdin, cmdH, log); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("command loop ended", zap.Error(err))
		}
		finish()
	}()

	fmt.Println("insert a note... (status/reset/quit)")

	err := <-bridgeErr
	cancel()

	// The final snapshot is always reported, success or failure.
	fmt.Println(ledger.RenderText(book.Snapshot(), values))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// requestFinalStats asks the far end for its authoritative totals and waits
// a bounded time for the acknowledgement to arrive and be rendered. A
// bridge that is no longer streaming is left alone.
func requestFinalStats(br *bridge.Bridge, statsSeen <-chan struct{}, wait time.Duration) {
	if br.State() != bridge.StateStreaming {
		return
	}
	if err := br.SendStatus(); err != nil {
		return
	}
	select {
	case <-statsSeen:
	case <-time.After(wait):
	}
}

// reporter renders decoded stream records and mirrors accepted events into
// the local ledger. Remote totals are authoritative for each report; the
// local ledger only feeds the final snapshot and local history.
type reporter struct {
	values    *ledger.ValueMap
	book      *ledger.Ledger
	log       *zap.Logger
	statsSeen chan struct{}
}

func (r *reporter) Ready(device string) {
	if device == "" {
		device = "controller"
	}
	fmt.Printf("%s connected and ready\n", device)
}

func (r *reporter) Accepted(ev bridge.RemoteEvent) {
	r.book.Record(ledger.AcceptedEvent{
		Channel: ev.Channel,
		Value:   ev.Value,
		Width:   ev.Width,
		Time:    ev.Time,
	})
	fmt.Printf("note accepted: channel %d, value %d, pulse %.0f ms (remote totals: %d notes, %d units)\n",
		ev.Channel, ev.Value, float64(ev.Width.Milliseconds()), ev.TotalBills, ev.TotalAmount)
}

func (r *reporter) Ack(msg string, stats *bridge.Stats) {
	if msg != "" {
		fmt.Printf("ok: %s\n", msg)
	}
	if stats != nil {
		fmt.Printf("remote totals: %d notes, %d units\n", stats.TotalBills, stats.TotalAmount)
		for _, ch := range stats.Channels {
			if ch.Count == 0 {
				continue
			}
			fmt.Printf("  channel %d (%d units): %d notes = %d units\n",
				ch.Channel, ch.Value, ch.Count, ch.Count*ch.Value)
		}
		if r.statsSeen != nil {
			select {
			case r.statsSeen <- struct{}{}:
			default:
			}
		}
	}
}

func (r *reporter) Raw(line string) {
	fmt.Printf("[controller] %s\n", line)
}

// relay translates operator commands into outbound bridge tokens. Commands
// that only make sense with local sampling are rejected, not fatal.
type relay struct {
	bridge   *bridge.Bridge
	shutdown func()
}

func (c *relay) Handle(cmd command.Command) error {
	switch cmd.Kind {
	case command.Reset:
		fmt.Println("requesting remote reset...")
		return c.bridge.SendReset()
	case command.Status:
		fmt.Println("requesting remote statistics...")
		return c.bridge.SendStatus()
	case command.Help:
		fmt.Println(command.HelpText)
		return nil
	case command.Quit:
		c.shutdown()
		return nil
	default:
		return fmt.Errorf("command not supported in bridge mode")
	}
}
