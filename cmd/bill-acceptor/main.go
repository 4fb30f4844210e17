// Command bill-acceptor decodes parallel-mode vend pulses from a bill
// acceptor on GPIO, keeps the session ledger, and serves the operator
// command loop.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/sweeney/bill-acceptor/internal/command"
	"github.com/sweeney/bill-acceptor/internal/config"
	"github.com/sweeney/bill-acceptor/internal/gpio"
	"github.com/sweeney/bill-acceptor/internal/ledger"
	"github.com/sweeney/bill-acceptor/internal/logger"
	"github.com/sweeney/bill-acceptor/internal/monitor"
	"github.com/sweeney/bill-acceptor/internal/mqtt"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: bill-acceptor.yaml in . or /etc/bill-acceptor)")
	broker := flag.String("broker", "", "MQTT broker address (overrides config, empty keeps config)")
	printState := flag.Bool("print-state", false, "Print current line levels and exit")
	flag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	if *broker != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.Broker = *broker
	}

	log, err := logger.New(cfg.LoggerSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, v, *printState, log); err != nil {
		log.Fatal("fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, v *viper.Viper, printState bool, log *zap.Logger) error {
	reader, err := gpio.NewRealReader(cfg.PinAssignments())
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	values := ledger.NewValueMap(cfg.ValueAssignments())

	if printState {
		printConnections(reader, values)
		return nil
	}

	book := ledger.New(ledger.WithHistoryCap(cfg.Session.HistoryCap))

	// Hot-reload channel values on config file changes. Future
	// classifications only; recorded events keep their value.
	config.Watch(v, log, func(newValues map[int]int) {
		for ch, val := range newValues {
			if err := values.Set(ch, val); err != nil {
				log.Warn("config reload: skipping channel", zap.Int("channel", ch), zap.Error(err))
			}
		}
		log.Info("channel values reloaded from config")
	})

	var publisher mqtt.Publisher
	if cfg.MQTT.Enabled {
		p, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, log)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher = p

		startup := mqtt.SystemEvent{Timestamp: time.Now(), Event: "STARTUP", Retained: true}
		if err := publisher.PublishSystem(startup); err != nil {
			log.Warn("failed to publish startup event", zap.Error(err))
		}
	}

	mon := monitor.New(reader, cfg.PulseSettings(), values, book, log,
		monitor.WithAcceptedFunc(func(ev ledger.AcceptedEvent) {
			fmt.Println(ledger.RenderAccepted(ev))
			if publisher != nil {
				if err := publisher.PublishAccepted(ev); err != nil {
					log.Warn("publish error", zap.Error(err))
				}
			}
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Info("received signal, shutting down", zap.String("signal", s.String()))
		cancel()
	}()

	monDone := make(chan struct{})
	go func() {
		mon.Run(ctx)
		close(monDone)
	}()

	if cfg.Session.StatsInterval > 0 {
		go statsLoop(ctx, book, values, cfg.Session.StatsInterval)
	}

	log.Info("started",
		zap.Any("values", values.All()),
		zap.Duration("poll", cfg.Pulse.Poll),
		zap.Duration("debounce", cfg.Pulse.Debounce))
	fmt.Println("insert a note... (type 'help' for commands)")

	h := &handler{reader: reader, values: values, book: book, mon: mon, cancel: cancel}
	if err := command.Loop(ctx, os.Stdin, h, log); err != nil && err != context.Canceled {
		log.Warn("command loop ended", zap.Error(err))
	}
	cancel()

	// Bounded grace for the sampling goroutines to observe cancellation.
	select {
	case <-monDone:
	case <-time.After(2 * time.Second):
		log.Warn("sampling loops did not stop in time")
	}

	// The final snapshot is always reported, success or failure.
	snap := book.Snapshot()
	fmt.Println(ledger.RenderText(snap, values))
	if publisher != nil {
		shutdown := mqtt.SystemEvent{
			Timestamp:  time.Now(),
			Event:      "SHUTDOWN",
			Retained:   true,
			RawPayload: ledger.FormatSnapshot(snap, values),
		}
		if err := publisher.PublishSystem(shutdown); err != nil {
			log.Warn("failed to publish shutdown event", zap.Error(err))
		}
	}
	return nil
}

// handler executes operator commands against the shared state.
type handler struct {
	reader gpio.Reader
	values *ledger.ValueMap
	book   *ledger.Ledger
	mon    *monitor.Monitor
	cancel context.CancelFunc
}

func (h *handler) Handle(cmd command.Command) error {
	switch cmd.Kind {
	case command.Reset:
		h.book.Reset()
		fmt.Println("session totals reset")
	case command.Status:
		fmt.Println(ledger.RenderText(h.book.Snapshot(), h.values))
	case command.SetValue:
		if err := h.values.Set(cmd.Channel, cmd.Value); err != nil {
			return err
		}
		fmt.Printf("channel %d set to %d units\n", cmd.Channel, cmd.Value)
	case command.ToggleDiagnostics:
		if h.mon.ToggleDiagnostics() {
			fmt.Println("diagnostics on")
		} else {
			fmt.Println("diagnostics off")
		}
	case command.Connections:
		printConnections(h.reader, h.values)
	case command.Help:
		fmt.Println(command.HelpText)
	case command.Quit:
		h.cancel()
	}
	return nil
}

func printConnections(reader gpio.Reader, values *ledger.ValueMap) {
	for _, ch := range values.Channels() {
		asserted, err := reader.Level(ch)
		switch {
		case err != nil:
			fmt.Printf("  channel %d: read error: %v\n", ch, err)
		case asserted:
			fmt.Printf("  channel %d: LOW (active?)\n", ch)
		default:
			fmt.Printf("  channel %d: HIGH ok\n", ch)
		}
	}
}

func statsLoop(ctx context.Context, book *ledger.Ledger, values *ledger.ValueMap, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := book.Snapshot()
			if snap.TotalCount > 0 {
				fmt.Println(ledger.RenderText(snap, values))
			}
		}
	}
}
