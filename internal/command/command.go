// Package command parses operator input into a closed command set and runs
// the interactive command loop.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a command.
type Kind int

const (
	// Reset zeroes the session ledger.
	Reset Kind = iota
	// Status requests a ledger snapshot.
	Status
	// SetValue changes one channel's note value.
	SetValue
	// ToggleDiagnostics flips verbose per-sample transition logging.
	ToggleDiagnostics
	// Connections reports the current level of each vend line.
	Connections
	// Help lists the available commands.
	Help
	// Quit initiates shutdown.
	Quit
)

// Command is a parsed operator command with its validated payload.
type Command struct {
	Kind    Kind
	Channel int // SetValue only
	Value   int // SetValue only
}

// ErrUnknownCommand marks unrecognized input. Recoverable: the loop reports
// it and keeps reading.
var ErrUnknownCommand = errors.New("unknown command")

// Parse turns one input line into a command. Accepted forms:
//
//	reset | r
//	status | stats | s
//	set <channel> <value>  (also the short form v<channel>=<value>)
//	diag | d
//	connections | c
//	help | h
//	quit | q | exit
func Parse(line string) (Command, error) {
	line = strings.TrimSpace(strings.ToLower(line))

	switch line {
	case "reset", "r":
		return Command{Kind: Reset}, nil
	case "status", "stats", "s":
		return Command{Kind: Status}, nil
	case "diag", "d":
		return Command{Kind: ToggleDiagnostics}, nil
	case "connections", "c":
		return Command{Kind: Connections}, nil
	case "help", "h":
		return Command{Kind: Help}, nil
	case "quit", "q", "exit":
		return Command{Kind: Quit}, nil
	}

	if fields := strings.Fields(line); len(fields) == 3 && fields[0] == "set" {
		return parseSetValue(fields[1], fields[2])
	}

	// Legacy short form: v1=10.
	if strings.HasPrefix(line, "v") {
		if ch, val, ok := strings.Cut(line[1:], "="); ok {
			return parseSetValue(ch, val)
		}
	}

	return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, line)
}

func parseSetValue(chStr, valStr string) (Command, error) {
	ch, err := strconv.Atoi(strings.TrimSpace(chStr))
	if err != nil {
		return Command{}, fmt.Errorf("set: bad channel %q", chStr)
	}
	val, err := strconv.Atoi(strings.TrimSpace(valStr))
	if err != nil {
		return Command{}, fmt.Errorf("set: bad value %q", valStr)
	}
	if val <= 0 {
		return Command{}, fmt.Errorf("set: value must be positive, got %d", val)
	}
	return Command{Kind: SetValue, Channel: ch, Value: val}, nil
}

// HelpText lists the command vocabulary for the operator.
const HelpText = `commands:
  reset | r            zero the session totals
  status | s           print the session snapshot
  set <ch> <value>     change a channel's note value
  diag | d             toggle per-sample diagnostics
  connections | c      show vend line levels
  help | h             this list
  quit | q             shut down`
