// Command murk-console is an interactive operator REPL for a running
// in-process demo world: submit commands and print preflight. It does not
// mutate propagators or schema — those are construction-time-only per the
// engine's contract (§4.2) — it only drives the Submit/Preflight surface a
// running RealtimeWorld already exposes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"go.uber.org/zap"

	"github.com/murk-sim/murk"
	"github.com/murk-sim/murk/engine"
	"github.com/murk-sim/murk/internal/demoworld"
)

const promptPrefix = "murk> "

func main() {
	configPath := flag.String("config", "murk-server.toml", "path to the TOML world configuration shared with murk-server")
	flag.Parse()

	logger := zap.NewNop()

	cfg, err := demoworld.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	world, err := demoworld.Build(cfg, logger, nil, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "build world:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	world.Run(ctx)
	defer world.Shutdown(2*time.Second, 2*cfg.MaxEpochHold())

	c := &console{world: world}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := prompt.Input(promptPrefix, c.complete,
			prompt.OptionTitle("murk console"),
			prompt.OptionPrefix(promptPrefix),
			prompt.OptionHistory(c.history),
			prompt.OptionCompletionOnDown(),
			prompt.OptionMaxSuggestion(12),
		)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.history = append(c.history, line)
		if c.execute(line) {
			return
		}
	}
}

type console struct {
	world   *engine.RealtimeWorld
	history []string
}

func (c *console) complete(doc prompt.Document) []prompt.Suggest {
	suggestions := []prompt.Suggest{
		{Text: "preflight", Description: "print the non-blocking health probe"},
		{Text: "set_param", Description: "set_param <name> <value>"},
		{Text: "quit", Description: "shut down and exit"},
	}
	sort.Slice(suggestions, func(i, j int) bool { return suggestions[i].Text < suggestions[j].Text })
	return prompt.FilterHasPrefix(suggestions, doc.GetWordBeforeCursor(), true)
}

// execute runs one line, returning true if the console should exit.
func (c *console) execute(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "quit", "exit":
		return true
	case "preflight":
		r := c.world.Preflight()
		fmt.Printf("ingress_depth=%d newest_tick=%d ring_occupancy=%d max_skew=%d tick_disabled=%v\n",
			r.IngressDepth, r.NewestTickID, r.RingOccupancy, r.CurrentMaxSkew, r.TickDisabled)
	case "set_param":
		if len(fields) != 3 {
			fmt.Println("usage: set_param <name> <value>")
			return false
		}
		value, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			fmt.Println("bad value:", err)
			return false
		}
		cmd := murk.Command{
			Payload: murk.PayloadSetParameter,
			SetParm: &murk.SetParameterPayload{Name: fields[1], Value: value},
		}
		receipts := c.world.Submit([]murk.Command{cmd})
		for _, r := range receipts {
			fmt.Printf("accepted=%v code=%s\n", r.Accepted, r.Code)
		}
	default:
		fmt.Println("unknown command:", fields[0])
	}
	return false
}
