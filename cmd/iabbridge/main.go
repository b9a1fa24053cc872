package main

// iabbridge answers the policy requests of one simulated client until the
// simulator removes the client's listening file.
//
//	iabbridge -client ue3 -temperature 0.5 -policy trained.yaml -pretrained pretrained.yaml

import (
	"context"
	"fmt"
	"github.com/iti/cmdline"
	"github.com/iti/iabstat"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"
)

// cmdlineParameters define variables that may appear on the command line
func cmdlineParameters() *cmdline.CmdParser {
	cp := cmdline.NewCmdParser()
	cp.AddFlag(cmdline.StringFlag, "client", true)       // client name, prefix of the exchanged files
	cp.AddFlag(cmdline.StringFlag, "temperature", false) // softmax exploration temperature
	cp.AddFlag(cmdline.StringFlag, "policy", false)      // trained policy, used when present
	cp.AddFlag(cmdline.StringFlag, "pretrained", true)   // policy used when no trained one exists
	cp.AddFlag(cmdline.StringFlag, "dir", false)         // directory of the exchanged files
	cp.AddFlag(cmdline.StringFlag, "poll", false)        // polling interval, e.g. 100us
	cp.AddFlag(cmdline.BoolFlag, "v", false)             // debug logging
	return cp
}

func stringVar(cp *cmdline.CmdParser, name string) string {
	if !cp.IsLoaded(name) {
		return ""
	}
	return cp.GetVar(name).(string)
}

func main() {
	cp := cmdlineParameters()
	cp.Parse()

	verbose := cp.IsLoaded("v") && cp.GetVar("v").(bool)
	slog.SetDefault(iabstat.NewLogger(os.Stderr, verbose))

	if err := run(cp); err != nil {
		slog.Error("iabbridge failed", "error", err)
		os.Exit(1)
	}
}

func run(cp *cmdline.CmdParser) error {
	client := stringVar(cp, "client")
	policy, source, err := iabstat.LoadPolicy(stringVar(cp, "policy"), stringVar(cp, "pretrained"))
	if err != nil {
		return err
	}
	if text := stringVar(cp, "temperature"); len(text) > 0 {
		policy.Temperature, err = strconv.ParseFloat(text, 64)
		if err != nil {
			return fmt.Errorf("temperature %q: %w", text, err)
		}
	}
	if err := policy.Validate(); err != nil {
		return err
	}
	slog.Info("initializing client", "client", client, "temperature", policy.Temperature, "weights", source)

	dir := stringVar(cp, "dir")
	if len(dir) == 0 {
		dir = "."
	}
	if valid, err := iabstat.CheckDirectories([]string{dir}); !valid {
		return err
	}

	br := iabstat.CreateBridge(dir, client, policy, slog.Default())
	if text := stringVar(cp, "poll"); len(text) > 0 {
		br.PollInterval, err = time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("poll interval %q: %w", text, err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return br.Serve(ctx)
}
