package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/CK6170/Msectrax-go/csvlog"
	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/session"
	"github.com/CK6170/Msectrax-go/ui"
)

type options struct {
	dev       cli.DeviceFlags
	headstage string
	dir       string
	plain     bool
	seed      int64
}

func main() {
	var o options
	fs := flag.NewFlagSet("align", flag.ExitOnError)
	o.dev.Register(fs)
	fs.StringVar(&o.headstage, "headstage", "", "head stage name (default headstage2)")
	fs.StringVar(&o.dir, "dir", ".", "directory for the alignment log")
	fs.BoolVar(&o.plain, "plain", false, "line prompts instead of the full-screen UI")
	fs.Int64Var(&o.seed, "seed", 0, "seed for restart positions (0 picks one)")
	cli.Usage(fs, "[flags] <map.csv>")
	args, err := cli.ParseInterspersed(fs, os.Args[1:])
	if err != nil || len(args) != 1 {
		fs.Usage()
		os.Exit(2)
	}
	if err := run(o, args[0]); err != nil {
		log.Fatalf("align: %v", err)
	}
}

func run(o options, mapPath string) error {
	samples, err := csvlog.ReadFile(mapPath)
	if err != nil {
		return err
	}
	am, err := session.BuildAlignModel(samples, session.DefaultAlignOptions())
	if err != nil {
		return err
	}
	ui.Printf("dac2 = %g*adc1 + %g (R2 %.4f)\n", am.DAC2.Slope, am.DAC2.Intercept, am.DAC2.R2)
	ui.Printf("dac1 = %g*adc2 + %g (R2 %.4f)\n", am.DAC1.Slope, am.DAC1.Intercept, am.DAC1.R2)
	ui.Printf("zero levels: adc1 %g V, adc2 %g V\n", am.ADC1Zero, am.ADC2Zero)

	sess, err := o.dev.Open(o.headstage)
	if err != nil {
		return err
	}
	defer sess.Close()
	path, err := sess.OpenLog(o.dir, "align-", "align")
	if err != nil {
		return err
	}

	var rng *rand.Rand
	if o.seed != 0 {
		rng = rand.New(rand.NewSource(o.seed))
	}
	a := session.NewAligner(sess, am, rng)

	if o.plain {
		ui.Greenf("logging to %s\n", path)
		// the prompt owns stdin, so only signals cancel
		o.dev.NoEsc = true
		ctx, cancel := o.dev.Context()
		defer cancel()
		err := session.RunAlign(ctx, a, ui.NewPromptOperator(os.Stdin, os.Stdout))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	final, err := tea.NewProgram(initialModel(a, path), tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(model); ok && m.lastErr != nil {
		return m.lastErr
	}
	ui.Greenf("%d rows written to %s\n", sess.Log().Rows(), path)
	return nil
}
