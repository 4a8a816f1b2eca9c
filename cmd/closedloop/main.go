package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/internal/server"
	"github.com/CK6170/Msectrax-go/session"
	"github.com/CK6170/Msectrax-go/ui"
)

type options struct {
	dev      cli.DeviceFlags
	interval time.Duration
	actual   bool
	serve    string
}

func main() {
	var o options
	fs := flag.NewFlagSet("closedloop", flag.ExitOnError)
	o.dev.Register(fs)
	fs.DurationVar(&o.interval, "interval", session.DefaultMonitorInterval, "poll interval")
	fs.BoolVar(&o.actual, "actual-cycles", false, "also print the raw QueryActualCycles answer")
	fs.StringVar(&o.serve, "serve", "", "also serve live telemetry on this address (e.g. 127.0.0.1:8090)")
	cli.Usage(fs, "[flags] <headstage>")
	fs.Parse(os.Args[1:])
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	if err := run(o, fs.Arg(0)); err != nil {
		log.Fatalf("closedloop: %v", err)
	}
}

func run(o options, headstage string) error {
	sess, err := o.dev.Open(headstage)
	if err != nil {
		return err
	}
	defer sess.Close()
	ctx, cancel := o.dev.Context()
	defer cancel()

	resp, err := sess.Configure(ctx)
	if err != nil {
		return err
	}
	ui.Greenf("%s configured at %s: %s\n", sess.HeadStage.Name, sess.HeadStage.URL, resp)
	ui.Printf("press ESC to stop\n")

	var srv *server.Server
	if o.serve != "" {
		srv = server.New(server.Options{})
	}
	show := func(u session.StateUpdate) {
		ui.Printf("cycle_rate: %g Hz, cl_rate: %g Hz, loop_time: %g usec\n",
			u.CycleRate, u.ClRate, float64(u.LoopTime)/float64(time.Microsecond))
		ui.Printf("    ADC1: % 8d     ADC2: % 8d       DAC1: % 8d     DAC2: % 8d\n",
			u.State.ADC1, u.State.ADC2, u.State.DAC1, u.State.DAC2)
		if u.ActualCycles != nil {
			ui.Printf("    %s\n", u.ActualCycles)
		}
		if srv != nil {
			srv.Publish(u)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Monitor(gctx, session.MonitorOptions{Interval: o.interval, ActualCycles: o.actual}, show)
	})
	if srv != nil {
		g.Go(func() error { return cli.Serve(gctx, o.serve, srv.Handler()) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	ui.Warningf("stopped\n")
	return nil
}
