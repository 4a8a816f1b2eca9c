package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/session"
	"github.com/CK6170/Msectrax-go/ui"
)

func main() {
	var dev cli.DeviceFlags
	fs := flag.NewFlagSet("echo", flag.ExitOnError)
	dev.Register(fs)
	interval := fs.Duration("interval", session.DefaultEchoInterval, "delay between echoes")
	debug := fs.Bool("debug", false, "print the sent bytes too")
	cli.Usage(fs, "[flags] [headstage]")
	fs.Parse(os.Args[1:])
	if err := run(&dev, fs.Arg(0), *interval, *debug); err != nil {
		log.Fatalf("echo: %v", err)
	}
}

func run(dev *cli.DeviceFlags, headstage string, interval time.Duration, debug bool) error {
	sess, err := dev.Open(headstage)
	if err != nil {
		return err
	}
	defer sess.Close()
	ctx, cancel := dev.Context()
	defer cancel()

	var n int
	var total time.Duration
	err = sess.Echo(ctx, interval, func(r session.EchoResult) {
		n++
		total += r.RTT
		ui.Debugf(debug, "sent %v\n", r.Sent)
		ui.Printf("%v %v\n", r.Received, r.RTT)
	})
	if n > 0 {
		ui.Greenf("%d echoes, mean round trip %v\n", n, total/time.Duration(n))
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
