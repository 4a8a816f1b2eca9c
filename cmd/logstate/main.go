package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/ui"
)

func main() {
	var dev cli.DeviceFlags
	fs := flag.NewFlagSet("logstate", flag.ExitOnError)
	dev.Register(fs)
	dir := fs.String("dir", ".", "directory for the CSV log")
	interval := fs.Duration("interval", 0, "delay between polls (0 polls back to back)")
	cli.Usage(fs, "[flags] [headstage]")
	fs.Parse(os.Args[1:])
	if err := run(&dev, fs.Arg(0), *dir, *interval); err != nil {
		log.Fatalf("logstate: %v", err)
	}
}

func run(dev *cli.DeviceFlags, headstage, dir string, interval time.Duration) error {
	sess, err := dev.Open(headstage)
	if err != nil {
		return err
	}
	defer sess.Close()
	path, err := sess.OpenLog(dir, "log-", "logstate")
	if err != nil {
		return err
	}
	ui.Greenf("logging %s to %s (ESC to stop)\n", sess.HeadStage.URL, path)

	ctx, cancel := dev.Context()
	defer cancel()
	err = sess.LogState(ctx, interval, func(s models.Sample) {
		ui.Printf("%d,%g,%g,%g,%g\n", s.Timestamp, s.DAC1, s.DAC2, s.ADC1, s.ADC2)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	ui.Warningf("%d rows written to %s\n", sess.Log().Rows(), path)
	return nil
}
