package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/session"
	"github.com/CK6170/Msectrax-go/ui"
)

func main() {
	var dev cli.DeviceFlags
	fs := flag.NewFlagSet("qpdscan", flag.ExitOnError)
	dev.Register(fs)
	dir := fs.String("dir", ".", "directory for the CSV log")
	passes := fs.Int("passes", 0, "number of sweeps (0 repeats until stopped)")
	cli.Usage(fs, "[flags] <headstage> d1min d1max d1step d2min d2max d2step")
	args, err := cli.ParseInterspersed(fs, os.Args[1:])
	if err != nil || len(args) != 7 {
		fs.Usage()
		os.Exit(2)
	}
	grid, err := parseGrid(args[1:])
	if err != nil {
		log.Fatalf("qpdscan: %v", err)
	}
	if err := run(&dev, args[0], grid, *dir, *passes); err != nil {
		log.Fatalf("qpdscan: %v", err)
	}
}

func parseGrid(args []string) (session.Grid, error) {
	var n [6]int
	for i, a := range args {
		v, err := strconv.Atoi(a)
		if err != nil {
			return session.Grid{}, fmt.Errorf("argument %d: %w", i+2, err)
		}
		n[i] = v
	}
	g := session.Grid{
		DAC1: session.Axis{Min: n[0], Max: n[1], Step: n[2]},
		DAC2: session.Axis{Min: n[3], Max: n[4], Step: n[5]},
	}
	return g, g.Validate()
}

func run(dev *cli.DeviceFlags, headstage string, grid session.Grid, dir string, passes int) error {
	sess, err := dev.Open(headstage)
	if err != nil {
		return err
	}
	defer sess.Close()
	path, err := sess.OpenLog(dir, "", "qpdscan")
	if err != nil {
		return err
	}
	ui.Greenf("scanning %d points per pass into %s (ESC to stop)\n", grid.Points(), path)

	ctx, cancel := dev.Context()
	defer cancel()
	err = sess.Scan(ctx, grid, passes, func(p session.ScanProgress) {
		s := p.Sample
		ui.Printf("[%d %d/%d] %d,%g,%g,%g,%g\n", p.Pass, p.Index, p.Total, s.Timestamp, s.DAC1, s.DAC2, s.ADC1, s.ADC2)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	ui.Warningf("%d rows written to %s\n", sess.Log().Rows(), path)
	return nil
}
