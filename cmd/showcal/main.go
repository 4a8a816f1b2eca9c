package main

import (
	"flag"
	"log"
	"os"

	"github.com/CK6170/Msectrax-go/calib"
	"github.com/CK6170/Msectrax-go/internal/cli"
)

func main() {
	fs := flag.NewFlagSet("showcal", flag.ExitOnError)
	noCal := fs.Bool("no-cal", false, "skip the angle fit")
	noPlot := fs.Bool("no-plot", false, "do not write the PNG figures")
	cli.Usage(fs, "<csv> [--no-cal] [--no-plot]")
	args, err := cli.ParseInterspersed(fs, os.Args[1:])
	if err != nil || len(args) != 1 {
		fs.Usage()
		os.Exit(2)
	}
	if _, err := calib.Run(args[0], calib.Options{DoCal: !*noCal, DoPlot: !*noPlot}, os.Stdout); err != nil {
		log.Fatalf("showcal: %v", err)
	}
}
