package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/ui"
)

func main() {
	var dev cli.DeviceFlags
	fs := flag.NewFlagSet("setgalvo", flag.ExitOnError)
	dev.Register(fs)
	dac1 := fs.Int("dac1", 0, "galvo 1 DAC value")
	dac2 := fs.Int("dac2", 0, "galvo 2 DAC value")
	cli.Usage(fs, "[flags] [headstage]")
	fs.Parse(os.Args[1:])
	if err := run(&dev, fs.Arg(0), *dac1, *dac2); err != nil {
		log.Fatalf("setgalvo: %v", err)
	}
}

func run(dev *cli.DeviceFlags, headstage string, dac1, dac2 int) error {
	for _, v := range []int{dac1, dac2} {
		if v < math.MinInt16 || v > math.MaxInt16 {
			return fmt.Errorf("%d outside int16 range", v)
		}
	}
	sess, err := dev.Open(headstage)
	if err != nil {
		return err
	}
	defer sess.Close()

	g := models.Galvos{DAC1: int16(dac1), DAC2: int16(dac2)}
	resp, adc, err := sess.SetGalvosAndRead(context.Background(), g)
	if err != nil {
		return err
	}
	ui.Printf("%s\n", resp)
	ui.Greenf("DAC1: %d DAC2: %d  ADC1: %d ADC2: %d\n", g.DAC1, g.DAC2, adc[0], adc[1])
	return nil
}
