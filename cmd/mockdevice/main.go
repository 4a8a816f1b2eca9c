package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"

	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/internal/devicesim"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "listen address")
	width := flag.Float64("width", devicesim.DefaultOptics().Width, "QPD response width in DAC counts")
	quiet := flag.Bool("quiet", false, "no access log")
	flag.Parse()

	sim := devicesim.New()
	o := devicesim.DefaultOptics()
	o.Width = *width
	sim.SetOptics(o)

	h := sim.Handler()
	if !*quiet {
		h = handlers.LoggingHandler(os.Stdout, h)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Printf("mock device callback at http://%s/callback", *addr)
	if err := cli.Serve(ctx, *addr, h); err != nil {
		log.Fatalf("mockdevice: %v", err)
	}
}
