package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/CK6170/Msectrax-go/device"
	"github.com/CK6170/Msectrax-go/internal/cli"
	"github.com/CK6170/Msectrax-go/internal/server"
	"github.com/CK6170/Msectrax-go/session"
	"github.com/CK6170/Msectrax-go/ui"
)

func main() {
	var (
		addr      = flag.String("addr", "127.0.0.1:8090", "http listen address")
		web       = flag.String("web", "", "optional web root served at /")
		config    = flag.String("config", "", "head stage YAML file")
		headstage = flag.String("headstage", "", "connect to this head stage at startup")
		url       = flag.String("url", "", "device callback URL override for -headstage")
		autostart = flag.Bool("autostart", false, "configure the head stage and start monitoring at startup")
		interval  = flag.Duration("interval", session.DefaultMonitorInterval, "monitor poll interval")
		history   = flag.Int("history", 0, "state updates kept for /api/history (0 uses the default)")
	)
	flag.Parse()

	stages, err := session.LoadHeadStages(*config)
	if err != nil {
		log.Fatalf("server: %v", err)
	}
	s := server.New(server.Options{HeadStages: stages, History: *history, WebRoot: *web})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *headstage != "" {
		hs, err := stages.Lookup(*headstage)
		if err != nil {
			log.Fatalf("server: %v", err)
		}
		if *url != "" {
			hs.URL = *url
		}
		sess, err := session.Connect(hs)
		if err != nil {
			log.Fatalf("server: %v", err)
		}
		if err := sess.Device.CheckVersion(ctx); errors.Is(err, device.ErrVersionMismatch) {
			log.Fatalf("server: %v", err)
		} else if err != nil {
			ui.Errorf("%s not reachable yet, attaching anyway: %v\n", hs.URL, err)
		}
		s.Attach(sess)
		log.Printf("attached %s (%s)", hs.Name, hs.URL)
		if *autostart {
			if err := s.StartMonitor(true, *interval); err != nil {
				log.Fatalf("server: %v", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return cli.Serve(gctx, *addr, s.Handler()) })
	g.Go(func() error {
		<-gctx.Done()
		s.Stop()
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("server: %v", err)
	}
}
