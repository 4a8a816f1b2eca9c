// Package cli is the flag and lifecycle plumbing shared by the cmd/ tools.
package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CK6170/Msectrax-go/device"
	"github.com/CK6170/Msectrax-go/session"
)

// DeviceFlags selects the head stage and how to reach it.
type DeviceFlags struct {
	Config  string
	URL     string
	Timeout time.Duration
	NoEsc   bool
}

func (f *DeviceFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&f.Config, "config", "", "head stage YAML file (overrides the built-in table)")
	fs.StringVar(&f.URL, "url", "", "device callback URL (overrides the head stage's)")
	fs.DurationVar(&f.Timeout, "timeout", 5*time.Second, "per-request HTTP timeout")
	fs.BoolVar(&f.NoEsc, "no-esc", false, "do not watch the keyboard for ESC")
}

// Open resolves name (empty means headstage2, the default bench rig) and
// connects a session.
func (f *DeviceFlags) Open(name string) (*session.Session, error) {
	stages, err := session.LoadHeadStages(f.Config)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = "headstage2"
	}
	hs, err := stages.Lookup(name)
	if err != nil {
		return nil, err
	}
	if f.URL != "" {
		hs.URL = f.URL
	}
	return session.Connect(hs, device.WithTimeout(f.Timeout))
}

// Context is cancelled on SIGINT/SIGTERM and, unless disabled, on ESC.
func (f *DeviceFlags) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if f.NoEsc {
		return ctx, stop
	}
	ctx, cancel := watchEsc(ctx)
	return ctx, func() {
		cancel()
		stop()
	}
}

// Usage sets a usage line followed by the flag defaults.
func Usage(fs *flag.FlagSet, line string) {
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s %s\n", fs.Name(), line)
		fs.PrintDefaults()
	}
}
