package cli

import (
	"context"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/CK6170/Msectrax-go/ui"
)

// watchEsc only grabs the keyboard when stdin is a terminal.
func watchEsc(ctx context.Context) (context.Context, context.CancelFunc) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return context.WithCancel(ctx)
	}
	return ui.StopOnEsc(ctx)
}
