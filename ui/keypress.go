package ui

import (
	"context"
	"sync"

	"github.com/eiannone/keyboard"
)

const KeyEsc rune = 27

var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel that emits single-key runes read without
// Enter. ESC arrives as KeyEsc. Without a terminal the channel never emits.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				r := char
				switch key {
				case 0:
				case keyboard.KeyEsc:
					r = KeyEsc
				case keyboard.KeyCtrlC:
					r = 3
				default:
					continue
				}
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

// DrainKeys consumes any immediately available keys to avoid accidental triggers.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// StopOnEsc returns a context cancelled when ESC, q or Ctrl-C is pressed.
// Raw mode swallows the terminal's own Ctrl-C, hence the explicit case.
func StopOnEsc(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := StartKeyEvents()
	DrainKeys()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-ch:
				if !ok {
					return
				}
				if r == KeyEsc || r == 'q' || r == 3 {
					cancel()
					return
				}
			}
		}
	}()
	return ctx, cancel
}
