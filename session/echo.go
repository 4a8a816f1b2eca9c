package session

import (
	"context"
	"fmt"
	"time"

	"github.com/CK6170/Msectrax-go/models"
)

// EchoResult is one EchoRequest8 round trip.
type EchoResult struct {
	Sent     [8]uint8
	Received [8]uint8
	RTT      time.Duration
}

// Echo sends [1..7, count] with count wrapping at 256 until ctx is done or
// the device answers with different bytes.
func (s *Session) Echo(ctx context.Context, interval time.Duration, onEcho func(EchoResult)) error {
	var count uint8
	for {
		req := [8]uint8{1, 2, 3, 4, 5, 6, 7, count}
		count++
		start := time.Now()
		got, err := s.Device.Echo8(ctx, req)
		if err != nil {
			return ctxErr(ctx, err)
		}
		if got != req {
			return fmt.Errorf("echo mismatch: sent %v, got %v", req, got)
		}
		if onEcho != nil {
			onEcho(EchoResult{Sent: req, Received: got, RTT: time.Since(start)})
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
}

// SetGalvosAndRead commands a galvo position then reads both QPD channels.
func (s *Session) SetGalvosAndRead(ctx context.Context, g models.Galvos) (*models.Response, [2]int16, error) {
	resp, err := s.Device.SetGalvos(ctx, g)
	if err != nil {
		return nil, [2]int16{}, err
	}
	adc, err := s.Device.QueryAnalog(ctx)
	if err != nil {
		return resp, [2]int16{}, err
	}
	return resp, adc, nil
}
