// Package session holds the client-side workflows run against one head
// stage: configuration, polling, logging, scanning and manual alignment.
// Every loop is cancellable through its context and reports progress
// through a callback so the same code backs the CLIs and the TUI.
package session

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/CK6170/Msectrax-go/csvlog"
	"github.com/CK6170/Msectrax-go/device"
	"github.com/CK6170/Msectrax-go/models"
)

type Session struct {
	ID        string
	HeadStage HeadStage
	Device    *device.Client
	Started   time.Time

	configured time.Time
	log        *csvlog.Writer
}

// Connect builds a session for hs. No request is sent.
func Connect(hs HeadStage, opts ...device.Option) (*Session, error) {
	if hs.URL == "" {
		return nil, fmt.Errorf("head stage %q has no url", hs.Name)
	}
	return &Session{
		ID:        uuid.NewString(),
		HeadStage: hs,
		Device:    device.NewClient(hs.URL, opts...),
		Started:   time.Now(),
	}, nil
}

// Elapsed is monotonic time since Connect.
func (s *Session) Elapsed() time.Duration { return time.Since(s.Started) }

// OpenLog creates dir/<prefix><stamp><suffix>.csv with the standard columns.
// The session owns the file until Close.
func (s *Session) OpenLog(dir, prefix, program string) (string, error) {
	if s.log != nil {
		return "", fmt.Errorf("session %s already has a log open", s.ID)
	}
	now := time.Now()
	path := filepath.Join(dir, prefix+csvlog.FileName(now, s.HeadStage.FileSuffix))
	w, err := csvlog.Create(path, program, csvlog.Columns, now)
	if err != nil {
		return "", err
	}
	s.log = w
	return path, nil
}

func (s *Session) Log() *csvlog.Writer { return s.log }

// Record appends a state to the log, stamped with Elapsed, and returns it as
// a sample. Without an open log only the sample is built.
func (s *Session) Record(st *models.DeviceState) (models.Sample, error) {
	ts := s.Elapsed().Nanoseconds()
	sample := models.SampleFromState(ts, st)
	if s.log == nil {
		return sample, nil
	}
	err := s.log.WriteInts(ts, int64(st.DAC1), int64(st.DAC2), int64(st.ADC1), int64(st.ADC2))
	return sample, err
}

// Close flushes and releases the log. Safe on nil and safe to repeat.
func (s *Session) Close() error {
	if s == nil || s.log == nil {
		return nil
	}
	err := s.log.Close()
	s.log = nil
	return err
}
