// Package server is the live telemetry web service: it owns at most one
// head stage session, runs one device operation at a time and pushes every
// polled state to websocket clients and Prometheus.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/CK6170/Msectrax-go/device"
	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/session"
)

type DeviceSession struct {
	mu   sync.Mutex
	sess *session.Session

	// one active operation at a time
	opCancel context.CancelFunc
	opKind   string
	opDone   chan struct{}
}

type Options struct {
	HeadStages session.HeadStages
	DeviceOpts []device.Option
	History    int
	// WebRoot, when set, is served at / for a browser dashboard.
	WebRoot string
}

type Server struct {
	mux     *http.ServeMux
	opts    Options
	dev     *DeviceSession
	store   *StateStore
	hub     *WSHub
	metrics *Metrics
}

func New(opts Options) *Server {
	if opts.HeadStages == nil {
		opts.HeadStages = session.Builtin()
	}
	m := NewMetrics()
	s := &Server{
		mux:     http.NewServeMux(),
		opts:    opts,
		dev:     &DeviceSession{},
		store:   NewStateStore(opts.History),
		hub:     NewWSHub(m.SetWSClients),
		metrics: m,
	}

	route := func(path string, h http.HandlerFunc) {
		s.mux.HandleFunc(path, m.WrapHandler(path, h))
	}
	route("/api/health", s.handleHealth)
	route("/api/headstages", s.handleHeadStages)
	route("/api/connect", s.handleConnect)
	route("/api/disconnect", s.handleDisconnect)
	route("/api/monitor/start", s.handleMonitorStart)
	route("/api/monitor/stop", s.handleStopOp)
	route("/api/galvos", s.handleGalvos)
	route("/api/state", s.handleState)
	route("/api/history", s.handleHistory)

	s.mux.HandleFunc("/ws/state", s.handleWSState)
	s.mux.Handle("/metrics", m.Handler())
	if opts.WebRoot != "" {
		s.mux.Handle("/", http.FileServer(http.Dir(opts.WebRoot)))
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Publish records an update and pushes it to every websocket client. Loops
// running outside the server (closedloop -serve) call it directly.
func (s *Server) Publish(u session.StateUpdate) {
	v := s.store.Put(u)
	s.metrics.Observe(u)
	s.hub.Broadcast(WSMessage{Type: "state", Data: v})
}

// Attach hands an existing session to the server, replacing any other.
func (s *Server) Attach(sess *session.Session) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	s.dev.cancelLocked()
	s.dev.disconnectLocked()
	s.dev.sess = sess
}

// StartMonitor begins polling the attached session in the background.
func (s *Server) StartMonitor(configure bool, interval time.Duration) error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	sess := s.dev.sess
	if sess == nil {
		return errors.New("not connected")
	}
	s.dev.cancelLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.dev.opCancel, s.dev.opKind, s.dev.opDone = cancel, "monitor", done

	go func() {
		defer func() {
			s.dev.mu.Lock()
			if s.dev.opDone == done {
				s.dev.opCancel, s.dev.opKind = nil, ""
			}
			s.dev.mu.Unlock()
			close(done)
		}()
		if configure {
			if _, err := sess.Configure(ctx); err != nil {
				s.fail(sess, err)
				return
			}
		}
		err := sess.Monitor(ctx, session.MonitorOptions{Interval: interval}, s.Publish)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.fail(sess, err)
			return
		}
		s.hub.Broadcast(WSMessage{Type: "stopped"})
	}()
	return nil
}

// Stop cancels the running operation and waits for it to finish.
func (s *Server) Stop() {
	s.dev.mu.Lock()
	done := s.dev.opDone
	s.dev.cancelLocked()
	s.dev.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (s *Server) fail(sess *session.Session, err error) {
	log.Printf("monitor %s: %v", sess.HeadStage.Name, err)
	s.metrics.PollError(sess.HeadStage.Name)
	s.hub.Broadcast(WSMessage{Type: "error", Data: APIError{Error: err.Error()}})
}

func (d *DeviceSession) cancelLocked() {
	if d.opCancel != nil {
		d.opCancel()
		d.opCancel = nil
		d.opKind = ""
	}
}

func (d *DeviceSession) disconnectLocked() {
	if d.sess != nil {
		_ = d.sess.Close()
	}
	d.sess = nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.dev.mu.Lock()
	resp := HealthResponse{OK: true, Timestamp: time.Now(), Connected: s.dev.sess != nil, Operation: s.dev.opKind}
	if s.dev.sess != nil {
		resp.HeadStage = s.dev.sess.HeadStage.Name
	}
	s.dev.mu.Unlock()
	s.writeJSON(w, 200, resp)
}

func (s *Server) handleHeadStages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, 200, s.opts.HeadStages)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req ConnectRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	hs, err := s.opts.HeadStages.Lookup(req.HeadStage)
	if err != nil {
		s.writeJSON(w, 404, APIError{Error: err.Error()})
		return
	}
	if req.URL != "" {
		hs.URL = req.URL
	}
	sess, err := session.Connect(hs, s.opts.DeviceOpts...)
	if err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	if err := sess.Device.CheckVersion(r.Context()); err != nil {
		s.writeJSON(w, 502, APIError{Error: "device version check failed: " + err.Error()})
		return
	}
	s.Attach(sess)
	s.writeJSON(w, 200, ConnectResponse{Connected: true, SessionID: sess.ID, HeadStage: hs.Name, URL: hs.URL})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.Stop()
	s.dev.mu.Lock()
	s.dev.disconnectLocked()
	s.dev.mu.Unlock()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req MonitorStartRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.Stop()
	if err := s.StartMonitor(req.Configure, time.Duration(req.IntervalMs)*time.Millisecond); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleStopOp(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	s.Stop()
	s.writeJSON(w, 200, map[string]bool{"ok": true})
}

func (s *Server) handleGalvos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req GalvosRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeJSON(w, 400, APIError{Error: err.Error()})
		return
	}
	s.dev.mu.Lock()
	sess, busy := s.dev.sess, s.dev.opKind
	s.dev.mu.Unlock()
	if sess == nil {
		s.writeJSON(w, 400, APIError{Error: "not connected"})
		return
	}
	if busy != "" {
		s.writeJSON(w, 409, APIError{Error: busy + " running"})
		return
	}
	_, adc, err := sess.SetGalvosAndRead(r.Context(), models.Galvos{DAC1: req.DAC1, DAC2: req.DAC2})
	if err != nil {
		s.writeJSON(w, 502, APIError{Error: err.Error()})
		return
	}
	s.writeJSON(w, 200, GalvosResponse{ADC1: adc[0], ADC2: adc[1]})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	name := r.URL.Query().Get("headstage")
	if name == "" {
		s.writeJSON(w, 200, s.store.All())
		return
	}
	v, ok := s.store.Latest(name)
	if !ok {
		s.writeJSON(w, 404, APIError{Error: "no state for " + name})
		return
	}
	s.writeJSON(w, 200, v)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	n, _ := strconv.Atoi(r.URL.Query().Get("n"))
	s.writeJSON(w, 200, s.store.History(n))
}

func (s *Server) handleWSState(w http.ResponseWriter, r *http.Request) {
	s.hub.serve(w, r, WSMessage{Type: "snapshot", Data: s.store.All()})
}
