// Package devicesim is an in-process stand-in for the controller's HTTP
// callback endpoint. It answers every request kind the tools send and fakes a
// QPD whose readings follow the galvo position.
package devicesim

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/CK6170/Msectrax-go/models"
)

// Optics describes the fake spot: each QPD channel is a tanh of the
// distance from the centre along the axis it is sensitive to.
type Optics struct {
	Center1   float64 // dac1 position where adc2 is at mid scale
	Center2   float64 // dac2 position where adc1 is at mid scale
	Width     float64
	Amplitude float64
	Mid       float64
}

func DefaultOptics() Optics {
	return Optics{Center1: -250, Center2: 750, Width: 1500, Amplitude: 1500, Mid: 2048}
}

// Read returns (adc1, adc2) for a galvo position.
func (o Optics) Read(dac1, dac2 int16) (int16, int16) {
	adc1 := o.Mid + o.Amplitude*math.Tanh((float64(dac2)-o.Center2)/o.Width)
	adc2 := o.Mid - o.Amplitude*math.Tanh((float64(dac1)-o.Center1)/o.Width)
	return int16(math.Round(adc1)), int16(math.Round(adc2))
}

type Sim struct {
	mu       sync.Mutex
	optics   Optics
	inner    models.SetDeviceState
	dac1     int16
	dac2     int16
	cycles   uint32
	version  uint16
	failCode int
	requests []string
}

func New() *Sim {
	return &Sim{
		optics:  DefaultOptics(),
		inner:   models.DefaultSetDeviceState(),
		version: models.DatatypesVersion,
	}
}

func (s *Sim) SetOptics(o Optics) {
	s.mu.Lock()
	s.optics = o
	s.mu.Unlock()
}

// FailWith makes every following request answer with code; 0 restores.
func (s *Sim) FailWith(code int) {
	s.mu.Lock()
	s.failCode = code
	s.mu.Unlock()
}

func (s *Sim) SetVersion(v uint16) {
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
}

func (s *Sim) Galvos() models.Galvos {
	s.mu.Lock()
	defer s.mu.Unlock()
	return models.Galvos{DAC1: s.dac1, DAC2: s.dac2}
}

func (s *Sim) Inner() models.SetDeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inner
}

// Requests lists the request names received so far, in order.
func (s *Sim) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

func (s *Sim) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/callback", s.handleCallback).Methods(http.MethodPost)
	r.HandleFunc("/", s.handleCallback).Methods(http.MethodPost)
	return r
}

func (s *Sim) handleCallback(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	name, payload, err := splitVariant(b)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, name)
	if s.failCode != 0 {
		http.Error(w, "simulated failure", s.failCode)
		return
	}
	resp, err := s.apply(name, payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// apply runs with s.mu held.
func (s *Sim) apply(name string, payload json.RawMessage) (models.Response, error) {
	switch name {
	case "SetState":
		var st models.SetDeviceState
		if err := json.Unmarshal(payload, &st); err != nil {
			return models.Response{}, fmt.Errorf("SetState: %w", err)
		}
		if err := st.Validate(); err != nil {
			return models.Response{}, err
		}
		s.inner = st
		s.dac1, s.dac2 = st.DAC1Initial, st.DAC2Initial
		s.cycles = 0
		return models.NewResponse("Empty", nil)
	case "SetGalvos":
		var g [2]int16
		if err := json.Unmarshal(payload, &g); err != nil {
			return models.Response{}, fmt.Errorf("SetGalvos: %w", err)
		}
		s.dac1, s.dac2 = g[0], g[1]
		s.inner.Mode = models.ModeSampleAdc
		return models.NewResponse("Empty", nil)
	case "QueryState":
		if s.inner.Mode == models.ModeClosedLoopProportional {
			s.cycles += 1000
		}
		adc1, adc2 := s.optics.Read(s.dac1, s.dac2)
		return models.NewResponse("EchoState", models.DeviceState{
			Inner:    s.inner,
			ClCycles: s.cycles,
			ADC1:     adc1,
			ADC2:     adc2,
			DAC1:     s.dac1,
			DAC2:     s.dac2,
			DAC1F32:  float64(s.dac1),
			DAC2F32:  float64(s.dac2),
		})
	case "QueryActualCycles":
		return models.NewResponse("EchoActualCycles", s.cycles)
	case "QueryAnalog":
		adc1, adc2 := s.optics.Read(s.dac1, s.dac2)
		return models.NewResponse("EchoAnalog", [2]int16{adc1, adc2})
	case "QueryDatatypesVersion":
		return models.NewResponse("EchoDatatypesVersion", s.version)
	case "EchoRequest8":
		var e [8]int
		if err := json.Unmarshal(payload, &e); err != nil {
			return models.Response{}, fmt.Errorf("EchoRequest8: %w", err)
		}
		return models.NewResponse("EchoResponse8", e)
	}
	return models.Response{}, fmt.Errorf("unknown request %q", name)
}

func splitVariant(b []byte) (string, json.RawMessage, error) {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		return name, nil, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return "", nil, fmt.Errorf("request: %w", err)
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("request: expected one variant, got %d keys", len(obj))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, fmt.Errorf("request: empty")
}
