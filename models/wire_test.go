package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestRequestEncoding(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want string
	}{
		{"query state", QueryState(), `"QueryState"`},
		{"actual cycles", QueryActualCycles(), `"QueryActualCycles"`},
		{"analog", QueryAnalog(), `"QueryAnalog"`},
		{"galvos", SetGalvos(-5000, 12), `{"SetGalvos":[-5000,12]}`},
		{"echo", EchoRequest8([8]uint8{1, 2, 3, 4, 5, 6, 7, 255}), `{"EchoRequest8":[1,2,3,4,5,6,7,255]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.req)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tc.want {
				t.Errorf("got %s, want %s", b, tc.want)
			}
		})
	}
}

func TestSetStateEncodesClosedLoopMode(t *testing.T) {
	s := DefaultSetDeviceState()
	s.Mode = ModeClosedLoopProportional
	b, err := json.Marshal(SetState(s))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"mode":{"ClosedLoop":"Proportional"}`) {
		t.Errorf("mode not externally tagged: %s", b)
	}
	if !strings.HasPrefix(string(b), `{"SetState":{`) {
		t.Errorf("missing SetState tag: %s", b)
	}

	var back SetDeviceState
	raw := strings.TrimSuffix(strings.TrimPrefix(string(b), `{"SetState":`), "}")
	if err := json.Unmarshal([]byte(raw), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != s {
		t.Errorf("got %+v, want %+v", back, s)
	}
}

func TestDeviceModeRejectsUnknown(t *testing.T) {
	var m DeviceMode
	if err := json.Unmarshal([]byte(`"Warp"`), &m); err == nil {
		t.Error("expected error for unknown mode")
	}
	if err := json.Unmarshal([]byte(`{"ClosedLoop":"Integral"}`), &m); err == nil {
		t.Error("expected error for unknown closed loop mode")
	}
	if err := (SetDeviceState{ClPeriod: 1, Mode: "bogus"}).Validate(); err == nil {
		t.Error("expected Validate to reject unknown mode")
	}
}

func TestResponseEchoState(t *testing.T) {
	body := `{"EchoState":{"inner":{"mode":"SampleAdc","cl_period":10,"dac1_initial":0,"dac2_initial":0,
		"dac1_angle_func":{"adc1_gain":0.1,"adc2_gain":0.1,"offset":0},
		"dac2_angle_func":{"adc1_gain":0.1,"adc2_gain":0.1,"offset":0},
		"dac1_angle_gain":0.001,"dac2_angle_gain":0.001,
		"dac1_min":-32768,"dac1_max":32767,"dac2_min":-32768,"dac2_max":32767},
		"cl_cycles":1234,"adc1":100,"adc2":-20,"dac1":-500,"dac2":7,"dac1_f32":-500.5,"dac2_f32":7.25}}`
	var r Response
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	st, err := r.EchoState()
	if err != nil {
		t.Fatalf("EchoState: %v", err)
	}
	if st.ClCycles != 1234 || st.ADC1 != 100 || st.ADC2 != -20 || st.DAC1 != -500 || st.DAC2 != 7 {
		t.Errorf("unexpected state %+v", st)
	}
	if st.Inner.ClPeriod != 10 || st.Inner.Mode != ModeSampleAdc {
		t.Errorf("unexpected inner %+v", st.Inner)
	}
	if _, err := r.EchoAnalog(); !errors.Is(err, ErrUnexpectedResponse) {
		t.Errorf("EchoAnalog on EchoState: got %v, want ErrUnexpectedResponse", err)
	}
}

func TestResponseMissingFieldIsAnError(t *testing.T) {
	var r Response
	if err := json.Unmarshal([]byte(`{"EchoState":{"adc1":1,"adc2":2,"dac1":3,"dac2":4,"cl_cycles":5}}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := r.EchoState(); !errors.Is(err, ErrMissingField) {
		t.Errorf("got %v, want ErrMissingField", err)
	}
}

func TestResponseUnitAndTuple(t *testing.T) {
	var r Response
	if err := json.Unmarshal([]byte(`"Empty"`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := r.Empty(); err != nil {
		t.Errorf("Empty: %v", err)
	}

	if err := json.Unmarshal([]byte(`{"EchoAnalog":[-3,4000]}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	a, err := r.EchoAnalog()
	if err != nil || a != [2]int16{-3, 4000} {
		t.Errorf("EchoAnalog = %v, %v", a, err)
	}

	if err := json.Unmarshal([]byte(`{"EchoResponse8":[1,2,3,4,5,6,7,300]}`), &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := r.EchoResponse8(); err == nil {
		t.Error("expected out of range byte to fail")
	}

	if err := json.Unmarshal([]byte(`{"A":1,"B":2}`), &r); err == nil {
		t.Error("expected error for multi-key response")
	}
}

func TestRegionContainsIsStrict(t *testing.T) {
	r := Region{DAC1: Bounds{Min: -10, Max: 10}, DAC2: Bounds{Min: 0, Max: 5}}
	if !r.Contains(Sample{DAC1: 0, DAC2: 1}) {
		t.Error("interior sample rejected")
	}
	for _, s := range []Sample{{DAC1: -10, DAC2: 1}, {DAC1: 10, DAC2: 1}, {DAC1: 0, DAC2: 0}, {DAC1: 0, DAC2: 5}} {
		if r.Contains(s) {
			t.Errorf("boundary sample %+v accepted", s)
		}
	}
}

func TestClampGalvos(t *testing.T) {
	g := ClampGalvos(-40000.7, 12.9)
	if g.DAC1 != -32768 || g.DAC2 != 12 {
		t.Errorf("got %+v", g)
	}
	g = ClampGalvos(-12.9, 1e9)
	if g.DAC1 != -12 || g.DAC2 != 32767 {
		t.Errorf("got %+v", g)
	}
}
