// Package models holds the JSON wire types spoken with the controller's HTTP
// callback endpoint, plus the sample/region types shared by the tools.
package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingField       = errors.New("missing field")
	ErrUnexpectedResponse = errors.New("unexpected response")
)

// Request is one ToDevice message. Unit requests have a nil Payload and
// encode as a bare string; the rest encode as {"Name": payload}.
type Request struct {
	Name    string
	Payload interface{}
}

func (r Request) MarshalJSON() ([]byte, error) {
	if r.Payload == nil {
		return json.Marshal(r.Name)
	}
	return json.Marshal(map[string]interface{}{r.Name: r.Payload})
}

func (r Request) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return r.Name
	}
	return string(b)
}

func QueryState() Request            { return Request{Name: "QueryState"} }
func QueryActualCycles() Request     { return Request{Name: "QueryActualCycles"} }
func QueryAnalog() Request           { return Request{Name: "QueryAnalog"} }
func QueryDatatypesVersion() Request { return Request{Name: "QueryDatatypesVersion"} }

func SetState(s SetDeviceState) Request { return Request{Name: "SetState", Payload: s} }

func SetGalvos(dac1, dac2 int16) Request {
	return Request{Name: "SetGalvos", Payload: [2]int16{dac1, dac2}}
}

func EchoRequest8(b [8]uint8) Request {
	// [8]int keeps the payload a JSON array of numbers.
	var p [8]int
	for i, v := range b {
		p[i] = int(v)
	}
	return Request{Name: "EchoRequest8", Payload: p}
}

// Response is one FromDevice message with its payload left raw until a typed
// accessor is called.
type Response struct {
	Name string
	Raw  json.RawMessage
}

func (r *Response) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		r.Name, r.Raw = name, nil
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("response: %w", err)
	}
	if len(obj) != 1 {
		return fmt.Errorf("response: expected one variant, got %d keys", len(obj))
	}
	for k, v := range obj {
		r.Name, r.Raw = k, v
	}
	return nil
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Raw == nil {
		return json.Marshal(r.Name)
	}
	return json.Marshal(map[string]json.RawMessage{r.Name: r.Raw})
}

func (r Response) String() string {
	b, _ := r.MarshalJSON()
	return string(b)
}

func (r Response) expect(name string, v interface{}) error {
	if r.Name != name {
		return fmt.Errorf("%w: want %s, got %s", ErrUnexpectedResponse, name, r.Name)
	}
	if v == nil {
		return nil
	}
	if r.Raw == nil {
		return fmt.Errorf("%s: %w: payload", name, ErrMissingField)
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (r Response) EchoState() (*DeviceState, error) {
	var s DeviceState
	if err := r.expect("EchoState", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r Response) EchoAnalog() ([2]int16, error) {
	var a [2]int16
	err := r.expect("EchoAnalog", &a)
	return a, err
}

func (r Response) EchoResponse8() ([8]uint8, error) {
	var raw [8]int
	var out [8]uint8
	if err := r.expect("EchoResponse8", &raw); err != nil {
		return out, err
	}
	for i, v := range raw {
		if v < 0 || v > 255 {
			return out, fmt.Errorf("EchoResponse8: byte %d out of range: %d", i, v)
		}
		out[i] = uint8(v)
	}
	return out, nil
}

func (r Response) EchoDatatypesVersion() (uint16, error) {
	var v uint16
	err := r.expect("EchoDatatypesVersion", &v)
	return v, err
}

func (r Response) Empty() error { return r.expect("Empty", nil) }

// NewResponse builds a payload-carrying response; used by the simulator.
func NewResponse(name string, payload interface{}) (Response, error) {
	if payload == nil {
		return Response{Name: name}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Response{}, err
	}
	return Response{Name: name, Raw: b}, nil
}
