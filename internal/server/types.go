package server

import (
	"time"

	"github.com/CK6170/Msectrax-go/models"
	"github.com/CK6170/Msectrax-go/session"
)

type APIError struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	Timestamp time.Time `json:"timestamp"`
	Connected bool      `json:"connected"`
	HeadStage string    `json:"headstage,omitempty"`
	Operation string    `json:"operation,omitempty"`
}

type ConnectRequest struct {
	HeadStage string `json:"headstage"`
	// URL overrides the head stage's callback URL.
	URL string `json:"url,omitempty"`
}

type ConnectResponse struct {
	Connected bool   `json:"connected"`
	SessionID string `json:"sessionId"`
	HeadStage string `json:"headstage"`
	URL       string `json:"url"`
}

type MonitorStartRequest struct {
	// Configure sends the head stage's SetState before polling.
	Configure  bool `json:"configure"`
	IntervalMs int  `json:"intervalMs"`
}

type GalvosRequest struct {
	DAC1 int16 `json:"dac1"`
	DAC2 int16 `json:"dac2"`
}

type GalvosResponse struct {
	ADC1 int16 `json:"adc1"`
	ADC2 int16 `json:"adc2"`
}

// StateView is the JSON form of a session.StateUpdate.
type StateView struct {
	SessionID   string             `json:"sessionId"`
	HeadStage   string             `json:"headstage"`
	Time        time.Time          `json:"time"`
	ElapsedSec  float64            `json:"elapsedSec"`
	CycleRateHz float64            `json:"cycleRateHz"`
	ClRateHz    float64            `json:"clRateHz"`
	LoopTimeUs  float64            `json:"loopTimeUs"`
	State       models.DeviceState `json:"state"`
}

func viewOf(u session.StateUpdate) StateView {
	return StateView{
		SessionID:   u.SessionID,
		HeadStage:   u.HeadStage,
		Time:        u.Time,
		ElapsedSec:  u.Elapsed.Seconds(),
		CycleRateHz: u.CycleRate,
		ClRateHz:    u.ClRate,
		LoopTimeUs:  float64(u.LoopTime) / float64(time.Microsecond),
		State:       u.State,
	}
}
