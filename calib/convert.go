package calib

// QPD front end: 12 bit ADC over 3.3 V, centred at 1.5 V, /10 gain.
const (
	adcFullScale = 4096
	adcVref      = 3.3
	qpdCentre    = 1.5
	qpdGain      = 10
)

// ToVolts converts a raw ADC count to the QPD signal voltage. Only the
// alignment client works in volts; the fit above runs on raw counts.
func ToVolts(raw float64) float64 {
	return (qpdCentre - raw*adcVref/adcFullScale) / qpdGain
}
