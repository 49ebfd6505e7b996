package telemetry

import (
	"math"
	"time"

	"github.com/bytedance/sonic"
)

// Sample is one decoded telemetry reading from the rocket. The device may
// omit any sensor, in which case the corresponding field is nil.
type Sample struct {
	CapturedAt  time.Time `json:"capturedAt"`            // Host receipt time, assigned after decoding
	Temperature *float64  `json:"temperature,omitempty"` // Temperature in °C
	Altitude    *float64  `json:"altitude,omitempty"`    // GPS altitude in meters
	PosX        *float64  `json:"x,omitempty"`           // GPS X position (latitude)
	PosY        *float64  `json:"y,omitempty"`           // GPS Y position (longitude)
	Roll        *float64  `json:"roll,omitempty"`        // Roll angle in degrees
	Pitch       *float64  `json:"pitch,omitempty"`       // Pitch angle in degrees
	Yaw         *float64  `json:"yaw,omitempty"`         // Yaw angle in degrees
	Gas         *float64  `json:"mq135,omitempty"`       // MQ135 gas sensor raw value
}

// MarshalJSON encodes the sample with NaN and infinite readings left out,
// since JSON cannot represent them. Firmware prints "nan" for a failed
// sensor read, so such a reading is reported the same way as a missing one.
func (s Sample) MarshalJSON() ([]byte, error) {
	type plain Sample // drops the method set to avoid recursion

	out := plain(s)
	for _, v := range []**float64{
		&out.Temperature, &out.Altitude, &out.PosX, &out.PosY,
		&out.Roll, &out.Pitch, &out.Yaw, &out.Gas,
	} {
		*v = Finite(*v)
	}
	return sonic.ConfigStd.Marshal(out)
}

// Float returns a pointer to a copy of v.
func Float(v float64) *float64 {
	return &v
}

// Finite returns v, or nil when v is NaN or infinite.
func Finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}
