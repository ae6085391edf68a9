// Copyright 2022 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pageout

import "time"

// PIDController converts the distance of an input from a setpoint into a
// correction, using proportional, integral and derivative terms. Gains are
// given as divisors.
type PIDController struct {
	interval time.Duration
	setpoint int
	bound    int
	gains    PIDGains

	start      time.Time
	input      int
	err        int
	olderr     int
	integral   int
	derivative int
	output     int
}

// NewPIDController creates a controller evaluated over the given interval.
func NewPIDController(interval time.Duration, setpoint, bound int, gains PIDGains) *PIDController {
	return &PIDController{
		interval: interval,
		setpoint: setpoint,
		bound:    bound,
		gains:    gains,
	}
}

// Daemon returns the correction for input at time now. Within a single
// interval, repeated calls return only the part of the correction not yet
// handed out, as if the earlier outputs had fully taken effect.
func (pc *PIDController) Daemon(now time.Time, input int) int {
	err := pc.setpoint - input

	if now.Sub(pc.start) >= pc.interval {
		pc.start = now
		pc.olderr = pc.err
		pc.output = 0
		pc.err = 0
	} else {
		err -= pc.err - pc.output
	}

	kpd := max(pc.gains.Kpd, 1)
	kid := max(pc.gains.Kid, 1)
	kdd := max(pc.gains.Kdd, 1)

	pc.err += err
	pc.integral = max(min(pc.integral+err, pc.bound), -pc.bound)
	pc.derivative = pc.err - pc.olderr

	output := pc.err/kpd + pc.integral/kid + pc.derivative/kdd
	output = max(output-pc.output, 0)
	pc.output += output
	pc.input = input

	return output
}

// SetGains changes the controller gains.
func (pc *PIDController) SetGains(gains PIDGains) {
	pc.gains = gains
}

// Setpoint returns the controller setpoint.
func (pc *PIDController) Setpoint() int {
	return pc.setpoint
}
