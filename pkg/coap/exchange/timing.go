// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package exchange

import "time"

// Timing holds the RFC 7252 §4.8 reliability parameters. Zero values
// are replaced by DefaultTiming's defaults in New.
type Timing struct {
	AckTimeout      time.Duration
	AckRandomFactor float64
	MaxRetransmit   int
	ProcessingDelay time.Duration
}

// DefaultTiming holds the RFC-recommended defaults, per spec.md §4.3.
var DefaultTiming = Timing{
	AckTimeout:      2000 * time.Millisecond,
	AckRandomFactor: 1.5,
	MaxRetransmit:   4,
	ProcessingDelay: 1000 * time.Millisecond,
}

func (t Timing) withDefaults() Timing {
	if t.AckTimeout == 0 {
		t.AckTimeout = DefaultTiming.AckTimeout
	}
	if t.AckRandomFactor == 0 {
		t.AckRandomFactor = DefaultTiming.AckRandomFactor
	}
	if t.MaxRetransmit == 0 {
		t.MaxRetransmit = DefaultTiming.MaxRetransmit
	}
	if t.ProcessingDelay == 0 {
		t.ProcessingDelay = DefaultTiming.ProcessingDelay
	}
	return t
}

// InitialTimeout returns a value drawn uniformly from
// [AckTimeout, AckTimeout*AckRandomFactor], per spec.md §4.3.
func (t Timing) InitialTimeout(r RandSource) time.Duration {
	span := float64(t.AckTimeout) * (t.AckRandomFactor - 1)
	return t.AckTimeout + time.Duration(r.Float64()*span)
}

// MaxTransmitWait is the upper bound on one reliable-tx lifetime.
func (t Timing) MaxTransmitWait() time.Duration {
	factor := float64(uint64(1)<<uint(t.MaxRetransmit+1)) - 1
	return time.Duration(float64(t.AckTimeout) * factor * t.AckRandomFactor)
}
