// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hal

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// SelfTest runs the HAL self-test battery named in spec.md §6 ("Used by
// the shell and HAL self-tests"): UART loopback, GPIO toggle, and RNG
// sanity, fanned out concurrently via errgroup and reporting the first
// failure.
func SelfTest(ctx context.Context, h HAL) error {
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error { return uartLoopbackTest(h) })
	g.Go(func() error { return gpioToggleTest(h) })
	g.Go(func() error { return rngSanityTest(h) })

	return g.Wait()
}

func uartLoopbackTest(h HAL) error {
	received := make(chan byte, 1)
	h.RegisterRxUARTCallback(func(b byte) { received <- b })

	const probe = byte(0xA5)
	if err := h.SendToTxUART(probe); err != nil {
		return errors.Wrap(err, "hal selftest: uart send")
	}
	select {
	case got := <-received:
		if got != probe {
			return errors.Errorf("hal selftest: uart loopback mismatch: sent %#x, received %#x", probe, got)
		}
	default:
		return errors.New("hal selftest: uart loopback never delivered the probe byte")
	}
	return nil
}

func gpioToggleTest(h HAL) error {
	const pin = 0
	if err := h.SetGPIO(pin, true); err != nil {
		return errors.Wrap(err, "hal selftest: gpio set high")
	}
	if sh, ok := h.(*SimHAL); ok {
		if !sh.GPIO(pin).High {
			return errors.Errorf("hal selftest: gpio %d did not read back high", pin)
		}
	}
	if err := h.SetGPIO(pin, false); err != nil {
		return errors.Wrap(err, "hal selftest: gpio set low")
	}
	return nil
}

func rngSanityTest(h HAL) error {
	a := h.GetRandomU32()
	b := h.GetRandomU32()
	if a == 0 && b == 0 {
		return errors.New("hal selftest: rng returned zero twice in a row")
	}
	if a == b {
		return errors.New("hal selftest: rng returned the same value twice in a row")
	}
	return nil
}
