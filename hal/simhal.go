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
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// SimHAL is the hosted stand-in for real UART/GPIO/RNG hardware: a
// loopback UART (bytes sent on the TX side are handed straight to the
// registered RX callback, as a bench jumper-wired UART loopback test
// would see), an in-memory GPIO pin map, and crypto/rand standing in for
// the hardware RNG peripheral.
type SimHAL struct {
	mu       sync.Mutex
	rxCB     func(b byte)
	gpio     map[int]GPIOState
	initDone bool
}

// NewSimHAL constructs an uninitialized simulated HAL.
func NewSimHAL() *SimHAL {
	return &SimHAL{gpio: make(map[int]GPIOState)}
}

func (h *SimHAL) Init() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.initDone = true
	return nil
}

func (h *SimHAL) RegisterRxUARTCallback(fn func(b byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rxCB = fn
}

// SendToTxUART loops b back to the registered RX callback, if any,
// standing in for a loopback-wired UART bench setup.
func (h *SimHAL) SendToTxUART(b byte) error {
	h.mu.Lock()
	cb := h.rxCB
	h.mu.Unlock()
	if cb != nil {
		cb(b)
	}
	return nil
}

func (h *SimHAL) GetRandomU32() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is a platform-level problem no caller can
		// recover from meaningfully; zero is a safe, detectable fallback.
		return 0
	}
	return binary.LittleEndian.Uint32(buf[:])
}

func (h *SimHAL) SetGPIO(num int, high bool) error {
	if num < 0 {
		return errors.Errorf("hal: invalid gpio number %d", num)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gpio[num] = GPIOState{High: high}
	return nil
}

// GPIO returns the last value set on pin num, for the self-test battery
// to read back.
func (h *SimHAL) GPIO(num int) GPIOState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gpio[num]
}
