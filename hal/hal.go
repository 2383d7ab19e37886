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

// Package hal names the external collaborators spec.md §1 declares out of
// core scope, as Go interfaces rather than designs: the UART/GPIO/RNG
// hardware-abstraction layer, the heap allocator, and the secure-world
// context-switcher's slot-reservation contract (spec.md §6: "these
// collaborators appear as contracts, not designs"). The trace facade's
// process-wide print mutex is klog.RawSink, not duplicated here.
package hal

import "context"

// HAL is the device-facing contract spec.md §6 names: "init,
// register_rx_uart_callback(fn(char)), send_to_tx_uart(char),
// get_random_u32(), set_gpio(num, bool)". Used by the shell and the HAL
// self-test battery; never by the scheduler or synchronization packages.
type HAL interface {
	Init() error
	RegisterRxUARTCallback(fn func(b byte))
	SendToTxUART(b byte) error
	GetRandomU32() uint32
	SetGPIO(num int, high bool) error
}

// Allocator is the heap/slab-allocator contract: "first-fit + power-of-2-bin
// heap providing alloc, realloc, free, pool extension; supplies thread
// stacks and dynamic thread descriptors. Contract: never called from an
// ISR." The actual allocation strategy is explicitly out of scope
// (spec.md §1); this package only names the shape a real implementation
// would have.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Realloc(buf []byte, size int) ([]byte, error)
	Free(buf []byte)
	ExtendPool(bytes int) error
}

// GPIOState is the minimal observable shape a GPIO self-test reads back.
type GPIOState struct {
	High bool
}

// reservation is the interface SecureWorldPool needs from its underlying
// semaphore, narrowed for testability.
type reservation interface {
	Acquire(ctx context.Context, n int64) error
	TryAcquire(n int64) bool
	Release(n int64)
}
