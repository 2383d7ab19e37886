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

	"golang.org/x/sync/semaphore"
)

// SecureWorldPool reserves slots in the fixed-size pool a secure-world
// context switcher would hand out (SPEC_FULL.md supplemented feature:
// only the slot-reservation contract is modeled, not the switcher
// itself). It is a plain counting semaphore over the slot pool.
type SecureWorldPool struct {
	sem  reservation
	size int64
}

// NewSecureWorldPool constructs a pool with the given number of
// concurrently reservable secure-world slots.
func NewSecureWorldPool(slots int64) *SecureWorldPool {
	return &SecureWorldPool{sem: semaphore.NewWeighted(slots), size: slots}
}

// Size returns the total number of slots in the pool.
func (p *SecureWorldPool) Size() int64 { return p.size }

// Reserve blocks until n slots are available or ctx is done.
func (p *SecureWorldPool) Reserve(ctx context.Context, n int64) error {
	return p.sem.Acquire(ctx, n)
}

// TryReserve attempts to reserve n slots without blocking.
func (p *SecureWorldPool) TryReserve(n int64) bool {
	return p.sem.TryAcquire(n)
}

// Release returns n slots to the pool.
func (p *SecureWorldPool) Release(n int64) {
	p.sem.Release(n)
}
