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

// Package metrics holds the kernel's prometheus instrumentation. The
// gaugeCounter pairing (a gauge for current state, a monotonic counter for
// totals) is grounded directly on the teacher's shards/sched.go scheduler
// metrics, generalized from "search processes" to "kernel threads".
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GaugeCounter wraps a gauge and a counter. Incrementing bumps both;
// decrementing only affects the gauge, so the counter is a running total
// of every time the state was entered.
type GaugeCounter struct {
	gauge   prometheus.Gauge
	counter prometheus.Counter
}

func (m *GaugeCounter) Inc() {
	if m == nil {
		return
	}
	m.gauge.Inc()
	m.counter.Inc()
}

func (m *GaugeCounter) Dec() {
	if m == nil {
		return
	}
	m.gauge.Dec()
}

func (m *GaugeCounter) Set(v float64) {
	if m == nil {
		return
	}
	m.gauge.Set(v)
}

var (
	threadState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "microkern_thread_state",
		Help: "Current number of threads in a given scheduler state.",
	}, []string{"state"})
	threadStateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microkern_thread_state_total",
		Help: "Total number of times a thread entered a given scheduler state.",
	}, []string{"state"})

	schedPasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "microkern_scheduler_passes_total",
		Help: "Total number of scheduler invocations (yield, tick, or ISR event drain).",
	})
	tickEnabled = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "microkern_tick_enabled",
		Help: "1 if the periodic tick is currently enabled (tick reduction off), 0 otherwise.",
	})
	inheritanceDepth = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "microkern_priority_inheritance_depth",
		Help:    "Depth of the owner chain walked during priority-inheritance substitution.",
		Buckets: []float64{0, 1, 2, 3, 4, 8, 16},
	})

	mutexContention = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "microkern_mutex_contended_total",
		Help: "Total number of lock calls that found the mutex already held.",
	}, []string{"mutex"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "microkern_queue_depth",
		Help: "Current number of entries queued on a named object (threads pended on a semaphore).",
	}, []string{"queue"})

	contextResumeListLen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "microkern_context_resume_list_length",
		Help: "Current number of clients awaiting a resume message in a shared context.",
	}, []string{"context"})
)

// ThreadState returns the gauge/counter pair for a named scheduler state
// (e.g. "runnable", "wait_for_sem").
func ThreadState(state string) *GaugeCounter {
	return &GaugeCounter{gauge: threadState.WithLabelValues(state), counter: threadStateTotal.WithLabelValues(state)}
}

// SchedulerPass records one full scheduler invocation.
func SchedulerPass() { schedPasses.Inc() }

// SetTickEnabled records the tick-reduction decision.
func SetTickEnabled(enabled bool) {
	if enabled {
		tickEnabled.Set(1)
	} else {
		tickEnabled.Set(0)
	}
}

// ObserveInheritanceDepth records how many owners were walked substituting
// execution for priority inheritance (spec.md §4.1 step 4).
func ObserveInheritanceDepth(depth int) {
	inheritanceDepth.Observe(float64(depth))
}

// MutexContended increments the contention counter for a named mutex.
func MutexContended(name string) {
	mutexContention.WithLabelValues(name).Inc()
}

// SetQueueDepth reports the current entry count of a named queue; its
// caller, ksync.Semaphore.QueueDepth, reports threads pended on a
// semaphore.
func SetQueueDepth(name string, depth int) {
	queueDepth.WithLabelValues(name).Set(float64(depth))
}

// SetContextResumeListLen reports the current resume-list length of a
// named shared context.
func SetContextResumeListLen(name string, n int) {
	contextResumeListLen.WithLabelValues(name).Set(float64(n))
}
