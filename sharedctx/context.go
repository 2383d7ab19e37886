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

// Package sharedctx is the cooperative shared-context message-dispatch
// runtime (spec component C9): many clients multiplex onto one thread,
// one stack, and one message queue, trading preemption between them for
// the simplicity of never needing a mutex to protect client-private
// state from concurrent access by other clients (spec.md §4.6:
// "Within a context, clients never preempt each other; mutex contention
// between them is eliminated").
package sharedctx

import (
	"math"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/mneedes/microkern/internal/klist"
	"github.com/mneedes/microkern/kmutex"
	"github.com/mneedes/microkern/kqueue"
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/metrics"
	"github.com/mneedes/microkern/sched"
)

// Reserved message IDs occupy the top four values of the uint32 space, so
// any ordinary application-defined message ID comfortably avoids them
// (spec.md §3: "message id (u32 with the top four values reserved)").
const (
	StartClient  uint32 = math.MaxUint32 - 3
	StopClient   uint32 = math.MaxUint32 - 2
	ResumeClient uint32 = math.MaxUint32 - 1
	StopContext  uint32 = math.MaxUint32
)

// ContextMessage is the unit of dispatch. A nil Client means broadcast to
// every attached client.
type ContextMessage struct {
	Client *Client
	MsgID  uint32
	Data   any
}

// Handler processes one message addressed to (or broadcast toward) a
// client. The returned bool is "completed": false asks the context to
// re-invoke the handler later via a queued ResumeClient message, giving
// the client a way to make incremental progress without blocking the
// one thread every other client in the context also depends on.
type Handler func(msg ContextMessage) bool

// Client is one participant multiplexed onto a Context's thread.
type Client struct {
	id      xid.ID
	name    string
	handler Handler
	data    any

	ctx *Context

	clientLink klist.Link
	resumeLink klist.Link
	onResume   bool
	completed  bool
}

// Name identifies the client for logging.
func (c *Client) Name() string { return c.name }

// ID is the client's compact sortable identity (mirrors
// kthread.Descriptor.ID), used in log fields instead of the client's
// pointer.
func (c *Client) ID() xid.ID { return c.id }

// Data returns the private pointer passed at attach time.
func (c *Client) Data() any { return c.data }

// Context bundles one message queue, one client list, one resume list,
// and the thread that runs them (spec.md §4.6).
type Context struct {
	name string
	sc   *sched.Scheduler
	log  *zap.Logger

	queue *kqueue.Queue
	mu    *kmutex.Mutex

	clientList klist.Link
	resumeList klist.Link

	thread *kthread.Descriptor

	// handlerBudget, if nonzero, is SPEC_FULL.md's watchdog-less deadline
	// assertion: a handler call that runs longer than this is logged as a
	// warning, standing in for the hardware watchdog a real target would
	// reset against (see DESIGN.md).
	handlerBudget time.Duration
}

// New constructs a context with a message queue of the given depth. A
// handlerBudget of zero disables the deadline warning.
func New(sc *sched.Scheduler, name string, queueDepth int, handlerBudget time.Duration, log *zap.Logger) *Context {
	ctx := &Context{
		name:          name,
		sc:            sc,
		log:           log,
		queue:         kqueue.New(sc, name+".msgs", queueDepth),
		mu:            kmutex.New(sc, name+".lock"),
		handlerBudget: handlerBudget,
	}
	ctx.clientList.Init()
	ctx.resumeList.Init()
	return ctx
}

// Start spawns the runner thread at the given priority and stack size.
func (ctx *Context) Start(priority int, stackSize uint32) *kthread.Descriptor {
	d := kthread.New(ctx.name, priority, ctx.run, nil, nil, nil, stackSize, ctx.log)
	ctx.thread = d
	ctx.sc.Spawn(d)
	return d
}

// Thread returns the descriptor of the context's runner thread, valid
// after Start.
func (ctx *Context) Thread() *kthread.Descriptor { return ctx.thread }

// AttachClient registers a new client and queues its StartClient message.
// Must not be called from within one of this context's own handlers — use
// a ResumeClient-driven handler-side attach instead, since a blocking Send
// from the runner thread into its own full queue would deadlock it
// (spec.md §4.6: "Inter-client sends should use the non-blocking try-send
// to avoid self-deadlock").
func (ctx *Context) AttachClient(self *kthread.Descriptor, name string, handler Handler, data any) *Client {
	c := &Client{id: xid.New(), name: name, handler: handler, data: data, ctx: ctx}
	c.clientLink.Init()
	c.clientLink.Value = c
	c.resumeLink.Init()
	c.resumeLink.Value = c

	ctx.mu.Lock(self)
	ctx.clientList.PushBack(&c.clientLink)
	ctx.mu.Unlock(self)

	ctx.queue.Send(self, ContextMessage{Client: c, MsgID: StartClient})
	return c
}

// DetachClient removes c from the client and resume lists. Safe to call
// from the runner thread itself (kmutex.Mutex is recursive), so a handler
// may detach its own client in response to a StopClient delivery.
func (ctx *Context) DetachClient(self *kthread.Descriptor, c *Client) {
	ctx.mu.Lock(self)
	c.clientLink.Remove()
	if c.onResume {
		c.resumeLink.Remove()
		c.onResume = false
	}
	ctx.mu.Unlock(self)
}

// Broadcast queues msgID/data for delivery to every attached client.
// StopContext terminates the runner loop once the sweep completes.
func (ctx *Context) Broadcast(self *kthread.Descriptor, msgID uint32, data any) {
	ctx.queue.Send(self, ContextMessage{MsgID: msgID, Data: data})
}

// TryBroadcast is Broadcast without blocking, for use from within a
// handler running on the context's own thread.
func (ctx *Context) TryBroadcast(msgID uint32, data any) bool {
	return ctx.queue.TrySend(ContextMessage{MsgID: msgID, Data: data})
}

// SendTo queues a unicast message to c without blocking, reporting
// whether the queue had room. This is the call a client's own handler
// should use to message another client in the same context, or itself.
func (ctx *Context) SendTo(c *Client, msgID uint32, data any) bool {
	return ctx.queue.TrySend(ContextMessage{Client: c, MsgID: msgID, Data: data})
}

// Unicast queues a message to c, blocking self if the queue is full.
// For use by a thread outside the context (a driver or producer thread),
// never by one of the context's own handlers — see AttachClient.
func (ctx *Context) Unicast(self *kthread.Descriptor, c *Client, msgID uint32, data any) {
	ctx.queue.Send(self, ContextMessage{Client: c, MsgID: msgID, Data: data})
}

// run is the context's thread entry: receive, dispatch, drain resume
// list, repeat, until a StopContext sweep completes (spec.md §4.6 Runner
// loop, steps 1-4).
func (ctx *Context) run(self *kthread.Descriptor) {
	for {
		raw := ctx.queue.Receive(self)
		msg := raw.(ContextMessage)

		var stop bool
		if msg.Client != nil {
			ctx.dispatchUnicast(self, msg)
		} else {
			stop = ctx.dispatchBroadcast(self, msg)
		}
		ctx.drainResume(self)

		if stop {
			return
		}
	}
}

func (ctx *Context) dispatchUnicast(self *kthread.Descriptor, msg ContextMessage) {
	c := msg.Client

	ctx.mu.Lock(self)
	attached := c.clientLink.OnList()
	staleResume := msg.MsgID == ResumeClient && c.completed
	ctx.mu.Unlock(self)
	if !attached {
		// A ResumeClient for a client that detached since it was queued;
		// the spec calls this out explicitly for the broadcast-stop case,
		// and the same reasoning covers any unicast delivered late.
		return
	}
	if staleResume {
		// The client completed via some other message while this
		// ResumeClient was still sitting in the queue from an earlier
		// drainResume (spec.md §4.6 Guarantees: "A queued ResumeClient is
		// ignored if the client already completed on a subsequent
		// message").
		return
	}

	completed := ctx.callHandler(c, msg)

	ctx.mu.Lock(self)
	ctx.updateResumeLocked(c, completed)
	ctx.mu.Unlock(self)
}

// dispatchBroadcast delivers msg to every attached client in turn,
// reporting whether the runner loop should terminate after the sweep.
func (ctx *Context) dispatchBroadcast(self *kthread.Descriptor, msg ContextMessage) bool {
	stopAfter := msg.MsgID == StopContext
	deliverID := msg.MsgID
	if stopAfter {
		deliverID = StopClient
	}

	ctx.mu.Lock(self)
	clients := make([]*Client, 0, 4)
	ctx.clientList.Each(func(l *klist.Link) {
		clients = append(clients, l.Value.(*Client))
	})
	ctx.mu.Unlock(self)

	for _, c := range clients {
		perClient := msg
		perClient.Client = c
		perClient.MsgID = deliverID

		completed := ctx.callHandler(c, perClient)

		ctx.mu.Lock(self)
		ctx.updateResumeLocked(c, completed)
		ctx.mu.Unlock(self)
	}
	return stopAfter
}

// callHandler invokes c's handler, logging a warning if it runs longer
// than ctx.handlerBudget (when nonzero).
func (ctx *Context) callHandler(c *Client, msg ContextMessage) bool {
	start := time.Now()
	completed := c.handler(msg)
	if ctx.handlerBudget > 0 && ctx.log != nil {
		if elapsed := time.Since(start); elapsed > ctx.handlerBudget {
			ctx.log.Warn("shared context handler exceeded budget",
				zap.String("context", ctx.name),
				zap.String("client", c.name),
				zap.String("client_id", c.id.String()),
				zap.Duration("elapsed", elapsed),
				zap.Duration("budget", ctx.handlerBudget))
		}
	}
	return completed
}

// updateResumeLocked runs under ctx.mu: a client that returned
// completed=false joins the resume list (once); a client that returned
// true leaves it if present (spec.md §4.6 step 2-3).
func (ctx *Context) updateResumeLocked(c *Client, completed bool) {
	c.completed = completed
	if !completed {
		if !c.onResume {
			ctx.resumeList.PushBack(&c.resumeLink)
			c.onResume = true
		}
		return
	}
	if c.onResume {
		c.resumeLink.Remove()
		c.onResume = false
	}
}

// drainResume attempts a non-blocking ResumeClient send to every
// not-yet-completed resume-list entry, stopping at the first queue-full
// failure (spec.md §4.6 step 4: "drains naturally on next iteration").
func (ctx *Context) drainResume(self *kthread.Descriptor) {
	ctx.mu.Lock(self)
	pending := make([]*Client, 0, 4)
	ctx.resumeList.Each(func(l *klist.Link) {
		c := l.Value.(*Client)
		if !c.completed {
			pending = append(pending, c)
		}
	})
	n := len(pending)
	ctx.mu.Unlock(self)
	metrics.SetContextResumeListLen(ctx.name, n)

	for _, c := range pending {
		if !ctx.queue.TrySend(ContextMessage{Client: c, MsgID: ResumeClient}) {
			return
		}
	}
}
