package router

import (
	"sync"
	"time"
)

// PacketRouter is the dispatch and feedback hub described in package
// router's doc comment. A single PacketRouter instance is shared by a
// pacer thread (TimeToSendPacket, TimeToSendPadding,
// AllocateSequenceNumber), a receive-bitrate observer
// (OnReceiveBitrateChanged), a congestion controller
// (SendTransportFeedback), and the stream lifecycle that owns
// registration (Add/RemoveSendRtpModule, Add/RemoveReceiveRtpModule).
//
// Locking discipline: every exported method acquires mu on
// entry and releases it on return, including while calling back into a
// registered module. This is safe only because RtpModule callbacks are
// documented to be non-blocking and to never re-enter the router — do
// not attempt to split this into finer-grained locks without
// re-verifying that invariant holds for every module implementation in
// use.
type PacketRouter struct {
	mu sync.Mutex

	reg  registry
	seq  sequenceAllocator
	remb *rembElector
}

// Option configures a PacketRouter at construction time.
type Option func(*config)

type config struct {
	clock           Clock
	rembInterval    time.Duration
	rembDecrease    float64
	initialSequence uint16
}

// New creates a PacketRouter. Without options it uses the system clock,
// DefaultREMBInterval, DefaultREMBDecreaseThreshold, and an
// implementation-defined initial sequence number of 0 (see
// SetTransportWideSequenceNumber to pin a specific starting value).
func New(opts ...Option) *PacketRouter {
	cfg := config{
		clock:        systemClock{},
		rembInterval: DefaultREMBInterval,
		rembDecrease: DefaultREMBDecreaseThreshold,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	r := &PacketRouter{
		remb: newRembElector(cfg.clock, cfg.rembInterval, cfg.rembDecrease),
	}
	r.seq.set(cfg.initialSequence)
	return r
}

// WithClock overrides the Clock used for REMB throttling decisions.
// Intended for tests; production callers should leave this unset.
func WithClock(c Clock) Option {
	return func(cfg *config) { cfg.clock = c }
}

// WithREMBInterval overrides DefaultREMBInterval.
func WithREMBInterval(d time.Duration) Option {
	return func(cfg *config) { cfg.rembInterval = d }
}

// WithREMBDecreaseThreshold overrides DefaultREMBDecreaseThreshold.
func WithREMBDecreaseThreshold(f float64) Option {
	return func(cfg *config) { cfg.rembDecrease = f }
}

// WithInitialSequenceNumber is equivalent to calling
// SetTransportWideSequenceNumber immediately after New.
func WithInitialSequenceNumber(n uint16) Option {
	return func(cfg *config) { cfg.initialSequence = n }
}

// AddSendRtpModule registers handle as a send module, optionally as a
// REMB candidate, and re-runs REMB election. Panics if handle is already
// registered anywhere.
func (r *PacketRouter) AddSendRtpModule(handle RtpModule, rembCandidate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.addSend(handle, rembCandidate)
	r.remb.elect(&r.reg)
}

// AddReceiveRtpModule is the receive-side symmetric of AddSendRtpModule.
func (r *PacketRouter) AddReceiveRtpModule(handle RtpModule, rembCandidate bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reg.addReceive(handle, rembCandidate)
	r.remb.elect(&r.reg)
}

// RemoveSendRtpModule unregisters handle. If it was the Active REMB
// Module, SetREMBStatus(false) is invoked before it leaves the registry
// and re-election runs. Panics if handle is not registered as a send
// module.
func (r *PacketRouter) RemoveSendRtpModule(handle RtpModule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, isSend, ok := r.reg.find(handle); ok && isSend {
		r.remb.clearIfActive(e)
	}
	r.reg.removeSend(handle)
	r.remb.elect(&r.reg)
}

// RemoveReceiveRtpModule is the receive-side symmetric of
// RemoveSendRtpModule.
func (r *PacketRouter) RemoveReceiveRtpModule(handle RtpModule) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, isSend, ok := r.reg.find(handle); ok && !isSend {
		r.remb.clearIfActive(e)
	}
	r.reg.removeReceive(handle)
	r.remb.elect(&r.reg)
}

// TimeToSendPacket dispatches a pacer send decision to the send module
// currently sending ssrc. See dispatchPacket for the "true on no match"
// contract this preserves from the upstream system.
func (r *PacketRouter) TimeToSendPacket(ssrc uint32, seq uint16, captureTimeMs int64, isRetransmit bool, pacedInfo PacedPacketInfo) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return dispatchPacket(r.reg.send, ssrc, seq, captureTimeMs, isRetransmit, pacedInfo)
}

// TimeToSendPadding distributes a padding request across eligible send
// modules in padding-priority order, returning the total bytes sent.
func (r *PacketRouter) TimeToSendPadding(bytes int, pacedInfo PacedPacketInfo) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return dispatchPadding(r.reg.send, bytes, pacedInfo)
}

// SetTransportWideSequenceNumber pins the sequence counter so the next
// AllocateSequenceNumber call returns n+1 (mod 2^16).
func (r *PacketRouter) SetTransportWideSequenceNumber(n uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq.set(n)
}

// AllocateSequenceNumber returns the next transport-wide sequence
// number, shared by every outbound module, wrapping modulo 2^16.
func (r *PacketRouter) AllocateSequenceNumber() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.seq.allocate()
}

// OnReceiveBitrateChanged updates REMB throttling state and, per the
// policy described on rembElector, may emit a REMB via the Active REMB Module.
func (r *PacketRouter) OnReceiveBitrateChanged(ssrcs []uint32, bitrateBps uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.remb.onReceiveBitrateChanged(ssrcs, bitrateBps)
}

// SendTransportFeedback routes feedback to the first eligible module,
// preferring send modules over receive modules, both in insertion
// order. Returns whether any module accepted it.
func (r *PacketRouter) SendTransportFeedback(feedback Feedback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return sendTransportFeedback(r.reg.send, r.reg.receive, feedback)
}

// ActiveREMBModule returns the currently elected REMB module, or nil if
// none is active. Exposed for observability; the router does not expect
// callers to act on it beyond logging/metrics.
func (r *PacketRouter) ActiveREMBModule() RtpModule {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.remb.active == nil {
		return nil
	}
	return r.remb.active.handle
}
