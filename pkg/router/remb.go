package router

import "time"

// DefaultREMBInterval is the regular REMB send interval used when a
// PacketRouter is constructed without WithREMBInterval. 200ms matches
// related pacing modules in comparable real-time transports; it is
// named here so callers can reference it instead of a magic literal.
const DefaultREMBInterval = 200 * time.Millisecond

// DefaultREMBDecreaseThreshold is the minimum relative decrease in the
// receive-bitrate observation that triggers an immediate REMB, bypassing
// the regular interval: a decrease of more than 3%.
const DefaultREMBDecreaseThreshold = 0.03

// rembElector owns the single Active REMB Module and the throttling
// state used to pace SetREMBData calls. It holds no lock itself;
// PacketRouter's mutex protects every call into it.
type rembElector struct {
	clock    Clock
	interval time.Duration
	decrease float64

	active *moduleEntry

	lastSendTime   time.Time
	lastBitrateBps uint64
	haveLastBitrate bool
}

func newRembElector(clock Clock, interval time.Duration, decrease float64) *rembElector {
	return &rembElector{clock: clock, interval: interval, decrease: decrease}
}

// elect re-runs the election rule against the current registry
// contents: prefer any send module over any receive module, and within
// the preferred class pick the earliest-inserted REMB-candidate module.
// Called after every Add/Remove. When the winner changes, the previous
// Active module (if any) is told SetREMBStatus(false) and the new one
// (if any) SetREMBStatus(true).
func (r *rembElector) elect(reg *registry) {
	next := electCandidate(reg)
	if next == r.active {
		return
	}
	if r.active != nil {
		r.active.handle.SetREMBStatus(false)
	}
	r.active = next
	if r.active != nil {
		r.active.handle.SetREMBStatus(true)
	}
}

// electCandidate finds the winning entry without mutating elector state,
// so it can also be used to answer "would this removal change the
// winner" without side effects.
func electCandidate(reg *registry) *moduleEntry {
	if e := firstCandidate(reg.send); e != nil {
		return e
	}
	return firstCandidate(reg.receive)
}

func firstCandidate(entries []*moduleEntry) *moduleEntry {
	for _, e := range entries {
		if e.rembCandidate {
			return e
		}
	}
	return nil
}

// clearIfActive clears the elector's active pointer (and disables REMB
// on the module) if e is the currently active module. Callers invoke
// this before removing e from the registry, so a module's REMB status
// is always cleared before it is released from the registry.
func (r *rembElector) clearIfActive(e *moduleEntry) {
	if r.active == e {
		e.handle.SetREMBStatus(false)
		r.active = nil
	}
}

// onReceiveBitrateChanged implements the two-condition emission policy:
// emit immediately if the REMB interval has elapsed since the last
// send, or if the new observation is a decrease of more than the
// configured threshold from the last observed bitrate. The last bitrate
// is updated unconditionally so the next decrease comparison is always
// against the latest observation, even when no REMB was sent.
func (r *rembElector) onReceiveBitrateChanged(ssrcs []uint32, bitrateBps uint64) {
	now := r.clock.Now()

	decreased := r.haveLastBitrate && float64(bitrateBps) < float64(r.lastBitrateBps)*(1-r.decrease)
	intervalElapsed := r.lastSendTime.IsZero() || now.Sub(r.lastSendTime) >= r.interval

	r.lastBitrateBps = bitrateBps
	r.haveLastBitrate = true

	if !decreased && !intervalElapsed {
		return
	}
	if r.active == nil {
		return
	}
	r.active.handle.SetREMBData(bitrateBps, ssrcs)
	r.lastSendTime = now
}
