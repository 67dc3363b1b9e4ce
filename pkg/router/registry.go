package router

import "fmt"

// moduleEntry pairs a registered module with the metadata the router
// caches about it at registration time. Entries live in plain slices,
// not maps, because insertion order governs REMB election tie-breaking
// and feedback/padding fallback order; the expected fleet size is small
// (typically at most a handful of modules per direction), so linear
// scans cost nothing a map would meaningfully save.
type moduleEntry struct {
	handle        RtpModule
	rembCandidate bool
	rtx           RtxSendStatus // sampled once at registration time
}

// registry holds the ordered send and receive module collections. It is
// not safe for concurrent use on its own — PacketRouter serializes all
// access to it under its single mutex.
type registry struct {
	send    []*moduleEntry
	receive []*moduleEntry
}

// find returns the entry for handle and which collection it lives in, or
// (nil, false, false) if the handle is registered nowhere.
func (r *registry) find(handle RtpModule) (entry *moduleEntry, isSend bool, ok bool) {
	for _, e := range r.send {
		if e.handle == handle {
			return e, true, true
		}
	}
	for _, e := range r.receive {
		if e.handle == handle {
			return e, false, true
		}
	}
	return nil, false, false
}

// addSend appends handle to the send collection. Panics if handle is
// already registered in either collection — duplicate registration is a
// programmer error, not a runtime condition.
func (r *registry) addSend(handle RtpModule, rembCandidate bool) *moduleEntry {
	if handle == nil {
		panic("router: AddSendRtpModule called with nil handle")
	}
	if _, _, ok := r.find(handle); ok {
		panic(fmt.Sprintf("router: module with SSRC %d already registered", handle.SSRC()))
	}
	e := &moduleEntry{handle: handle, rembCandidate: rembCandidate, rtx: handle.RtxSendStatus()}
	r.send = append(r.send, e)
	return e
}

// addReceive is the receive-side symmetric of addSend.
func (r *registry) addReceive(handle RtpModule, rembCandidate bool) *moduleEntry {
	if handle == nil {
		panic("router: AddReceiveRtpModule called with nil handle")
	}
	if _, _, ok := r.find(handle); ok {
		panic(fmt.Sprintf("router: module with SSRC %d already registered", handle.SSRC()))
	}
	e := &moduleEntry{handle: handle, rembCandidate: rembCandidate}
	r.receive = append(r.receive, e)
	return e
}

// removeSend removes handle from the send collection, returning the
// removed entry. Panics if handle is not registered there — removing an
// unregistered module is a programmer error.
func (r *registry) removeSend(handle RtpModule) *moduleEntry {
	for i, e := range r.send {
		if e.handle == handle {
			r.send = append(r.send[:i], r.send[i+1:]...)
			return e
		}
	}
	panic(fmt.Sprintf("router: RemoveSendRtpModule called on unregistered module (SSRC %d)", handle.SSRC()))
}

// removeReceive is the receive-side symmetric of removeSend.
func (r *registry) removeReceive(handle RtpModule) *moduleEntry {
	for i, e := range r.receive {
		if e.handle == handle {
			r.receive = append(r.receive[:i], r.receive[i+1:]...)
			return e
		}
	}
	panic(fmt.Sprintf("router: RemoveReceiveRtpModule called on unregistered module (SSRC %d)", handle.SSRC()))
}
