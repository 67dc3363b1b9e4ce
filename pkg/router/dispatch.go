package router

import "sort"

// dispatchPacket resolves ssrc to the first send module (in insertion
// order) that is currently sending media for it, and forwards the
// TimeToSendPacket call. If no module is sending at all, or no module
// matches ssrc, it returns true: the pacer must treat the packet as
// consumed rather than retry it. This is a deliberate, preserved
// upstream contract — changing it would alter pacer semantics it is not
// this router's place to revisit.
func dispatchPacket(send []*moduleEntry, ssrc uint32, seq uint16, captureTimeMs int64, isRetransmit bool, pacedInfo PacedPacketInfo) bool {
	for _, e := range send {
		if !e.handle.SendingMedia() {
			continue
		}
		if e.handle.SSRC() != ssrc {
			continue
		}
		return e.handle.TimeToSendPacket(ssrc, seq, captureTimeMs, isRetransmit, pacedInfo)
	}
	return true // nobody sending, or no SSRC match: treat as consumed
}

// paddingOrder returns send modules eligible to emit padding — currently
// sending media and carrying BWE extensions — sorted by padding
// priority: RedundantPayloads first, then WithPayload, then Off, ties
// broken by insertion order. RTX status was cached on the
// entry at registration time, so this is a stable sort over a snapshot,
// not a live re-query of each module.
func paddingOrder(send []*moduleEntry) []*moduleEntry {
	eligible := make([]*moduleEntry, 0, len(send))
	for _, e := range send {
		if e.handle.SendingMedia() && e.handle.HasBweExtensions() {
			eligible = append(eligible, e)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		return paddingRank(eligible[i].rtx) < paddingRank(eligible[j].rtx)
	})
	return eligible
}

// paddingRank maps RtxSendStatus to its padding priority, lower is
// preferred.
func paddingRank(s RtxSendStatus) int {
	switch s {
	case RtxRedundantPayloads:
		return 0
	case RtxWithPayload:
		return 1
	default: // RtxOff
		return 2
	}
}

// dispatchPadding walks the padding-priority-ordered eligible modules,
// requesting the remaining byte budget from each until it is exhausted
// or the list runs out, returning the total bytes actually sent.
func dispatchPadding(send []*moduleEntry, requestedBytes int, pacedInfo PacedPacketInfo) int {
	remaining := requestedBytes
	for _, e := range paddingOrder(send) {
		if remaining == 0 {
			break
		}
		sent := e.handle.TimeToSendPadding(remaining, pacedInfo)
		if sent > remaining {
			sent = remaining // a misbehaving module must not overdraw the budget
		}
		remaining -= sent
	}
	return requestedBytes - remaining
}
