package interceptor

import (
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/packetrouter/pkg/bwe"
)

// makeRTPWithAbsSendTime creates an RTP packet with the abs-send-time extension.
// The extension uses one-byte header format (RFC 5285).
func makeRTPWithAbsSendTime(ssrc uint32, extID uint8, sendTime uint32) []byte {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 1234,
			Timestamp:      12345678,
			SSRC:           ssrc,
		},
		Payload: []byte{0x00, 0x01, 0x02, 0x03}, // Dummy payload
	}

	// abs-send-time is 3 bytes
	extData := []byte{
		byte(sendTime >> 16),
		byte(sendTime >> 8),
		byte(sendTime),
	}
	_ = pkt.Header.SetExtension(extID, extData)

	data, _ := pkt.Marshal()
	return data
}

// makeRTPWithoutExtension creates a basic RTP packet without any extensions.
func makeRTPWithoutExtension(ssrc uint32) []byte {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 1234,
			Timestamp:      12345678,
			SSRC:           ssrc,
		},
		Payload: []byte{0x00, 0x01, 0x02, 0x03},
	}

	data, _ := pkt.Marshal()
	return data
}

// mockRTPReader is a test reader that returns pre-defined packets.
type mockRTPReader struct {
	packets [][]byte
	index   int
}

func (m *mockRTPReader) Read(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
	if m.index >= len(m.packets) {
		return 0, nil, nil
	}
	pkt := m.packets[m.index]
	m.index++
	n := copy(b, pkt)
	return n, a, nil
}

// recordingObserver is a BitrateObserver test double that records every call.
type recordingObserver struct {
	mu    sync.Mutex
	calls []observerCall
}

type observerCall struct {
	ssrcs      []uint32
	bitrateBps uint64
}

func (o *recordingObserver) OnReceiveBitrateChanged(ssrcs []uint32, bitrateBps uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cp := make([]uint32, len(ssrcs))
	copy(cp, ssrcs)
	o.calls = append(o.calls, observerCall{ssrcs: cp, bitrateBps: bitrateBps})
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func (o *recordingObserver) last() observerCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[len(o.calls)-1]
}

func TestNewBWEInterceptor(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)

	t.Run("default options", func(t *testing.T) {
		i := NewBWEInterceptor(estimator)
		require.NotNil(t, i)
		assert.NotNil(t, i.estimator)
		assert.Equal(t, time.Second, i.reportInterval)
		assert.NotNil(t, i.closed)
	})

	t.Run("with custom options", func(t *testing.T) {
		observer := &recordingObserver{}
		i := NewBWEInterceptor(estimator,
			WithReportInterval(500*time.Millisecond),
			WithObserver(observer),
		)
		require.NotNil(t, i)
		assert.Equal(t, 500*time.Millisecond, i.reportInterval)
		assert.Equal(t, observer, i.observer)
	})
}

func TestBindRemoteStream_ExtractsExtensionIDs(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	t.Run("extracts abs-send-time ID", func(t *testing.T) {
		info := &interceptor.StreamInfo{
			SSRC: 12345,
			RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
				{URI: AbsSendTimeURI, ID: 3},
			},
		}

		reader := &mockRTPReader{}
		wrappedReader := i.BindRemoteStream(info, reader)

		assert.NotNil(t, wrappedReader)
		assert.Equal(t, uint32(3), i.absExtID.Load())
	})

	t.Run("extracts abs-capture-time ID", func(t *testing.T) {
		estimator2 := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
		i2 := NewBWEInterceptor(estimator2)

		info := &interceptor.StreamInfo{
			SSRC: 12345,
			RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
				{URI: AbsCaptureTimeURI, ID: 5},
			},
		}

		reader := &mockRTPReader{}
		_ = i2.BindRemoteStream(info, reader)

		assert.Equal(t, uint32(5), i2.captureExtID.Load())
	})

	t.Run("first stream wins for extension ID", func(t *testing.T) {
		estimator3 := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
		i3 := NewBWEInterceptor(estimator3)

		info1 := &interceptor.StreamInfo{
			SSRC: 11111,
			RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
				{URI: AbsSendTimeURI, ID: 3},
			},
		}
		_ = i3.BindRemoteStream(info1, &mockRTPReader{})
		assert.Equal(t, uint32(3), i3.absExtID.Load())

		info2 := &interceptor.StreamInfo{
			SSRC: 22222,
			RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
				{URI: AbsSendTimeURI, ID: 7},
			},
		}
		_ = i3.BindRemoteStream(info2, &mockRTPReader{})
		assert.Equal(t, uint32(3), i3.absExtID.Load()) // Still 3, not 7
	})
}

func TestProcessRTP_FeedsEstimator(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	testSSRC := uint32(0xABCDEF12)
	extID := uint8(3)

	info := &interceptor.StreamInfo{
		SSRC: testSSRC,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: int(extID)},
		},
	}

	sendTime := uint32(0x010000) // 1/4 second in 6.18 format
	rtpPacket := makeRTPWithAbsSendTime(testSSRC, extID, sendTime)

	reader := &mockRTPReader{packets: [][]byte{rtpPacket}}
	wrappedReader := i.BindRemoteStream(info, reader)

	buf := make([]byte, 1500)
	n, _, err := wrappedReader.Read(buf, nil)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	ssrcs := estimator.GetSSRCs()
	assert.Contains(t, ssrcs, testSSRC, "Estimator should have tracked the SSRC")
}

func TestProcessRTP_NoExtension_Skips(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	testSSRC := uint32(0x99999999)

	info := &interceptor.StreamInfo{
		SSRC: testSSRC,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: 3},
		},
	}

	rtpPacket := makeRTPWithoutExtension(testSSRC)

	reader := &mockRTPReader{packets: [][]byte{rtpPacket}}
	wrappedReader := i.BindRemoteStream(info, reader)

	buf := make([]byte, 1500)
	n, _, err := wrappedReader.Read(buf, nil)
	require.NoError(t, err)
	require.Greater(t, n, 0)

	ssrcs := estimator.GetSSRCs()
	assert.NotContains(t, ssrcs, testSSRC, "Estimator should not track SSRC from packet without timing extension")
}

func TestMultipleStreams_TrackedSeparately(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	ssrc1 := uint32(0x11111111)
	ssrc2 := uint32(0x22222222)

	info1 := &interceptor.StreamInfo{
		SSRC: ssrc1,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: 3},
		},
	}
	_ = i.BindRemoteStream(info1, &mockRTPReader{})

	info2 := &interceptor.StreamInfo{
		SSRC: ssrc2,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: 3},
		},
	}
	_ = i.BindRemoteStream(info2, &mockRTPReader{})

	var count int
	i.streams.Range(func(key, value interface{}) bool {
		count++
		ssrc := key.(uint32)
		assert.True(t, ssrc == ssrc1 || ssrc == ssrc2, "Unexpected SSRC in streams map")
		return true
	})
	assert.Equal(t, 2, count, "Expected 2 streams to be tracked")
}

func TestUnbindRemoteStream(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	testSSRC := uint32(0x55555555)

	info := &interceptor.StreamInfo{
		SSRC: testSSRC,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: 3},
		},
	}
	_ = i.BindRemoteStream(info, &mockRTPReader{})

	_, ok := i.streams.Load(testSSRC)
	assert.True(t, ok, "Stream should be tracked after BindRemoteStream")

	i.UnbindRemoteStream(info)

	_, ok = i.streams.Load(testSSRC)
	assert.False(t, ok, "Stream should be removed after UnbindRemoteStream")
}

func TestClose(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	err := i.Close()
	assert.NoError(t, err)

	select {
	case <-i.closed:
	default:
		t.Error("closed channel should be closed after Close()")
	}
}

func TestStreamState_UpdatedOnPacket(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	testSSRC := uint32(0xDEADBEEF)
	extID := uint8(3)

	info := &interceptor.StreamInfo{
		SSRC: testSSRC,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: int(extID)},
		},
	}

	sendTime := uint32(0x020000)
	rtpPacket := makeRTPWithAbsSendTime(testSSRC, extID, sendTime)

	reader := &mockRTPReader{packets: [][]byte{rtpPacket}}
	wrappedReader := i.BindRemoteStream(info, reader)

	stateVal, ok := i.streams.Load(testSSRC)
	require.True(t, ok)
	state := stateVal.(*streamState)
	initialTime := state.LastPacket()

	time.Sleep(time.Millisecond)

	buf := make([]byte, 1500)
	_, _, err := wrappedReader.Read(buf, nil)
	require.NoError(t, err)

	updatedTime := state.LastPacket()
	assert.True(t, updatedTime.After(initialTime) || updatedTime.Equal(initialTime),
		"Last packet time should be updated after processing packet")
}

func TestBindRTCPWriter_StartsReportLoop(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	observer := &recordingObserver{}
	// Use short interval for faster test
	i := NewBWEInterceptor(estimator, WithReportInterval(50*time.Millisecond), WithObserver(observer))
	defer i.Close()

	testSSRC := uint32(0xAABBCCDD)
	extID := uint8(3)

	info := &interceptor.StreamInfo{
		SSRC: testSSRC,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: int(extID)},
		},
	}

	var packets [][]byte
	for j := 0; j < 20; j++ {
		sendTime := uint32((j * 0x1000) & 0xFFFFFF)
		packets = append(packets, makeRTPWithAbsSendTime(testSSRC, extID, sendTime))
	}

	reader := &mockRTPReader{packets: packets}
	wrappedReader := i.BindRemoteStream(info, reader)

	buf := make([]byte, 1500)
	for j := 0; j < len(packets); j++ {
		n, _, err := wrappedReader.Read(buf, nil)
		require.NoError(t, err)
		require.Greater(t, n, 0)
		time.Sleep(5 * time.Millisecond)
	}

	// Bind RTCP writer (returned unchanged) - this starts the report loop.
	mockWriter := &mockRTCPWriter{}
	returnedWriter := i.BindRTCPWriter(mockWriter)
	assert.Equal(t, mockWriter, returnedWriter, "BindRTCPWriter should return the same writer")

	time.Sleep(200 * time.Millisecond)

	assert.Greater(t, observer.count(), 0, "Expected at least one bitrate report")
	last := observer.last()
	assert.Contains(t, last.ssrcs, testSSRC)
	assert.Greater(t, last.bitrateBps, uint64(0))
}

func TestReportLoop_NoObserver_NoPanic(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator, WithReportInterval(20*time.Millisecond))
	defer i.Close()

	i.BindRTCPWriter(&mockRTCPWriter{})
	time.Sleep(60 * time.Millisecond)
	// No assertion beyond "did not panic" - absence of an observer is valid.
}

func TestBindRTCPWriter_StartsOnlyOnce(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	observer := &recordingObserver{}
	i := NewBWEInterceptor(estimator, WithReportInterval(20*time.Millisecond), WithObserver(observer))
	defer i.Close()

	i.BindRTCPWriter(&mockRTCPWriter{})
	i.BindRTCPWriter(&mockRTCPWriter{})
	i.BindRTCPWriter(&mockRTCPWriter{})

	time.Sleep(100 * time.Millisecond)
	// If multiple report loops had started, Close() below would still
	// terminate cleanly since wg.Add/Done is balanced either way; the
	// real assertion is that startup itself does not panic or race.
}

// mockRTCPWriter is a test RTCPWriter that captures written packets.
type mockRTCPWriter struct {
	mu      sync.Mutex
	packets []rtcp.Packet
}

func (m *mockRTCPWriter) Write(pkts []rtcp.Packet, _ interceptor.Attributes) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.packets = append(m.packets, pkts...)
	return len(pkts), nil
}

// --- Stream Timeout and Close Tests ---

func TestStreamTimeout_RemovesInactiveStreams(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)
	defer i.Close()

	testSSRC := uint32(0x12345678)

	info := &interceptor.StreamInfo{
		SSRC: testSSRC,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: 3},
		},
	}
	_ = i.BindRemoteStream(info, &mockRTPReader{})

	_, exists := i.streams.Load(testSSRC)
	require.True(t, exists, "stream should exist initially")

	time.Sleep(3500 * time.Millisecond)

	_, exists = i.streams.Load(testSSRC)
	assert.False(t, exists, "stream should be removed after timeout")
}

func TestClose_StopsGoroutines(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	info := &interceptor.StreamInfo{
		SSRC: 12345,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: 3},
		},
	}
	_ = i.BindRemoteStream(info, &mockRTPReader{})
	i.BindRTCPWriter(&mockRTCPWriter{})

	done := make(chan struct{})
	go func() {
		err := i.Close()
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close() timed out - goroutines may not have stopped")
	}
}

func TestClose_BeforeGoroutinesStarted(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	err := i.Close()
	assert.NoError(t, err)
}

func TestCleanupLoop_ConcurrentAccess(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)
	defer i.Close()

	var wg sync.WaitGroup
	for j := 0; j < 10; j++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ssrc := uint32(idx)
			info := &interceptor.StreamInfo{
				SSRC: ssrc,
				RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
					{URI: AbsSendTimeURI, ID: 3},
				},
			}

			for k := 0; k < 10; k++ {
				_ = i.BindRemoteStream(info, &mockRTPReader{})
				time.Sleep(time.Millisecond)
				i.UnbindRemoteStream(info)
			}
		}(j)
	}

	wg.Wait()
}

func TestCleanupLoop_StartsOnlyOnce(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)

	for j := 0; j < 10; j++ {
		info := &interceptor.StreamInfo{
			SSRC: uint32(j),
			RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
				{URI: AbsSendTimeURI, ID: 3},
			},
		}
		_ = i.BindRemoteStream(info, &mockRTPReader{})
	}

	done := make(chan struct{})
	go func() {
		err := i.Close()
		assert.NoError(t, err)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Close() timed out - possible multiple cleanup goroutines issue")
	}
}

func TestStreamTimeout_ActiveStreamNotRemoved(t *testing.T) {
	estimator := bwe.NewBandwidthEstimator(bwe.DefaultBandwidthEstimatorConfig(), nil)
	i := NewBWEInterceptor(estimator)
	defer i.Close()

	testSSRC := uint32(0xAABBCCDD)
	extID := uint8(3)

	info := &interceptor.StreamInfo{
		SSRC: testSSRC,
		RTPHeaderExtensions: []interceptor.RTPHeaderExtension{
			{URI: AbsSendTimeURI, ID: int(extID)},
		},
	}

	var packets [][]byte
	for j := 0; j < 50; j++ {
		packets = append(packets, makeRTPWithAbsSendTime(testSSRC, extID, uint32(j*0x1000)))
	}

	reader := &mockRTPReader{packets: packets}
	wrappedReader := i.BindRemoteStream(info, reader)

	buf := make([]byte, 1500)
	stopCh := make(chan struct{})
	go func() {
		for j := 0; j < 30; j++ {
			select {
			case <-stopCh:
				return
			default:
				reader.packets = append(reader.packets, makeRTPWithAbsSendTime(testSSRC, extID, uint32((50+j)*0x1000)))
				wrappedReader.Read(buf, nil)
				time.Sleep(100 * time.Millisecond)
			}
		}
	}()

	time.Sleep(3500 * time.Millisecond)
	close(stopCh)

	_, exists := i.streams.Load(testSSRC)
	assert.True(t, exists, "active stream should not be removed")
}
