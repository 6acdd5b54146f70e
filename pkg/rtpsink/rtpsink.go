// Package rtpsink is a concrete, optional cadence.Sink implementation
// that packetizes frames into RTP and writes them to a pion/webrtc
// local track.
//
// It lives outside the cadence core: the sink is an external
// collaborator, not part of the scheduling logic itself. This package
// demonstrates a real one so a Dispatcher can be exercised end-to-end.
package rtpsink

import (
	"io"
	"math/rand"
	"sync/atomic"

	"github.com/lucsky/cuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"framecadence/cadence"
	"framecadence/internal/log"
)

// ErrClosed is returned by writes issued after Close, reusing the
// stdlib sentinel that pion/webrtc's local track write path returns
// for "write to a closed track".
var ErrClosed = io.ErrClosedPipe

// Sink packetizes cadence.Frame values into RTP and writes them to a
// pion/webrtc local track. It satisfies cadence.Sink.
type Sink struct {
	id    string
	track *webrtc.TrackLocalStaticRTP
	ssrc  uint32

	seq    uint32 // atomic; truncated to uint16 per packet
	closed int32  // atomic bool

	onDiscardFeedback func()
}

// New creates a Sink backed by a fresh pion/webrtc local RTP track
// with the given codec and stream id.
func New(codec webrtc.RTPCodecCapability, streamID string) (*Sink, error) {
	id := cuid.New()
	track, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Sink{
		id:    id,
		track: track,
		ssrc:  rand.Uint32(),
	}, nil
}

// Track returns the underlying local track, for adding to a
// webrtc.PeerConnection.
func (s *Sink) Track() *webrtc.TrackLocalStaticRTP {
	return s.track
}

// OnDiscardFeedback registers the callback invoked when inbound RTCP
// feedback (PLI/NACK) references a frame this sink has no way to
// retransmit — wire this to Dispatcher.OnDiscardedFrame.
func (s *Sink) OnDiscardFeedback(f func()) {
	s.onDiscardFeedback = f
}

// OnFrame implements cadence.Sink. Write errors are logged rather
// than returned, except ErrClosed, which is dropped silently after
// Close — the interface is void because a
// dispatcher worker has no caller to propagate a write failure to.
// Use WriteRTP directly for a return path.
func (s *Sink) OnFrame(postTimeUs int64, ingressDepth int, frame cadence.Frame) {
	if err := s.WriteRTP(frame); err != nil && err != ErrClosed {
		log.Errorf("rtpsink[%s]: write rtp: %v", s.id, err)
	}
}

// WriteRTP packetizes frame and writes it to the underlying track,
// returning ErrClosed if the sink has been closed and any error the
// track write itself produces.
func (s *Sink) WriteRTP(frame cadence.Frame) error {
	if atomic.LoadInt32(&s.closed) != 0 {
		return ErrClosed
	}
	seq := uint16(atomic.AddUint32(&s.seq, 1))
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         true,
			SequenceNumber: seq,
			// The wire RTP timestamp is rewritten downstream by the
			// encoder; this sink only needs a monotonically sensible
			// placeholder so the track accepts the packet.
			Timestamp: uint32(frame.CaptureTimestampUs),
			SSRC:      s.ssrc,
		},
		Payload: frame.Payload,
	}
	return s.track.WriteRTP(pkt)
}

// OnDiscardedFrame implements cadence.Sink.
func (s *Sink) OnDiscardedFrame() {
	log.Debugf("rtpsink[%s]: ingress frame discarded before reaching sink", s.id)
}

// Close marks the sink closed; subsequent OnFrame calls are no-ops.
func (s *Sink) Close() {
	atomic.StoreInt32(&s.closed, 1)
}

// HandleRTCP decodes inbound RTCP and, on a PLI or NACK, invokes the
// discard-feedback hook as pure telemetry — this sink holds no
// retransmission buffer, so there is nothing to resend.
func (s *Sink) HandleRTCP(raw []byte) error {
	pkts, err := rtcp.Unmarshal(raw)
	if err != nil {
		return err
	}
	for _, pkt := range pkts {
		switch pkt.(type) {
		case *rtcp.PictureLossIndication, *rtcp.TransportLayerNack:
			if s.onDiscardFeedback != nil {
				s.onDiscardFeedback()
			}
		}
	}
	return nil
}
