// Package frames carries captured audio from a source to the recognizer.
package frames

import (
	"maps"
	"sync"
	"time"
)

// Metadata keys carried on audio frames.
const (
	MetaStreamID = "stream_id"
	MetaSource   = "source"
	MetaCodec    = "codec"
	MetaCallSID  = "call_sid"
)

// Codec names understood by Duration. Frames without a codec are treated as
// 16-bit linear PCM.
const (
	CodecLinear16 = "linear16"
	CodecMulaw    = "ulaw"
	CodecAlaw     = "alaw"
)

// AudioFrame is one buffer of captured audio. The payload is opaque to the
// subtitle pipeline and is forwarded to the recognizer unchanged.
type AudioFrame struct {
	pts    time.Duration
	data   []byte
	rate   int
	ch     int
	meta   map[string]string
	pooled bool
}

func NewAudioFrame(streamID string, pts time.Duration, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	return AudioFrame{
		pts:  pts,
		data: data,
		rate: rate,
		ch:   ch,
		meta: withStream(streamID, meta),
	}
}

// NewAudioFrameFromPool copies data into a pooled buffer.
func NewAudioFrameFromPool(streamID string, pts time.Duration, data []byte, rate, ch int, meta map[string]string) AudioFrame {
	buf := AcquireAudioBuf(len(data))
	copy(buf, data)
	return WrapPooled(streamID, pts, buf, rate, ch, meta)
}

// WrapPooled builds a frame around buf, which must come from AcquireAudioBuf.
// The frame owns buf until ReleaseAudioFrame.
func WrapPooled(streamID string, pts time.Duration, buf []byte, rate, ch int, meta map[string]string) AudioFrame {
	f := NewAudioFrame(streamID, pts, buf, rate, ch, meta)
	f.pooled = true
	return f
}

// PTS is the presentation time of the first sample relative to the start of
// the stream.
func (a AudioFrame) PTS() time.Duration      { return a.pts }
func (a AudioFrame) Meta() map[string]string { return maps.Clone(a.meta) }
func (a AudioFrame) Data() []byte            { return append([]byte(nil), a.data...) }
func (a AudioFrame) RawPayload() []byte      { return a.data }
func (a AudioFrame) Rate() int               { return a.rate }
func (a AudioFrame) Channels() int           { return a.ch }
func (a AudioFrame) Len() int                { return len(a.data) }
func (a AudioFrame) StreamID() string        { return a.meta[MetaStreamID] }
func (a AudioFrame) Codec() string           { return a.meta[MetaCodec] }

// Duration is the playback length of the payload.
func (a AudioFrame) Duration() time.Duration {
	return PayloadDuration(len(a.data), a.rate, a.ch, a.Codec())
}

// PayloadDuration is the playback length of n bytes of codec audio, or zero
// when the rate or channel count is unknown.
func PayloadDuration(n, rate, ch int, codec string) time.Duration {
	if rate <= 0 || ch <= 0 {
		return 0
	}
	width := 2
	switch codec {
	case CodecMulaw, CodecAlaw:
		width = 1
	}
	samples := n / (width * ch)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// ReleaseAudioFrame returns a pooled payload to the pool. It reports false
// for frames that were not pool-backed. The frame must not be used after.
func ReleaseAudioFrame(f AudioFrame) bool {
	if !f.pooled {
		return false
	}
	ReleaseAudioBuf(f.data)
	return true
}

// PTSGen tracks the running stream position per stream id.
type PTSGen struct {
	mu  sync.Mutex
	pos map[string]time.Duration
}

func NewPTSGen() *PTSGen {
	return &PTSGen{pos: make(map[string]time.Duration)}
}

// Advance returns the current position of streamID and moves it forward by
// d. A non-positive d still advances by a millisecond so timestamps stay
// strictly increasing.
func (g *PTSGen) Advance(streamID string, d time.Duration) time.Duration {
	if d <= 0 {
		d = time.Millisecond
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	at := g.pos[streamID]
	g.pos[streamID] = at + d
	return at
}

// Reset forgets streamID.
func (g *PTSGen) Reset(streamID string) {
	g.mu.Lock()
	delete(g.pos, streamID)
	g.mu.Unlock()
}

var audioBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

func AcquireAudioBuf(size int) []byte {
	bp := audioBufPool.Get().(*[]byte)
	if cap(*bp) < size {
		audioBufPool.Put(bp)
		return make([]byte, size)
	}
	return (*bp)[:size]
}

func ReleaseAudioBuf(b []byte) {
	b = b[:0]
	audioBufPool.Put(&b)
}

func withStream(streamID string, meta map[string]string) map[string]string {
	out := make(map[string]string, 1+len(meta))
	maps.Copy(out, meta)
	if streamID != "" {
		out[MetaStreamID] = streamID
	}
	return out
}
