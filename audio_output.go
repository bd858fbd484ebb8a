package avplay

import (
	"math"
	"sync"
	"time"
)

// Audio sync tunables.
const (
	audioDiffAvgCoeff = 0.79 // exponential moving average weight, ffplay-style
	audioDiffMinCount = 20   // don't correct until this many consecutive diffs agree

	// fallbackAudioSyncThreshold is used only when the opened device spec
	// reports no buffer size, so diff_threshold can still be computed.
	fallbackAudioSyncThreshold = 23 * time.Millisecond
)

// AudioOutput is the audio half of the presentation pipeline: it exposes a
// pull callback wired to an [AudioDevice]
// that drains [AudioFrame]s from the frame queue, applies volume/mute, drifts
// the frame toward the sync master via [Resampler] compensation, and
// advances the audio [Clock] from what was actually handed to the device.
type AudioOutput struct {
	audioq *FrameQueue[AudioFrame]
	device AudioDevice
	clock  *Clock

	resampler   Resampler // may be nil: no drift compensation available
	isMaster    func() bool
	masterValue func() float64

	spec AudioDeviceSpec

	// syncThreshold is hw_buf_size / bytes_per_second, computed once from
	// the negotiated device spec rather than borrowing the unrelated
	// AV_SYNC constant.
	syncThreshold time.Duration

	mu      sync.Mutex
	volume  float64
	muted   bool

	cur        *AudioFrame
	curData    []byte
	consumed   int

	diffAvg   time.Duration
	diffCount int
}

// NewAudioOutput wires an output over audioq, negotiating device against
// desired and registering the pull callback.
func NewAudioOutput(audioq *FrameQueue[AudioFrame], device AudioDevice, clock *Clock, resampler Resampler, isMaster func() bool, masterValue func() float64, desired AudioDeviceSpec) (*AudioOutput, error) {
	opened, err := device.Open(desired)
	if err != nil {
		return nil, err
	}
	syncThreshold := opened.BufferSize
	if syncThreshold <= 0 {
		syncThreshold = fallbackAudioSyncThreshold
	}
	o := &AudioOutput{
		audioq:        audioq,
		device:        device,
		clock:         clock,
		resampler:     resampler,
		isMaster:      isMaster,
		masterValue:   masterValue,
		spec:          opened,
		syncThreshold: syncThreshold,
		volume:        1.0,
	}
	device.SetCallback(o.fillCallback)
	return o, nil
}

// SetVolume sets linear output volume in [0,1].
func (o *AudioOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	o.volume = v
}

// SetMuted toggles mute without losing the configured volume level.
func (o *AudioOutput) SetMuted(m bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.muted = m
}

// fillCallback is invoked by the audio device thread whenever it needs more
// bytes. It must never block on decode/network I/O: when the
// frame queue has nothing ready, it pads with silence rather than waiting.
func (o *AudioOutput) fillCallback(out []byte) {
	for len(out) > 0 {
		if o.cur == nil || o.consumed >= len(o.curData) {
			if !o.loadNextFrame() {
				zeroFill(out)
				return
			}
		}
		n := copy(out, o.curData[o.consumed:])
		o.applyVolume(out[:n])
		o.consumed += n
		out = out[n:]
		if o.consumed >= len(o.curData) {
			o.updateClock()
		}
	}
}

func zeroFill(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// loadNextFrame pops the next ready frame without blocking, wiring in
// drift compensation before committing to it.
func (o *AudioOutput) loadNextFrame() bool {
	frame := o.audioq.PeekCurrent()
	if frame == nil {
		return false
	}
	o.synchronizeAudio(frame)
	data := frame.Data
	o.cur = frame
	o.curData = data
	o.consumed = 0
	o.audioq.Advance()
	return true
}

// synchronizeAudio compares the frame's pts against where the sync master
// expects audio to be, and if the drift is both
// above threshold and has persisted for audioDiffMinCount frames, ask the
// resampler to stretch/compress the upcoming conversion instead of
// truncating or padding samples outright. A no-op when audio is itself the
// sync master, or no resampler is wired.
func (o *AudioOutput) synchronizeAudio(frame *AudioFrame) {
	if o.resampler == nil || o.isMaster() {
		return
	}
	masterVal := o.masterValue()
	if math.IsNaN(masterVal) {
		return
	}
	diff := frame.Pts.Seconds() - masterVal
	diffDur := time.Duration(diff * float64(time.Second))
	if math.Abs(diff) >= NoSyncThreshold.Seconds() {
		o.diffAvg, o.diffCount = 0, 0
		return
	}

	o.diffAvg = time.Duration(float64(diffDur)*(1-audioDiffAvgCoeff) + float64(o.diffAvg)*audioDiffAvgCoeff)
	o.diffCount++
	if o.diffCount < audioDiffMinCount {
		return
	}
	if o.diffAvg > -o.syncThreshold && o.diffAvg < o.syncThreshold {
		return
	}

	wantedSamples := frame.NbSamples + int(o.diffAvg.Seconds()*float64(frame.SampleRate))
	minSamples := frame.NbSamples * 90 / 100
	maxSamples := frame.NbSamples * 110 / 100
	if wantedSamples < minSamples {
		wantedSamples = minSamples
	}
	if wantedSamples > maxSamples {
		wantedSamples = maxSamples
	}
	_ = o.resampler.SetCompensation(wantedSamples-frame.NbSamples, frame.NbSamples)
}

// updateClock sets the audio clock from the frame just fully consumed,
// compensating for bytes still sitting in the hardware buffer so the clock
// reflects what's audible now rather than what's been handed to the device.
func (o *AudioOutput) updateClock() {
	if o.cur == nil {
		return
	}
	bytesPerSecond := o.cur.SampleRate * o.cur.Channels * sampleFormatBytes(o.cur.Format)
	latency := time.Duration(0)
	if bytesPerSecond > 0 {
		latency = time.Duration(o.device.BufferedBytes()) * time.Second / time.Duration(bytesPerSecond)
	}
	framePts := o.cur.Pts + o.cur.Duration
	o.clock.Set(framePts.Seconds()-latency.Seconds(), o.cur.Serial)
}

func (o *AudioOutput) applyVolume(b []byte) {
	o.mu.Lock()
	vol, muted := o.volume, o.muted
	o.mu.Unlock()
	if muted {
		zeroFill(b)
		return
	}
	if vol >= 0.999 {
		return
	}
	scaleS16(b, vol)
}

// scaleS16 scales a little-endian s16 PCM buffer in place by vol. Other
// sample formats are left untouched: the device is always negotiated to
// s16 output in this implementation.
func scaleS16(b []byte, vol float64) {
	for i := 0; i+1 < len(b); i += 2 {
		s := int16(uint16(b[i]) | uint16(b[i+1])<<8)
		scaled := int32(float64(s) * vol)
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		}
		if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		b[i] = byte(scaled)
		b[i+1] = byte(scaled >> 8)
	}
}

// Close stops the device and releases it.
func (o *AudioOutput) Close() error {
	return o.device.Close()
}
