package avplay

import (
	"fmt"
	"io"
)

// autorotateFilterSpec turns a display-matrix rotation in degrees into the
// filter description Options.Autorotate inserts ahead of the video graph,
// mirroring ffplay's autorotate cascade (transpose for quarter turns, a
// plain flip for a half turn, a generic rotate otherwise). An empty result
// means no correction is needed.
func autorotateFilterSpec(rotationDegrees int) string {
	theta := float64(rotationDegrees)
	for theta > 180 {
		theta -= 360
	}
	for theta < -180 {
		theta += 360
	}
	abs := theta
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < 1:
		return ""
	case within(theta, 90, 1):
		return "transpose=clock"
	case within(abs, 180, 1):
		return "hflip,vflip"
	case within(theta, -90, 1):
		return "transpose=cclock"
	default:
		return fmt.Sprintf("rotate=%f*PI/180", theta)
	}
}

func within(v, target, tolerance float64) bool {
	d := v - target
	if d < 0 {
		d = -d
	}
	return d < tolerance
}

// VideoFormat describes the shape a video filter graph is negotiated
// against: width/height/pixel format/sample aspect ratio.
type VideoFormat struct {
	Width, Height                    int
	PixelFormat                      string
	SampleAspectNum, SampleAspectDen int
}

// AudioFormat describes the shape an audio filter graph is negotiated
// against: sample rate/channel layout/sample format.
type AudioFormat struct {
	SampleRate    int
	Channels      int
	ChannelLayout string
	SampleFormat  string
}

// VideoFilterGraph is the reconfigurable video filter collaborator:
// constructed with a source and sink, fed frames at the source, and
// drained at the sink until exhausted. It is rebuilt whenever the input
// shape changes or the user cycles a new filter spec.
type VideoFilterGraph interface {
	// Configure (re)builds the graph for spec (a filter description
	// string, opaque to the core) with input in, negotiating against
	// outCandidates. Returns the negotiated output format.
	Configure(spec string, in VideoFormat, outCandidates []VideoFormat) (VideoFormat, error)
	Push(f VideoFrame) error
	// Pull returns the next filtered frame, or io.EOF once the graph has
	// nothing buffered for the last pushed input.
	Pull() (VideoFrame, error)
	Close() error
}

// AudioFilterGraph is the audio counterpart of [VideoFilterGraph]. The
// [Player] configures it once, when playback starts, with the opened audio
// device's format as the only output candidate; there is no separate
// unconstrained negotiation pass.
type AudioFilterGraph interface {
	Configure(spec string, in AudioFormat, outCandidates []AudioFormat) (AudioFormat, error)
	Push(f AudioFrame) error
	Pull() (AudioFrame, error)
	Close() error
}

// passthroughVideoGraph is the degenerate "no filters configured" video
// graph: output format equals input format (or, if any candidate is
// offered, the first candidate at the input's width/height), and frames pass through
// unmodified. It grounds the default configuration the [Player] wires when
// the caller never supplies a custom [VideoFilterGraph].
type passthroughVideoGraph struct {
	pending []VideoFrame
	format  VideoFormat
}

func newPassthroughVideoGraph() *passthroughVideoGraph { return &passthroughVideoGraph{} }

func (g *passthroughVideoGraph) Configure(_ string, in VideoFormat, outCandidates []VideoFormat) (VideoFormat, error) {
	g.format = in
	if len(outCandidates) > 0 {
		g.format = outCandidates[0]
		g.format.Width, g.format.Height = in.Width, in.Height
	}
	return g.format, nil
}

func (g *passthroughVideoGraph) Push(f VideoFrame) error {
	g.pending = append(g.pending, f)
	return nil
}

func (g *passthroughVideoGraph) Pull() (VideoFrame, error) {
	if len(g.pending) == 0 {
		return VideoFrame{}, io.EOF
	}
	f := g.pending[0]
	g.pending = g.pending[1:]
	return f, nil
}

func (g *passthroughVideoGraph) Close() error { return nil }

// resamplingAudioGraph is the default [AudioFilterGraph]: it delegates
// actual sample-rate/channel/format conversion to a [Resampler].
type resamplingAudioGraph struct {
	resampler Resampler
	in        AudioFormat
	out       AudioFormat
	pending   []AudioFrame
}

func newResamplingAudioGraph(r Resampler) *resamplingAudioGraph {
	return &resamplingAudioGraph{resampler: r}
}

func (g *resamplingAudioGraph) Configure(_ string, in AudioFormat, outCandidates []AudioFormat) (AudioFormat, error) {
	out := in
	if len(outCandidates) > 0 {
		out = outCandidates[0]
	}
	if err := g.resampler.Configure(in.ChannelLayout, in.SampleFormat, in.SampleRate, out.ChannelLayout, out.SampleFormat, out.SampleRate); err != nil {
		return AudioFormat{}, err
	}
	g.in, g.out = in, out
	return out, nil
}

func (g *resamplingAudioGraph) Push(f AudioFrame) error {
	if g.out == g.in {
		g.pending = append(g.pending, f)
		return nil
	}
	outCap := f.NbSamples*2 + 256
	bytesPerSample := sampleFormatBytes(g.out.SampleFormat) * g.out.Channels
	outBuf := make([]byte, outCap*bytesPerSample)
	n, err := g.resampler.Convert([][]byte{f.Data}, f.NbSamples, outBuf, outCap)
	if err != nil {
		return err
	}
	f.Data = outBuf[:n*bytesPerSample]
	f.NbSamples = n
	f.SampleRate = g.out.SampleRate
	f.Channels = g.out.Channels
	f.ChannelLayout = g.out.ChannelLayout
	f.Format = g.out.SampleFormat
	g.pending = append(g.pending, f)
	return nil
}

func (g *resamplingAudioGraph) Pull() (AudioFrame, error) {
	if len(g.pending) == 0 {
		return AudioFrame{}, io.EOF
	}
	f := g.pending[0]
	g.pending = g.pending[1:]
	return f, nil
}

func (g *resamplingAudioGraph) Close() error { return nil }

func sampleFormatBytes(format string) int {
	switch format {
	case "s16":
		return 2
	case "s32", "flt":
		return 4
	case "dbl":
		return 8
	default:
		return 2
	}
}
