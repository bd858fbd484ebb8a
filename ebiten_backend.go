package avplay

import (
	"image/color"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
)

// EbitenDisplay is the [Display] collaborator backed by an
// *ebiten.Image texture. ebiten's window itself is process-global and only
// actually presented inside an *ebiten.Game's Draw callback, so Present
// just marks the texture ready; the caller's Game.Draw is expected to blit
// [EbitenDisplay.Texture]() onto the screen (for example through [Draw]).
type EbitenDisplay struct {
	texture *ebiten.Image
	width, height int
	title   string
}

// NewEbitenDisplay creates an empty, black-filled [Display]. CreateWindow
// sizes both the ebiten window and the backing texture.
func NewEbitenDisplay() *EbitenDisplay {
	return &EbitenDisplay{}
}

func (d *EbitenDisplay) CreateWindow(title string, width, height int) error {
	d.title = title
	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(width, height)
	return d.Resize(width, height)
}

func (d *EbitenDisplay) Resize(width, height int) error {
	d.width, d.height = width, height
	d.texture = ebiten.NewImage(width, height)
	d.texture.Fill(color.Black)
	return nil
}

// UploadTexture syncs f's pixel buffer into the texture, flipping rows
// first if f.FlipV requests it.
func (d *EbitenDisplay) UploadTexture(f *VideoFrame) error {
	if d.texture == nil || d.width != f.Width || d.height != f.Height {
		if err := d.Resize(f.Width, f.Height); err != nil {
			return err
		}
	}
	if !f.FlipV {
		d.texture.WritePixels(f.Data)
		return nil
	}

	stride := f.Width * 4
	flipped := make([]byte, len(f.Data))
	for row := 0; row < f.Height; row++ {
		src := f.Data[row*stride : (row+1)*stride]
		dst := flipped[(f.Height-1-row)*stride : (f.Height-row)*stride]
		copy(dst, src)
	}
	d.texture.WritePixels(flipped)
	return nil
}

// Present is a no-op: ebiten presents whatever the game's Draw callback
// blits during its own frame, not on demand.
func (d *EbitenDisplay) Present() error { return nil }

func (d *EbitenDisplay) Close() error { return nil }

// Texture exposes the backing image for a host ebiten.Game's Draw
// callback to blit through [Draw]/[CalcProjection].
func (d *EbitenDisplay) Texture() *ebiten.Image { return d.texture }

// --- audio device ---

// EbitenAudioDevice is the [AudioDevice] collaborator backed by
// github.com/hajimehoshi/ebiten/v2/audio: an audio.Player constructed over
// an io.Reader whose Read pulls from the registered callback instead of
// decoding inline.
type EbitenAudioDevice struct {
	ctx    *audio.Context
	player *audio.Player
	cb     func(out []byte)
	rate   int
}

// NewEbitenAudioDevice wires a device against ctx (pass nil to use or
// create the process-wide context for the desired sample rate).
func NewEbitenAudioDevice(ctx *audio.Context) *EbitenAudioDevice {
	return &EbitenAudioDevice{ctx: ctx}
}

func (d *EbitenAudioDevice) Open(desired AudioDeviceSpec) (AudioDeviceSpec, error) {
	if d.ctx == nil {
		d.ctx = audio.CurrentContext()
	}
	if d.ctx == nil {
		d.ctx = audio.NewContext(desired.SampleRate)
	}
	if d.ctx.SampleRate() != desired.SampleRate {
		pkgLogger.Printf("WARNING: audio context sample rate = %d, desired = %d", d.ctx.SampleRate(), desired.SampleRate)
	}
	d.rate = d.ctx.SampleRate()
	return AudioDeviceSpec{SampleRate: d.rate, Channels: 2, Format: "s16", BufferSize: 200 * time.Millisecond}, nil
}

func (d *EbitenAudioDevice) SetCallback(cb func(out []byte)) {
	d.cb = cb
	player, err := d.ctx.NewPlayer(&callbackReader{dev: d})
	if err != nil {
		pkgLogger.Printf("avplay: failed to create audio player: %v", err)
		return
	}
	player.SetBufferSize(200 * time.Millisecond)
	d.player = player
	d.player.Play()
}

func (d *EbitenAudioDevice) Pause(paused bool) error {
	if d.player == nil {
		return nil
	}
	if paused {
		d.player.Pause()
	} else {
		d.player.Play()
	}
	return nil
}

func (d *EbitenAudioDevice) Close() error {
	if d.player == nil {
		return nil
	}
	return d.player.Close()
}

// BufferedBytes approximates the hardware buffer occupancy from
// audio.Player.BufferedSize, which ebiten reports as a duration rather
// than a byte count.
func (d *EbitenAudioDevice) BufferedBytes() int {
	if d.player == nil {
		return 0
	}
	bufferedSeconds := d.player.BufferedSize().Seconds()
	const bytesPerSample = 2 * 2 // s16, stereo
	return int(bufferedSeconds * float64(d.rate) * bytesPerSample)
}

// callbackReader adapts [EbitenAudioDevice]'s pull callback to the
// io.Reader shape audio.Context.NewPlayer expects.
type callbackReader struct {
	dev *EbitenAudioDevice
}

func (r *callbackReader) Read(p []byte) (int, error) {
	if r.dev.cb == nil {
		zeroFill(p)
		return len(p), nil
	}
	r.dev.cb(p)
	return len(p), nil
}
