//go:build linux

package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
	"github.com/rs/zerolog/log"

	"streamdeskd/internal/types"
)

// defaultSampleRate/defaultFrameDurationMs back-fill AudioSettings left at
// their zero value.
const (
	defaultSampleRate     = 48000
	defaultChannels       = 2
	defaultFrameDurationMs = 20
)

// PulseAudioBackend implements types.AudioBackend against a system
// PulseAudio sink's monitor source, Opus-encoding each frame before handing
// it to the pipeline callback.
type PulseAudioBackend struct {
	mu      sync.Mutex
	client  *pulse.Client
	stream  *pulse.RecordStream
	encoder *opus.Encoder
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewPulseAudioBackend opens a connection to the local PulseAudio daemon.
// The record stream itself is not opened until Start.
func NewPulseAudioBackend() (*PulseAudioBackend, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("streamdeskd"),
	)
	if err != nil {
		return nil, fmt.Errorf("pulse connect: %w", err)
	}
	return &PulseAudioBackend{client: client}, nil
}

// pcmCollector implements pulse.Writer, receiving raw PCM from PulseAudio.
type pcmCollector struct {
	mu     sync.Mutex
	buf    []int16
	format byte
}

func (p *pcmCollector) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(data) / 2
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		p.buf = append(p.buf, sample)
	}
	return len(data), nil
}

func (p *pcmCollector) Format() byte { return p.format }

func (p *pcmCollector) drain(count int) []int16 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) < count {
		return nil
	}
	out := make([]int16, count)
	copy(out, p.buf[:count])
	p.buf = p.buf[count:]
	return out
}

// Start implements types.AudioBackend. settings.DeviceName, when
// non-empty, names a monitor source ("<sink>.monitor") or its sink, and
// that sink's monitor is recorded; otherwise the server's current default
// sink is used.
func (ac *PulseAudioBackend) Start(settings types.AudioSettings, onPacket func(types.OpusPacket)) error {
	sampleRate := settings.SampleRate
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}
	channels := settings.Channels
	if channels <= 0 {
		channels = defaultChannels
	}
	frameDuration := settings.FrameDuration
	if frameDuration <= 0 {
		frameDuration = defaultFrameDurationMs * time.Millisecond
	}
	frameSize := sampleRate * int(frameDuration/time.Millisecond) / 1000

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return fmt.Errorf("opus encoder: %w", err)
	}
	if settings.BitrateBps > 0 {
		if err := enc.SetBitrate(settings.BitrateBps); err != nil {
			log.Warn().Err(err).Int("bitrate_bps", settings.BitrateBps).Msg("audio: opus SetBitrate rejected")
		}
	}

	sink, err := ac.resolveSink(settings.DeviceName)
	if err != nil {
		return err
	}

	collector := &pcmCollector{format: proto.FormatInt16LE}

	stream, err := ac.client.NewRecord(
		collector,
		pulse.RecordMonitor(sink),
		pulse.RecordStereo,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordBufferFragmentSize(uint32(frameSize*channels*2)),
	)
	if err != nil {
		return fmt.Errorf("pulse record stream: %w", err)
	}

	ac.mu.Lock()
	ac.stream = stream
	ac.encoder = enc
	ac.stop = make(chan struct{})
	ac.mu.Unlock()

	stream.Start()

	ac.wg.Add(1)
	go ac.encodeLoop(collector, frameSize, channels, frameDuration, onPacket)
	return nil
}

func (ac *PulseAudioBackend) resolveSink(name string) (*pulse.Sink, error) {
	if name == "" {
		sink, err := ac.client.DefaultSink()
		if err != nil {
			return nil, fmt.Errorf("audio: default sink: %w", err)
		}
		return sink, nil
	}
	name = strings.TrimSuffix(name, ".monitor")
	sinks, err := ac.client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("audio: list sinks: %w", err)
	}
	for _, s := range sinks {
		if s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("audio: sink %q not found", name)
}

func (ac *PulseAudioBackend) encodeLoop(collector *pcmCollector, frameSize, channels int, frameDuration time.Duration, onPacket func(types.OpusPacket)) {
	defer ac.wg.Done()

	opusBuf := make([]byte, 4000)
	samplesPerFrame := frameSize * channels

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ac.stop:
			return
		case <-ticker.C:
			pcm := collector.drain(samplesPerFrame)
			if pcm == nil {
				continue
			}

			ac.mu.Lock()
			encoded, err := ac.encoder.Encode(pcm, opusBuf)
			ac.mu.Unlock()
			if err != nil {
				log.Warn().Err(err).Msg("audio: opus encode failed")
				continue
			}

			data := make([]byte, encoded)
			copy(data, opusBuf[:encoded])
			onPacket(types.OpusPacket{Data: data, Duration: frameDuration})
		}
	}
}

// Stop implements types.AudioBackend.
func (ac *PulseAudioBackend) Stop() {
	ac.mu.Lock()
	stream := ac.stream
	stop := ac.stop
	ac.stream = nil
	ac.stop = nil
	ac.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	ac.wg.Wait()

	if stream != nil {
		stream.Stop()
	}
}

// Close releases the PulseAudio client connection entirely.
func (ac *PulseAudioBackend) Close() {
	ac.client.Close()
}
