package recorder

import (
	"encoding/binary"
	"strings"

	"github.com/zaf/g711"

	"github.com/audiolibrelab/micrecord/internal/audio"
)

const (
	MimeWAV   = "audio/wav"
	MimeBasic = "audio/basic"
)

// Encoder turns captured s16le PCM into container bytes. Header is written once at
// the start of the recording, Encode for every slice after it.
type Encoder interface {
	ContentType() string
	Extension() string
	Header(format audio.Format) []byte
	Encode(pcm []byte) []byte
}

var encoders = map[string]Encoder{
	MimeWAV:       wavEncoder{},
	"audio/wave":  wavEncoder{},
	"audio/x-wav": wavEncoder{},
	MimeBasic:     auEncoder{},
}

// EncoderFor returns the encoder for mimeType, ignoring parameters such as codecs.
func EncoderFor(mimeType string) (Encoder, bool) {
	base, _, _ := strings.Cut(mimeType, ";")
	enc, ok := encoders[strings.ToLower(strings.TrimSpace(base))]
	return enc, ok
}

// wavEncoder streams a RIFF/WAVE file whose sizes are left at their maximum since
// the length is unknown while recording. Artifact.WriteWAV rewrites exact sizes.
type wavEncoder struct{}

const wavHeaderSize = 44

func (wavEncoder) ContentType() string { return MimeWAV }
func (wavEncoder) Extension() string   { return "wav" }

func (wavEncoder) Header(format audio.Format) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], 0xFFFFFFFF)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1)
	binary.LittleEndian.PutUint16(h[22:], uint16(format.Channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(format.SampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(format.SampleRate*format.BytesPerFrame()))
	binary.LittleEndian.PutUint16(h[32:], uint16(format.BytesPerFrame()))
	binary.LittleEndian.PutUint16(h[34:], 16)
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], 0xFFFFFFFF)
	return h
}

func (wavEncoder) Encode(pcm []byte) []byte {
	return append([]byte(nil), pcm...)
}

// auEncoder writes a Sun/NeXT audio file with 8-bit G.711 mu-law samples.
type auEncoder struct{}

const (
	auHeaderSize   = 24
	auEncodingUlaw = 1
)

func (auEncoder) ContentType() string { return MimeBasic }
func (auEncoder) Extension() string   { return "au" }

func (auEncoder) Header(format audio.Format) []byte {
	h := make([]byte, auHeaderSize)
	copy(h[0:], ".snd")
	binary.BigEndian.PutUint32(h[4:], auHeaderSize)
	binary.BigEndian.PutUint32(h[8:], 0xFFFFFFFF)
	binary.BigEndian.PutUint32(h[12:], auEncodingUlaw)
	binary.BigEndian.PutUint32(h[16:], uint32(format.SampleRate))
	binary.BigEndian.PutUint32(h[20:], uint32(format.Channels))
	return h
}

func (auEncoder) Encode(pcm []byte) []byte {
	return g711.EncodeUlaw(pcm)
}
