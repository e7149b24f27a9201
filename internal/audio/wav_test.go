package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVHeader(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	data := EncodeWAV(pcm, testFormat)
	require.Len(t, data, wavHeaderSize+len(pcm))

	h, err := ParseWAVHeader(data)
	require.NoError(t, err)

	assert.Equal(t, "RIFF", string(h.ChunkID[:]))
	assert.Equal(t, "WAVE", string(h.Format[:]))
	assert.Equal(t, "fmt ", string(h.Subchunk1ID[:]))
	assert.Equal(t, "data", string(h.Subchunk2ID[:]))
	assert.EqualValues(t, 36+len(pcm), h.ChunkSize)
	assert.EqualValues(t, 1, h.AudioFormat)
	assert.EqualValues(t, 1, h.NumChannels)
	assert.EqualValues(t, 16000, h.SampleRate)
	assert.EqualValues(t, 32000, h.ByteRate)
	assert.EqualValues(t, 2, h.BlockAlign)
	assert.EqualValues(t, 16, h.BitsPerSample)
	assert.EqualValues(t, len(pcm), h.Subchunk2Size)
	assert.Equal(t, pcm, data[wavHeaderSize:])
}

func TestParseWAVHeaderRejectsGarbage(t *testing.T) {
	_, err := ParseWAVHeader([]byte("short"))
	assert.Error(t, err)

	_, err = ParseWAVHeader(make([]byte, wavHeaderSize))
	assert.Error(t, err)
}

func TestDecodeClip(t *testing.T) {
	clip, err := DecodeClip("UklGRg==")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), clip)

	_, err = DecodeClip("not base64!")
	assert.Error(t, err)
}
