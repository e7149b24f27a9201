package audio

import (
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// WAVHeader represents a canonical 44-byte PCM WAV header
type WAVHeader struct {
	// RIFF chunk descriptor
	ChunkID   [4]byte // "RIFF"
	ChunkSize uint32  // 36 + data size
	Format    [4]byte // "WAVE"

	// "fmt " sub-chunk
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample/8
	BlockAlign    uint16 // NumChannels * BitsPerSample/8
	BitsPerSample uint16

	// "data" sub-chunk
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

func newWAVHeader(format Format, dataSize int) WAVHeader {
	bitsPerSample := uint16(bytesPerSample * 8)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * format.Channels * bytesPerSample),
		BlockAlign:    uint16(format.Channels * bytesPerSample),
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}
}

func (h WAVHeader) marshal(dst []byte) {
	copy(dst[0:4], h.ChunkID[:])
	binary.LittleEndian.PutUint32(dst[4:8], h.ChunkSize)
	copy(dst[8:12], h.Format[:])

	copy(dst[12:16], h.Subchunk1ID[:])
	binary.LittleEndian.PutUint32(dst[16:20], h.Subchunk1Size)
	binary.LittleEndian.PutUint16(dst[20:22], h.AudioFormat)
	binary.LittleEndian.PutUint16(dst[22:24], h.NumChannels)
	binary.LittleEndian.PutUint32(dst[24:28], h.SampleRate)
	binary.LittleEndian.PutUint32(dst[28:32], h.ByteRate)
	binary.LittleEndian.PutUint16(dst[32:34], h.BlockAlign)
	binary.LittleEndian.PutUint16(dst[34:36], h.BitsPerSample)

	copy(dst[36:40], h.Subchunk2ID[:])
	binary.LittleEndian.PutUint32(dst[40:44], h.Subchunk2Size)
}

// EncodeWAV wraps 16-bit little-endian PCM in a WAV container
func EncodeWAV(pcm []byte, format Format) []byte {
	out := make([]byte, wavHeaderSize+len(pcm))
	newWAVHeader(format, len(pcm)).marshal(out[:wavHeaderSize])
	copy(out[wavHeaderSize:], pcm)
	return out
}

// ParseWAVHeader reads the header of a canonical PCM WAV file
func ParseWAVHeader(data []byte) (WAVHeader, error) {
	var h WAVHeader
	if len(data) < wavHeaderSize {
		return h, fmt.Errorf("wav data too short: %d bytes", len(data))
	}

	copy(h.ChunkID[:], data[0:4])
	h.ChunkSize = binary.LittleEndian.Uint32(data[4:8])
	copy(h.Format[:], data[8:12])
	copy(h.Subchunk1ID[:], data[12:16])
	h.Subchunk1Size = binary.LittleEndian.Uint32(data[16:20])
	h.AudioFormat = binary.LittleEndian.Uint16(data[20:22])
	h.NumChannels = binary.LittleEndian.Uint16(data[22:24])
	h.SampleRate = binary.LittleEndian.Uint32(data[24:28])
	h.ByteRate = binary.LittleEndian.Uint32(data[28:32])
	h.BlockAlign = binary.LittleEndian.Uint16(data[32:34])
	h.BitsPerSample = binary.LittleEndian.Uint16(data[34:36])
	copy(h.Subchunk2ID[:], data[36:40])
	h.Subchunk2Size = binary.LittleEndian.Uint32(data[40:44])

	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" {
		return h, fmt.Errorf("not a RIFF/WAVE file")
	}
	return h, nil
}
