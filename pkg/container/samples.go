package container

import (
	"encoding/binary"
	"fmt"
)

// EncodeSamples packs unsigned values as little-endian samples of the given width
func EncodeSamples(values []uint32, bytesPerSample int) []byte {
	out := make([]byte, len(values)*bytesPerSample)
	for i, v := range values {
		switch bytesPerSample {
		case 1:
			out[i] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(out[i*4:], v)
		}
	}
	return out
}

// EncodeMask packs mask bits as one byte per sample, 255 for foreground
func EncodeMask(mask []bool) []byte {
	out := make([]byte, len(mask))
	for i, on := range mask {
		if on {
			out[i] = 255
		}
	}
	return out
}

// DecodeSamples reinterprets data as little-endian unsigned samples
func DecodeSamples(data []byte, bytesPerSample int) ([]float64, error) {
	switch bytesPerSample {
	case 1, 2, 4:
	default:
		return nil, fmt.Errorf("unsupported sample width %d", bytesPerSample)
	}
	if len(data)%bytesPerSample != 0 {
		return nil, fmt.Errorf("plane length %d is not a multiple of sample width %d", len(data), bytesPerSample)
	}

	out := make([]float64, len(data)/bytesPerSample)
	for i := range out {
		switch bytesPerSample {
		case 1:
			out[i] = float64(data[i])
		case 2:
			out[i] = float64(binary.LittleEndian.Uint16(data[i*2:]))
		case 4:
			out[i] = float64(binary.LittleEndian.Uint32(data[i*4:]))
		}
	}
	return out, nil
}

// DecodeMask thresholds every sample at > 0
func DecodeMask(data []byte, bytesPerSample int) ([]bool, error) {
	samples, err := DecodeSamples(data, bytesPerSample)
	if err != nil {
		return nil, err
	}
	out := make([]bool, len(samples))
	for i, v := range samples {
		out[i] = v > 0
	}
	return out, nil
}
