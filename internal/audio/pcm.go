package audio

import (
	"encoding/binary"
	"math"
)

// FloatToInt16 converts float samples in [-1,1] to int16, clipping anything
// outside that range.
func FloatToInt16(dst []int16, src []float32) {
	for i, s := range src {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i] = int16(v)
	}
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// PutFloat32LE writes src as little-endian float32 into dst, which must hold
// 4*len(src) bytes.
func PutFloat32LE(dst []byte, src []float32) {
	for i, s := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(s))
	}
}

// Float32FromLE decodes little-endian float32 samples from src into dst.
func Float32FromLE(dst []float32, src []byte) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}
