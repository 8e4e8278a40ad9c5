package audio

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// pcmMIMEPrefix is the MIME type the live engine uses for raw 16-bit PCM.
const pcmMIMEPrefix = "audio/pcm"

// Float32ToPCM16 encodes normalised float32 samples in [-1, 1] as
// little-endian int16 PCM. Out-of-range samples are clamped. Negative
// values scale by 32768 and positive values by 32767 so that both ends of
// the int16 range are reachable.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if math.IsNaN(float64(s)) {
			s = 0
		}
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// PCM16ToFloat32 decodes little-endian int16 PCM into float32 samples in
// [-1, 1). A trailing odd byte is ignored; callers that need strict
// validation should check the length first.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// PCMMIMEType returns the MIME type tag for 16-bit mono PCM at rate, e.g.
// "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("%s;rate=%d", pcmMIMEPrefix, rate)
}

// ParsePCMRate extracts the sample rate from a PCM MIME type such as
// "audio/pcm;rate=24000". It returns fallback when mime carries no rate
// parameter, and an error when mime is not PCM or the rate is malformed.
func ParsePCMRate(mime string, fallback int) (int, error) {
	if mime == "" {
		return fallback, nil
	}
	parts := strings.Split(mime, ";")
	if !strings.EqualFold(strings.TrimSpace(parts[0]), pcmMIMEPrefix) {
		return 0, fmt.Errorf("audio: unsupported mime type %q", mime)
	}
	for _, p := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0, fmt.Errorf("audio: invalid rate in mime type %q", mime)
		}
		return rate, nil
	}
	return fallback, nil
}
