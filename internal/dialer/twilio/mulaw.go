package twilio

// ulawDecompressTable maps each of the 256 possible G.711 mu-law octets
// Twilio Media Streams carries in "media" frames to its 16-bit signed
// linear PCM sample, per ITU-T G.711.
var ulawDecompressTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// ulawSegmentEnds gives the upper bound of each of the 8 quantization
// segments mu-law encoding walks to find a sample's segment number.
var ulawSegmentEnds = [8]int16{0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF, 0x1FFF, 0x3FFF, 0x7FFF}

const (
	ulawBias      = 0x84
	ulawClip      = 32635
	ulawSegShift  = 4
	ulawQuantMask = 0x0f
)

// decodeUlawSample converts a single mu-law octet to linear PCM.
func decodeUlawSample(b byte) int16 {
	return ulawDecompressTable[b]
}

// encodeUlawSample converts a linear PCM sample to its mu-law octet.
func encodeUlawSample(pcm int16) byte {
	sign := (pcm >> 8) & 0x80
	if sign != 0 {
		pcm = -pcm
	}
	if pcm > ulawClip {
		pcm = ulawClip
	}
	pcm += ulawBias

	segment := 7
	for i := 0; i < 8; i++ {
		if pcm <= ulawSegmentEnds[i] {
			segment = i
			break
		}
	}

	return byte(^(sign | (int16(segment) << ulawSegShift) | ((pcm >> (segment + 3)) & ulawQuantMask)))
}

// decodeUlawFrame expands an 8kHz mu-law media frame into 16-bit signed
// little-endian PCM at the same sample rate; the session's upstream
// resampler takes it the rest of the way to 16kHz.
func decodeUlawFrame(ulaw []byte) []byte {
	pcm := make([]byte, len(ulaw)*2)
	for i, b := range ulaw {
		sample := decodeUlawSample(b)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// encodeUlawFrame compresses 16-bit signed little-endian PCM at 8kHz (post
// downsample) into the mu-law bytes a Twilio "media" frame carries.
func encodeUlawFrame(pcm []byte) []byte {
	n := len(pcm) / 2
	ulaw := make([]byte, n)
	for i := 0; i < n; i++ {
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		ulaw[i] = encodeUlawSample(sample)
	}
	return ulaw
}
