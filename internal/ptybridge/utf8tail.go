package ptybridge

// maxUTF8TailBytes bounds the continuation-byte buffer held across PTY
// reads. A UTF-8 sequence is at most 4 bytes, so nothing past that can
// ever be "still incomplete" — anything longer is simply invalid and is
// left for the decoder to replace.
const maxUTF8TailBytes = 4

// splitIncompleteUTF8Tail scans up to the last 4 bytes of b for a
// multi-byte UTF-8 sequence that has been cut off by a read boundary. It
// returns the safely-decodable prefix and the trailing partial bytes,
// which the caller stashes and prepends to the next read.
//
// If the trailing bytes turn out not to be a genuine incomplete sequence
// (e.g. invalid UTF-8 unrelated to truncation), the full input is returned
// with no tail — the decoder downstream replaces invalid bytes instead.
func splitIncompleteUTF8Tail(b []byte) (complete, tail []byte) {
	limit := maxUTF8TailBytes
	if limit > len(b) {
		limit = len(b)
	}
	for i := 1; i <= limit; i++ {
		c := b[len(b)-i]
		if c < 0x80 {
			// ASCII byte: if it's the byte immediately before our scan
			// started (i==1), there's no pending multi-byte sequence at
			// all. If found while scanning continuation bytes, keep going
			// is wrong (ASCII can't follow mid-sequence) — but that means
			// the lead byte this branch expected is further back than our
			// 4-byte window allows, i.e. not a valid sequence. Stop.
			return b, nil
		}
		if c&0xC0 == 0x80 {
			// Continuation byte (10xxxxxx): keep walking backwards to find
			// its lead byte.
			continue
		}
		// Lead byte of a multi-byte sequence.
		size := utf8SeqLen(c)
		if size > i {
			// The sequence needs more bytes than we have — truncated by
			// this read boundary.
			return b[:len(b)-i], b[len(b)-i:]
		}
		return b, nil
	}
	return b, nil
}

// utf8SeqLen returns the total byte length of the UTF-8 sequence starting
// with lead, or 1 if lead is not a valid multi-byte lead byte.
func utf8SeqLen(lead byte) int {
	switch {
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
