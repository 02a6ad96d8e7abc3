package media

// H264Depacketizer extracts NAL units from RTP H264 payloads.
// It keeps per-instance FU-A reassembly state so concurrent streams
// cannot corrupt each other.
type H264Depacketizer struct {
	fuaBuf  []byte
	inFU    bool
	lastSeq uint16
}

// NewH264Depacketizer creates a new depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize extracts NAL units from an RTP H264 payload with sequence
// number seq. Handles single NAL, STAP-A, and FU-A packet types. A FU-A chain
// interrupted by a sequence gap is dropped.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		d.resetFU()
		return [][]byte{payload}

	case naluType == 24:
		d.resetFU()
		return d.depacketizeSTAPA(payload)

	case naluType == 28:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

func (d *H264Depacketizer) resetFU() {
	d.fuaBuf = nil
	d.inFU = false
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1 // skip STAP-A header byte

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	fnri := payload[0] & 0xe0 // F + NRI bits from FU indicator
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	if start {
		// Reconstruct NAL header: F+NRI from FU indicator + type from FU header
		d.fuaBuf = append([]byte{fnri | naluType}, payload[2:]...)
		d.inFU = true
	} else {
		if !d.inFU || seq != d.lastSeq+1 {
			d.resetFU()
			return nil
		}
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	}
	d.lastSeq = seq

	if end {
		nalu := d.fuaBuf
		d.resetFU()
		return [][]byte{nalu}
	}

	return nil
}
