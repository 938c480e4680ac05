package journal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 56
	recordChecksumSize        = 4
	maxPayloadLen             = uint64(^uint32(0))
)

var (
	recordMagic = [4]byte{'J', 'N', 'L', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

// Record layout, little endian:
//
//	0  magic        4
//	4  version      2
//	6  header size  2
//	8  event type   2
//	10 schema ver   2
//	12 source       2
//	14 flags        2
//	16 payload len  4
//	20 seq          8
//	28 created time 8
//	36 journal time 8
//	44 reserved     12
//
// followed by the payload and a CRC32C over header and payload.
func encodeHeader(dst []byte, header schema.EventHeader, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(header.Type))
	binary.LittleEndian.PutUint16(dst[10:12], header.Version)
	binary.LittleEndian.PutUint16(dst[12:14], header.Source)
	binary.LittleEndian.PutUint16(dst[14:16], header.Flags)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[20:28], header.Seq)
	binary.LittleEndian.PutUint64(dst[28:36], uint64(header.CreatedTime))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(header.JournalTime))
	clear(dst[44:56])
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (schema.EventHeader, uint32, error) {
	if len(src) < recordHeaderSize {
		return schema.EventHeader{}, 0, exception.ErrInvalidHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return schema.EventHeader{}, 0, exception.ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return schema.EventHeader{}, 0, exception.ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return schema.EventHeader{}, 0, exception.ErrInvalidHeaderSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[16:20])
	h := schema.EventHeader{
		Type:        schema.EventType(binary.LittleEndian.Uint16(src[8:10])),
		Version:     binary.LittleEndian.Uint16(src[10:12]),
		Source:      binary.LittleEndian.Uint16(src[12:14]),
		Flags:       binary.LittleEndian.Uint16(src[14:16]),
		Seq:         binary.LittleEndian.Uint64(src[20:28]),
		CreatedTime: int64(binary.LittleEndian.Uint64(src[28:36])),
		JournalTime: int64(binary.LittleEndian.Uint64(src[36:44])),
	}
	return h, payloadLen, nil
}

// segmentScanner walks the records of one segment file in order.
type segmentScanner struct {
	src    *bufio.Reader
	verify bool
	maxLen uint32
	head   [recordHeaderSize]byte
	body   []byte
	offset int64
}

func newSegmentScanner(r io.Reader, verify bool, maxPayload int) *segmentScanner {
	sc := &segmentScanner{src: bufio.NewReader(r), verify: verify}
	if maxPayload > 0 {
		sc.maxLen = uint32(maxPayload)
	}
	return sc
}

// walk hands every complete record to fn, stopping at the first error fn returns. A record cut
// short by a crash ends the walk reporting true when tornOK, and fails with io.ErrUnexpectedEOF
// otherwise. The offset field then marks the end of the last complete record.
func (sc *segmentScanner) walk(tornOK bool, fn func(schema.EventHeader, []byte) error) (bool, error) {
	for {
		header, payload, err := sc.step()
		switch {
		case err == io.EOF:
			return false, nil
		case err == io.ErrUnexpectedEOF && tornOK:
			return true, nil
		case err != nil:
			return false, err
		}
		if err := fn(header, payload); err != nil {
			return false, err
		}
	}
}

func (sc *segmentScanner) step() (schema.EventHeader, []byte, error) {
	if n, err := io.ReadFull(sc.src, sc.head[:]); err != nil {
		if err == io.EOF && n == 0 {
			return schema.EventHeader{}, nil, io.EOF
		}
		return schema.EventHeader{}, nil, io.ErrUnexpectedEOF
	}

	header, payloadLen, err := decodeRecordHeader(sc.head[:])
	if err != nil {
		return header, nil, err
	}
	if sc.maxLen > 0 && payloadLen > sc.maxLen {
		return header, nil, exception.ErrPayloadTooLarge
	}

	// payload and trailing checksum are read in one go
	need := int(payloadLen) + recordChecksumSize
	if cap(sc.body) < need {
		sc.body = make([]byte, need)
	}
	sc.body = sc.body[:need]
	if _, err := io.ReadFull(sc.src, sc.body); err != nil {
		return header, nil, io.ErrUnexpectedEOF
	}

	payload := sc.body[:payloadLen]
	if sc.verify {
		if checksum(sc.head[:], payload) != binary.LittleEndian.Uint32(sc.body[payloadLen:]) {
			return header, nil, exception.ErrChecksumMismatch
		}
	}

	sc.offset += int64(recordHeaderSize + need)
	return header, payload, nil
}
