package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const snapshotFormatVersionCurrent = 1

const proofUnlockedFlag byte = 1 << 0

// Encode serializes a snapshot into the compact binary layout stored in Redis:
//
//	version | tokenLen u16 | token | binLen u16 | bin | startedAt i64 (unix nanos) |
//	duration u32 | flags u8 | codeCount u32 | (codeLen u16 | code)*
func Encode(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(snapshotFormatVersionCurrent)

	if err := writeString(&buf, s.Token); err != nil {
		return nil, errors.New("token too long")
	}
	if err := writeString(&buf, s.BinLabel); err != nil {
		return nil, errors.New("bin label too long")
	}

	if err := binary.Write(&buf, binary.BigEndian, s.StartedAt.UnixNano()); err != nil {
		return nil, err
	}
	if s.DurationSeconds < 0 || s.DurationSeconds > math.MaxUint32 {
		return nil, errors.New("duration out of range")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(s.DurationSeconds)); err != nil {
		return nil, err
	}

	var flags byte
	if s.ProofUnlocked {
		flags |= proofUnlockedFlag
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(s.Codes))); err != nil {
		return nil, err
	}
	for _, code := range s.Codes {
		if err := writeString(&buf, code); err != nil {
			return nil, errors.New("code too long")
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a snapshot produced by Encode. The decoded snapshot is always
// StateActive; expiry is decided by the caller from the clock.
func Decode(data []byte) (Snapshot, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return Snapshot{}, err
	}
	if version != snapshotFormatVersionCurrent {
		return Snapshot{}, errors.New("invalid snapshot version")
	}

	var s Snapshot
	if s.Token, err = readString(reader); err != nil {
		return Snapshot{}, err
	}
	if s.BinLabel, err = readString(reader); err != nil {
		return Snapshot{}, err
	}

	var startedAt int64
	if err := binary.Read(reader, binary.BigEndian, &startedAt); err != nil {
		return Snapshot{}, err
	}
	s.StartedAt = time.Unix(0, startedAt)

	var duration uint32
	if err := binary.Read(reader, binary.BigEndian, &duration); err != nil {
		return Snapshot{}, err
	}
	s.DurationSeconds = int(duration)

	flags, err := reader.ReadByte()
	if err != nil {
		return Snapshot{}, err
	}
	s.ProofUnlocked = flags&proofUnlockedFlag != 0

	var count uint32
	if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
		return Snapshot{}, err
	}
	// Each code needs at least its length prefix.
	if int64(count)*2 > int64(reader.Len()) {
		return Snapshot{}, errors.New("code count exceeds payload")
	}
	s.Codes = make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		code, err := readString(reader)
		if err != nil {
			return Snapshot{}, err
		}
		s.Codes = append(s.Codes, code)
	}

	if reader.Len() != 0 {
		return Snapshot{}, errors.New("trailing snapshot bytes")
	}

	s.State = StateActive
	return s, nil
}

func writeString(buf *bytes.Buffer, v string) error {
	if len(v) > math.MaxUint16 {
		return errors.New("string too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(v))); err != nil {
		return err
	}
	buf.WriteString(v)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", err
	}
	return string(out), nil
}
