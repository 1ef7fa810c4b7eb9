package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

const (
	flagSecondFactor uint8 = 1 << iota
	flagEmergencyBypass
)

// ErrInvalidEncoding is returned by Decode for truncated or unknown records.
var ErrInvalidEncoding = errors.New("invalid session encoding")

// Encode serializes s. SessionID is the key and is not part of the payload.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersionCurrent)

	if len(s.PrincipalID) > 255 {
		return nil, errors.New("principalID too long")
	}
	buf.WriteByte(byte(len(s.PrincipalID)))
	buf.WriteString(s.PrincipalID)

	if len(s.Method) > 255 {
		return nil, errors.New("method too long")
	}
	buf.WriteByte(byte(len(s.Method)))
	buf.WriteString(s.Method)

	var flags uint8
	if s.SecondFactorVerified {
		flags |= flagSecondFactor
	}
	if s.EmergencyBypass {
		flags |= flagEmergencyBypass
	}
	buf.WriteByte(flags)

	buf.Write(s.FingerprintHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != sessionFormatVersionCurrent {
		return nil, ErrInvalidEncoding
	}

	s := &Session{}
	if s.PrincipalID, err = readShortString(r); err != nil {
		return nil, ErrInvalidEncoding
	}
	if s.Method, err = readShortString(r); err != nil {
		return nil, ErrInvalidEncoding
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, ErrInvalidEncoding
	}
	s.SecondFactorVerified = flags&flagSecondFactor != 0
	s.EmergencyBypass = flags&flagEmergencyBypass != 0

	if _, err := io.ReadFull(r, s.FingerprintHash[:]); err != nil {
		return nil, ErrInvalidEncoding
	}
	if err := binary.Read(r, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, ErrInvalidEncoding
	}
	if err := binary.Read(r, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, ErrInvalidEncoding
	}
	if r.Len() != 0 {
		return nil, ErrInvalidEncoding
	}
	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
