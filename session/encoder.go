package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersionCurrent = 1

func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(sessionFormatVersionCurrent)

	if len(s.IdentityID) > 255 {
		return nil, errors.New("identityID too long")
	}
	buf.WriteByte(byte(len(s.IdentityID)))
	buf.WriteString(s.IdentityID)

	if len(s.Address) > 255 {
		return nil, errors.New("address too long")
	}
	buf.WriteByte(byte(len(s.Address)))
	buf.WriteString(s.Address)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}

	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersionCurrent {
		return nil, errors.New("invalid session version")
	}

	s := &Session{}

	identityLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	identityID := make([]byte, identityLen)
	if _, err := io.ReadFull(reader, identityID); err != nil {
		return nil, err
	}
	s.IdentityID = string(identityID)

	addressLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	address := make([]byte, addressLen)
	if _, err := io.ReadFull(reader, address); err != nil {
		return nil, err
	}
	s.Address = string(address)

	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	return s, nil
}
