package stores

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/loanflow/gatekeeper"
)

const accountRecordVersionV1 = 1

const (
	flagVerified byte = 1 << iota
)

var errCorruptRecord = errors.New("corrupt account record")

// encodeAccount writes acc in a compact versioned binary layout:
//
//	ver(1) flags(1) version(8) failed(4) lockedUntil(8) lastLogin(8)
//	verifyExp(8) resetExp(8) then length-prefixed strings
func encodeAccount(acc gatekeeper.Account) ([]byte, error) {
	if acc.FailedAttempts < 0 || acc.FailedAttempts > math.MaxInt32 {
		return nil, errors.New("account failed attempts out of range")
	}

	var buf bytes.Buffer
	buf.WriteByte(accountRecordVersionV1)

	var flags byte
	if acc.Verified {
		flags |= flagVerified
	}
	buf.WriteByte(flags)

	fixed := []any{
		acc.Version,
		int32(acc.FailedAttempts),
		acc.LockedUntil,
		acc.LastLogin,
		acc.VerifyOTP.ExpiresAt,
		acc.ResetOTP.ExpiresAt,
	}
	for _, v := range fixed {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	for _, s := range []string{
		acc.UserID,
		acc.Email,
		acc.Name,
		acc.PasswordHash,
		string(acc.Role),
		acc.VerifyOTP.Code,
		acc.ResetOTP.Code,
	} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func decodeAccount(data []byte) (gatekeeper.Account, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return gatekeeper.Account{}, errCorruptRecord
	}
	if version != accountRecordVersionV1 {
		return gatekeeper.Account{}, errors.New("unsupported account record version")
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return gatekeeper.Account{}, errCorruptRecord
	}

	var (
		acc    gatekeeper.Account
		failed int32
	)
	acc.Verified = flags&flagVerified != 0

	for _, v := range []any{
		&acc.Version,
		&failed,
		&acc.LockedUntil,
		&acc.LastLogin,
		&acc.VerifyOTP.ExpiresAt,
		&acc.ResetOTP.ExpiresAt,
	} {
		if err := binary.Read(reader, binary.BigEndian, v); err != nil {
			return gatekeeper.Account{}, errCorruptRecord
		}
	}
	acc.FailedAttempts = int(failed)

	var role string
	for _, dst := range []*string{
		&acc.UserID,
		&acc.Email,
		&acc.Name,
		&acc.PasswordHash,
		&role,
		&acc.VerifyOTP.Code,
		&acc.ResetOTP.Code,
	} {
		if *dst, err = readString(reader); err != nil {
			return gatekeeper.Account{}, errCorruptRecord
		}
	}
	acc.Role = gatekeeper.Role(role)

	if reader.Len() != 0 {
		return gatekeeper.Account{}, errCorruptRecord
	}
	return acc, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("account record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
