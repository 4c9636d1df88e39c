package walletdb

import (
	"bytes"
	"fmt"
	"io"
	"math/big"

	"github.com/decred/dcrd/chaincfg/chainhash"
)

// Value encodings are hand rolled: big-endian fixed width integers,
// uint32-length-prefixed byte strings, and a presence byte ahead of every
// optional field. Every value type round-trips byte for byte.

const maxValueBytesLen = 1 << 24

func putUint8(buf *bytes.Buffer, v uint8) {
	buf.WriteByte(v)
}

func getUint8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func putBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func getBool(r io.Reader) (bool, error) {
	b, err := getUint8(r)
	if err != nil {
		return false, err
	}
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid bool marker %d", b)
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
	buf.Write(b[:])
}

func getUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
	buf.Write(b[:])
}

func getUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

func putInt64(buf *bytes.Buffer, v int64) {
	putUint64(buf, uint64(v))
}

func getInt64(r io.Reader) (int64, error) {
	v, err := getUint64(r)
	return int64(v), err
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func getBytes(r io.Reader) ([]byte, error) {
	n, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	if n > maxValueBytesLen {
		return nil, fmt.Errorf("byte string too long: %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func putString(buf *bytes.Buffer, s string) {
	putBytes(buf, []byte(s))
}

func getString(r io.Reader) (string, error) {
	b, err := getBytes(r)
	return string(b), err
}

func putHash(buf *bytes.Buffer, h chainhash.Hash) {
	buf.Write(h[:])
}

func getHash(r io.Reader) (chainhash.Hash, error) {
	var h chainhash.Hash
	_, err := io.ReadFull(r, h[:])
	return h, err
}

func putOptionalHash(buf *bytes.Buffer, h *chainhash.Hash) {
	if h == nil {
		putBool(buf, false)
		return
	}
	putBool(buf, true)
	putHash(buf, *h)
}

func getOptionalHash(r io.Reader) (*chainhash.Hash, error) {
	present, err := getBool(r)
	if err != nil || !present {
		return nil, err
	}
	h, err := getHash(r)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func putOptionalUint32(buf *bytes.Buffer, v *uint32) {
	if v == nil {
		putBool(buf, false)
		return
	}
	putBool(buf, true)
	putUint32(buf, *v)
}

func getOptionalUint32(r io.Reader) (*uint32, error) {
	present, err := getBool(r)
	if err != nil || !present {
		return nil, err
	}
	v, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func putOptionalUint64(buf *bytes.Buffer, v *uint64) {
	if v == nil {
		putBool(buf, false)
		return
	}
	putBool(buf, true)
	putUint64(buf, *v)
}

func getOptionalUint64(r io.Reader) (*uint64, error) {
	present, err := getBool(r)
	if err != nil || !present {
		return nil, err
	}
	v, err := getUint64(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func putOptionalBytes(buf *bytes.Buffer, b *[]byte) {
	if b == nil {
		putBool(buf, false)
		return
	}
	putBool(buf, true)
	putBytes(buf, *b)
}

func getOptionalBytes(r io.Reader) (*[]byte, error) {
	present, err := getBool(r)
	if err != nil || !present {
		return nil, err
	}
	b, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// putBigInt encodes a signed big integer as a sign byte followed by the
// magnitude bytes.
func putBigInt(buf *bytes.Buffer, v *big.Int) {
	var sign byte
	switch v.Sign() {
	case -1:
		sign = 1
	}
	buf.WriteByte(sign)
	putBytes(buf, v.Bytes())
}

func getBigInt(r io.Reader) (*big.Int, error) {
	sign, err := getUint8(r)
	if err != nil {
		return nil, err
	}
	if sign > 1 {
		return nil, fmt.Errorf("invalid big int sign marker %d", sign)
	}
	mag, err := getBytes(r)
	if err != nil {
		return nil, err
	}
	v := new(big.Int).SetBytes(mag)
	if sign == 1 {
		v.Neg(v)
	}
	return v, nil
}
