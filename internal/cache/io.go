package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func writeTag(w *bytes.Buffer, tag string) {
	w.WriteString(tag)
}

func expectTag(r io.Reader, tag string) error {
	buf := make([]byte, len(tag))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("reading %q tag: %w", tag, err)
	}
	if string(buf) != tag {
		return fmt.Errorf("cache: expected %q tag, got %q (corrupt or truncated cache file)", tag, buf)
	}
	return nil
}

func writeString(w *bytes.Buffer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeBool(w *bytes.Buffer, v bool) {
	if v {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

func writeU16(w *bytes.Buffer, v uint16) {
	binary.Write(w, binary.LittleEndian, v)
}

func readU16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeU32(w *bytes.Buffer, v uint32) {
	binary.Write(w, binary.LittleEndian, v)
}

func readU32(r io.Reader) (uint32, error) {
	var v uint32
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeU64(w *bytes.Buffer, v uint64) {
	binary.Write(w, binary.LittleEndian, v)
}

func readU64(r io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}

func writeI64(w *bytes.Buffer, v int64) {
	binary.Write(w, binary.LittleEndian, v)
}

func readI64(r io.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
