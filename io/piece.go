package io

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"unsafe"

	"github.com/phil-mansfield/linkage/geom"
)

const (
	// Endianness used when writing pieces. Pieces of either endianness can be
	// read.
	DefaultEndiannessFlag int32 = 0

	vecSize = int(unsafe.Sizeof(geom.Vec{}))
	idSize  = 8
)

var (
	ErrTruncated = errors.New("piece is truncated")
	ErrChecksum  = errors.New("piece checksum does not match its contents")
)

/*
The binary format used for partition pieces is as follows:
    |-- 1 --||-- 2 --||-- 3 --||-- ... 4 ... --||-- ... 5 ... --||-- 6 --|

    1 - (int32) Flag indicating the endianness of the file. 0 indicates a
        little endian byte ordering and -1 indicates a big endian byte order.
    2 - (int32) Size of a PieceHeader struct. Checked for consistency.
    3 - (PieceHeader) Meta-information about the partition.
    4 - Owned nodes: ([]int64) ids, ([][3]float64) coordinates in meters,
        ([][3]float64) velocities in meters per second.
    5 - Owned tracers: ([]int64) ids, ([][3]float64) positions in meters.
    6 - (uint32) IEEE CRC32 of blocks 1 through 5.
*/
type PieceHeader struct {
	Rank int64
	// Sizes of the global mesh and tracer set, shared by every piece.
	NodeCount, TracerCount int64
	// Node lattice shape along x, y and z.
	Lattice [3]int64
	// Number of nodes and tracers in this piece.
	OwnedNodes, OwnedTracers int64
}

// Piece is the part of the mesh and tracer set owned by one partition.
type Piece struct {
	PieceHeader

	NodeIDs    []int64
	Nodes      []geom.Vec
	Velocities []geom.Vec

	TracerIDs []int64
	Tracers   []geom.Vec
}

// Check reports whether the array lengths agree with the header.
func (p *Piece) Check() error {
	h := &p.PieceHeader
	if int64(len(p.NodeIDs)) != h.OwnedNodes ||
		int64(len(p.Nodes)) != h.OwnedNodes ||
		int64(len(p.Velocities)) != h.OwnedNodes {
		return fmt.Errorf(
			"Piece %d header has %d nodes, but arrays have lengths %d, %d, %d.",
			h.Rank, h.OwnedNodes, len(p.NodeIDs), len(p.Nodes),
			len(p.Velocities),
		)
	}
	if int64(len(p.TracerIDs)) != h.OwnedTracers ||
		int64(len(p.Tracers)) != h.OwnedTracers {
		return fmt.Errorf(
			"Piece %d header has %d tracers, but arrays have lengths %d, %d.",
			h.Rank, h.OwnedTracers, len(p.TracerIDs), len(p.Tracers),
		)
	}
	return nil
}

// endianness is a utility function converting an endianness flag to a
// byte order.
func endianness(flag int32) (binary.ByteOrder, error) {
	switch flag {
	case 0:
		return binary.LittleEndian, nil
	case -1:
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("Unrecognized endianness flag %d.", flag)
}

func bodySize(h *PieceHeader) int64 {
	return h.OwnedNodes*int64(idSize+2*vecSize) +
		h.OwnedTracers*int64(idSize+vecSize)
}

// WritePiece encodes p to w, followed by its checksum.
func WritePiece(w io.Writer, p *Piece) error {
	if err := p.Check(); err != nil {
		return err
	}

	order, _ := endianness(DefaultEndiannessFlag)
	crc := crc32.NewIEEE()
	mw := io.MultiWriter(w, crc)

	blocks := []interface{}{
		DefaultEndiannessFlag,
		int32(unsafe.Sizeof(PieceHeader{})),
		&p.PieceHeader,
		p.NodeIDs, p.Nodes, p.Velocities,
		p.TracerIDs, p.Tracers,
	}
	for _, b := range blocks {
		if err := binary.Write(mw, order, b); err != nil {
			return err
		}
	}
	return binary.Write(w, order, crc.Sum32())
}

// MarshalPiece returns the encoding of p.
func MarshalPiece(p *Piece) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := WritePiece(buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalPiece decodes a piece written by WritePiece. Truncated data
// returns ErrTruncated and corrupted data returns ErrChecksum.
func UnmarshalPiece(data []byte) (*Piece, error) {
	hdSize := int(unsafe.Sizeof(PieceHeader{}))
	if len(data) < 4+4+hdSize+4 {
		return nil, ErrTruncated
	}

	// order doesn't matter for this read, since flags are symmetric.
	order, err := endianness(int32(binary.LittleEndian.Uint32(data[:4])))
	if err != nil {
		return nil, err
	}

	if size := int32(order.Uint32(data[4:8])); size != int32(hdSize) {
		return nil, fmt.Errorf(
			"Expected PieceHeader size of %d, found %d.", hdSize, size,
		)
	}

	p := &Piece{}
	r := bytes.NewReader(data[8 : 8+hdSize])
	if err := binary.Read(r, order, &p.PieceHeader); err != nil {
		return nil, err
	}

	h := &p.PieceHeader
	if h.OwnedNodes < 0 || h.OwnedTracers < 0 {
		return nil, fmt.Errorf(
			"Piece %d has negative counts (%d nodes, %d tracers).",
			h.Rank, h.OwnedNodes, h.OwnedTracers,
		)
	}
	// Bound the counts by the data actually present before allocating.
	rest := int64(len(data) - (8 + hdSize + 4))
	switch body := bodySize(h); {
	case h.OwnedNodes > rest || h.OwnedTracers > rest || body > rest:
		return nil, ErrTruncated
	case body < rest:
		return nil, fmt.Errorf(
			"Piece %d has %d trailing bytes.", h.Rank, rest-body,
		)
	}

	end := len(data) - 4
	if crc32.ChecksumIEEE(data[:end]) != order.Uint32(data[end:]) {
		return nil, ErrChecksum
	}

	p.NodeIDs = make([]int64, h.OwnedNodes)
	p.Nodes = make([]geom.Vec, h.OwnedNodes)
	p.Velocities = make([]geom.Vec, h.OwnedNodes)
	p.TracerIDs = make([]int64, h.OwnedTracers)
	p.Tracers = make([]geom.Vec, h.OwnedTracers)

	r = bytes.NewReader(data[8+hdSize : end])
	arrays := []interface{}{
		p.NodeIDs, p.Nodes, p.Velocities, p.TracerIDs, p.Tracers,
	}
	for _, a := range arrays {
		if err := binary.Read(r, order, a); err != nil {
			return nil, err
		}
	}
	return p, nil
}
