// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bitmap implements the fixed width change descriptor kept for each
// changed file. A Bitmap is 128 bits wide. The low eight bits are discrete
// event flags, bits 8 through 126 are content buckets of BlockSize bytes
// each and bit 127 is the overflow bucket, covering everything past the last
// addressable bucket.
package bitmap

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

const (
	Modified     = 0
	Renamed      = 1
	Deleted      = 2
	Created      = 3
	OwnerChanged = 4
	ModeChanged  = 5
	TimeChanged  = 6
	MmapChanged  = 7 // reserved, nothing sets it

	// BucketOffset is the index of the first content bucket.
	BucketOffset = 8
	// LastBucket is the highest bit index of a regular content bucket.
	LastBucket = 126
	// Overflow is the catch all bucket.
	Overflow = 127
	// NumBuckets is the number of regular content buckets.
	NumBuckets = LastBucket - BucketOffset + 1

	Size = 128
)

// DefaultBlockSize is the width of a content bucket unless configured
// otherwise.
const DefaultBlockSize = 16 << 10

var flagNames = [BucketOffset]string{
	Modified:     "Modified",
	Renamed:      "Renamed",
	Deleted:      "Deleted",
	Created:      "Created",
	OwnerChanged: "OwnerChanged",
	ModeChanged:  "ModeChanged",
	TimeChanged:  "TimeChanged",
	MmapChanged:  "MmapChanged",
}

// A Bitmap is a 128 bit set. Word 0 holds bits 0-63, word 1 holds bits
// 64-127. The zero value is the empty set.
type Bitmap [2]uint64

// Of returns a bitmap with the given bits set.
func Of(indexes ...int) Bitmap {
	var b Bitmap
	for _, i := range indexes {
		b = b.Set(i)
	}
	return b
}

// Set returns a copy of b with the bit at index set. Indexes outside
// [0, 127] are ignored.
func (b Bitmap) Set(index int) Bitmap {
	if index < 0 || index >= Size {
		return b
	}
	b[index/64] |= 1 << uint(index%64)
	return b
}

// SetRange returns a copy of b with all bits in [from, to] set.
func (b Bitmap) SetRange(from, to int) Bitmap {
	for i := max(from, 0); i <= to && i < Size; i++ {
		b = b.Set(i)
	}
	return b
}

// Test reports whether the bit at index is set.
func (b Bitmap) Test(index int) bool {
	if index < 0 || index >= Size {
		return false
	}
	return b[index/64]&(1<<uint(index%64)) != 0
}

// Merge returns the union of a and b. Merging never clears a bit.
func Merge(a, b Bitmap) Bitmap {
	return Bitmap{a[0] | b[0], a[1] | b[1]}
}

// Merge returns the union of b and other.
func (b Bitmap) Merge(other Bitmap) Bitmap {
	return Merge(b, other)
}

func (b Bitmap) IsZero() bool {
	return b[0] == 0 && b[1] == 0
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	return bits.OnesCount64(b[0]) + bits.OnesCount64(b[1])
}

// BucketFor returns the bit index of the content bucket holding the byte at
// offset, or Overflow when that bucket is past LastBucket. Negative offsets
// and non-positive block sizes map to the first bucket.
func BucketFor(offset, blockSize int64) int {
	if offset < 0 || blockSize <= 0 {
		return BucketOffset
	}
	block := offset / blockSize
	if block > LastBucket-BucketOffset {
		return Overflow
	}
	return int(block) + BucketOffset
}

// Flags returns the names of the set event flags, in bit order.
func (b Bitmap) Flags() []string {
	var names []string
	for i := 0; i < BucketOffset; i++ {
		if b.Test(i) {
			names = append(names, flagNames[i])
		}
	}
	return names
}

// Buckets returns the zero based numbers of the set content buckets,
// excluding the overflow bucket.
func (b Bitmap) Buckets() []int {
	var buckets []int
	for i := BucketOffset; i <= LastBucket; i++ {
		if b.Test(i) {
			buckets = append(buckets, i-BucketOffset)
		}
	}
	return buckets
}

// Overflowed reports whether the overflow bucket is set.
func (b Bitmap) Overflowed() bool {
	return b.Test(Overflow)
}

// Describe renders the bitmap the way the command line client prints it:
// flag names, then bucket numbers followed by a colon, then the overflow
// marker.
func (b Bitmap) Describe() string {
	parts := b.Flags()
	for _, bucket := range b.Buckets() {
		parts = append(parts, strconv.Itoa(bucket)+":")
	}
	if b.Overflowed() {
		parts = append(parts, fmt.Sprintf(">%d_chunk_changed", NumBuckets))
	}
	return strings.Join(parts, " ")
}

// String returns the bitmap as 32 hex digits, most significant bit first.
func (b Bitmap) String() string {
	text, _ := b.MarshalText()
	return string(text)
}

func (b Bitmap) MarshalText() ([]byte, error) {
	var raw [16]byte
	for i := 0; i < 8; i++ {
		raw[i] = byte(b[1] >> uint(56-8*i))
		raw[8+i] = byte(b[0] >> uint(56-8*i))
	}
	out := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(out, raw[:])
	return out, nil
}

func (b *Bitmap) UnmarshalText(text []byte) error {
	var raw [16]byte
	if hex.DecodedLen(len(text)) != len(raw) {
		return fmt.Errorf("bitmap: bad length %d", len(text))
	}
	if _, err := hex.Decode(raw[:], text); err != nil {
		return fmt.Errorf("bitmap: %w", err)
	}
	var nb Bitmap
	for i := 0; i < 8; i++ {
		nb[1] = nb[1]<<8 | uint64(raw[i])
		nb[0] = nb[0]<<8 | uint64(raw[8+i])
	}
	*b = nb
	return nil
}

type jsonBitmap struct {
	Bits     string   `json:"bits"`
	Flags    []string `json:"flags"`
	Buckets  []int    `json:"buckets"`
	Overflow bool     `json:"overflow"`
}

// MarshalJSON includes the decoded interpretation next to the raw bits, for
// the benefit of humans reading API output.
func (b Bitmap) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonBitmap{
		Bits:     b.String(),
		Flags:    b.Flags(),
		Buckets:  b.Buckets(),
		Overflow: b.Overflowed(),
	})
}

func (b *Bitmap) UnmarshalJSON(data []byte) error {
	var jb jsonBitmap
	if err := json.Unmarshal(data, &jb); err != nil {
		return err
	}
	return b.UnmarshalText([]byte(jb.Bits))
}
