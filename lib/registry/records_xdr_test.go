// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package registry

import (
	"bytes"
	"testing"

	"github.com/d4l3k/messagediff"

	"github.com/syncthing/changewatch/lib/bitmap"
	"github.com/syncthing/changewatch/lib/identity"
)

func TestRecordsFor(t *testing.T) {
	cases := []struct {
		budget, size, n int
	}{
		{0, ChangeRecordSize, 0},
		{-5, ChangeRecordSize, 0},
		{31, ChangeRecordSize, 0},
		{32, ChangeRecordSize, 1},
		{100, ChangeRecordSize, 3},
		{100, IdentityRecordSize, 6},
		{100, 0, 0},
	}
	for _, tc := range cases {
		if n := RecordsFor(tc.budget, tc.size); n != tc.n {
			t.Errorf("RecordsFor(%d, %d) => %d, expected %d", tc.budget, tc.size, n, tc.n)
		}
	}
}

func TestRecordEncoding(t *testing.T) {
	rec := Record{
		ID:      identity.ID{Dev: 0x0102, Ino: 0x0a0b0c},
		Changes: bitmap.Of(bitmap.Modified, 8, bitmap.Overflow),
	}
	bs, err := MarshalRecords([]Record{rec})
	if err != nil {
		t.Fatal(err)
	}

	expected := []byte{
		0, 0, 0, 0, 0, 0, 0x01, 0x02, // dev
		0, 0, 0, 0, 0, 0x0a, 0x0b, 0x0c, // ino
		0, 0, 0, 0, 0, 0, 0x01, 0x01, // bits 0-63
		0x80, 0, 0, 0, 0, 0, 0, 0, // bits 64-127
	}
	if !bytes.Equal(bs, expected) {
		t.Fatalf("unexpected encoding\n%x\n%x", bs, expected)
	}

	dec, err := UnmarshalRecords(bs)
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff([]Record{rec}, dec); !equal {
		t.Errorf("decode mismatch:\n%s", diff)
	}

	if _, err := UnmarshalRecords(bs[:31]); err == nil {
		t.Error("expected error for a partial record")
	}
}

func TestIdentityEncoding(t *testing.T) {
	ws := []Watch{{ID: identity.ID{Dev: 1, Ino: 2}}, {ID: identity.ID{Dev: 3, Ino: 4}}}
	bs, err := MarshalIdentities(ws)
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) != 2*IdentityRecordSize {
		t.Fatalf("unexpected length %d", len(bs))
	}
	ids, err := UnmarshalIdentities(bs)
	if err != nil {
		t.Fatal(err)
	}
	if diff, equal := messagediff.PrettyDiff([]identity.ID{ws[0].ID, ws[1].ID}, ids); !equal {
		t.Errorf("decode mismatch:\n%s", diff)
	}
}
