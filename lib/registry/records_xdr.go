// Copyright (C) 2026 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package registry

import (
	"errors"

	"github.com/calmh/xdr"

	"github.com/syncthing/changewatch/lib/bitmap"
	"github.com/syncthing/changewatch/lib/identity"
)

// Fixed record sizes of the binary read-out. An identity record is the
// device and inode numbers; a change record is an identity followed by the
// bitmap, low word first.
const (
	IdentityRecordSize = 16
	ChangeRecordSize   = IdentityRecordSize + 16
)

var errPartialRecord = errors.New("partial record")

// RecordsFor returns how many records of size recordSize fit in budget
// bytes.
func RecordsFor(budget, recordSize int) int {
	if budget <= 0 || recordSize <= 0 {
		return 0
	}
	return budget / recordSize
}

type identityRecord identity.ID

func (o identityRecord) MarshalXDRInto(m *xdr.Marshaller) error {
	m.MarshalUint64(o.Dev)
	m.MarshalUint64(o.Ino)
	return m.Error
}

func (o *identityRecord) UnmarshalXDRFrom(u *xdr.Unmarshaller) error {
	o.Dev = u.UnmarshalUint64()
	o.Ino = u.UnmarshalUint64()
	return u.Error
}

func (r Record) XDRSize() int {
	return ChangeRecordSize
}

func (r Record) MarshalXDRInto(m *xdr.Marshaller) error {
	if err := identityRecord(r.ID).MarshalXDRInto(m); err != nil {
		return err
	}
	m.MarshalUint64(r.Changes[0])
	m.MarshalUint64(r.Changes[1])
	return m.Error
}

func (r *Record) UnmarshalXDRFrom(u *xdr.Unmarshaller) error {
	var id identityRecord
	if err := id.UnmarshalXDRFrom(u); err != nil {
		return err
	}
	r.ID = identity.ID(id)
	r.Changes = bitmap.Bitmap{u.UnmarshalUint64(), u.UnmarshalUint64()}
	return u.Error
}

// MarshalRecords encodes records back to back.
func MarshalRecords(records []Record) ([]byte, error) {
	buf := make([]byte, len(records)*ChangeRecordSize)
	m := &xdr.Marshaller{Data: buf}
	for _, r := range records {
		if err := r.MarshalXDRInto(m); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// UnmarshalRecords decodes the output of MarshalRecords. Trailing bytes
// short of a full record are an error.
func UnmarshalRecords(bs []byte) ([]Record, error) {
	if len(bs)%ChangeRecordSize != 0 {
		return nil, errPartialRecord
	}
	res := make([]Record, len(bs)/ChangeRecordSize)
	u := &xdr.Unmarshaller{Data: bs}
	for i := range res {
		if err := res[i].UnmarshalXDRFrom(u); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// MarshalIdentities encodes the identities of the watch points back to
// back.
func MarshalIdentities(watches []Watch) ([]byte, error) {
	buf := make([]byte, len(watches)*IdentityRecordSize)
	m := &xdr.Marshaller{Data: buf}
	for _, w := range watches {
		if err := identityRecord(w.ID).MarshalXDRInto(m); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// UnmarshalIdentities decodes the output of MarshalIdentities.
func UnmarshalIdentities(bs []byte) ([]identity.ID, error) {
	if len(bs)%IdentityRecordSize != 0 {
		return nil, errPartialRecord
	}
	res := make([]identity.ID, len(bs)/IdentityRecordSize)
	u := &xdr.Unmarshaller{Data: bs}
	for i := range res {
		var id identityRecord
		if err := id.UnmarshalXDRFrom(u); err != nil {
			return nil, err
		}
		res[i] = identity.ID(id)
	}
	return res, nil
}
