// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ticketkey

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// wireVersion is the only supported remote-cache payload version.
const wireVersion = 1

// blob length per cipher: 16-byte name + enc_key + hmac_key.
func blobLen(c Cipher) (int, bool) {
	switch c {
	case AES128CBC:
		return 48, true
	case AES256CBC:
		return 80, true
	default:
		return 0, false
	}
}

// ErrMalformedPayload indicates a structurally invalid remote-cache
// response: short header, short payload, an empty key list, or an
// unsupported version. A key_blob length other than 48 or 80 is not
// reported with this error; decodePayload treats it as an unsupported
// cipher and the response is dropped without an error.
var ErrMalformedPayload = errors.New("ticketkey: malformed remote key payload")

// decodePayload parses the bit-exact big-endian wire format:
//
//	version: u32
//	repeated { len: u16; key_blob: len bytes }
//
// A key_blob whose len matches neither AES-128 (48) nor AES-256 (80) is
// unsupported; the whole response is dropped without error when this
// occurs, so decodePayload returns (nil, false, nil), not an error, in
// that case. Any other structural defect (short header, truncated blob,
// unsupported version) returns ErrMalformedPayload.
func decodePayload(b []byte) (keys []TicketKey, ok bool, err error) {
	if len(b) < 4 {
		return nil, false, fmt.Errorf("%w: short header", ErrMalformedPayload)
	}
	version := binary.BigEndian.Uint32(b[0:4])
	if version != wireVersion {
		return nil, false, fmt.Errorf("%w: unsupported version %d", ErrMalformedPayload, version)
	}
	b = b[4:]

	var out []TicketKey
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, false, fmt.Errorf("%w: truncated len field", ErrMalformedPayload)
		}
		l := int(binary.BigEndian.Uint16(b[0:2]))
		b = b[2:]
		if len(b) < l {
			return nil, false, fmt.Errorf("%w: truncated key_blob", ErrMalformedPayload)
		}
		blob := b[:l]
		b = b[l:]

		key, recognized, derr := decodeBlob(blob, l)
		if derr != nil {
			return nil, false, derr
		}
		if !recognized {
			// unsupported cipher for this blob length: silent drop of the
			// whole response rather than a partial key set.
			return nil, false, nil
		}
		out = append(out, key)
	}

	if len(out) == 0 {
		return nil, false, fmt.Errorf("%w: no keys in payload", ErrMalformedPayload)
	}
	return out, true, nil
}

// decodeBlob decodes one key_blob of the given length into a TicketKey,
// inferring the cipher from the blob length (48 => AES-128, 80 =>
// AES-256). recognized is false (with a nil error) when l matches no
// supported cipher.
func decodeBlob(blob []byte, l int) (key TicketKey, recognized bool, err error) {
	var cipher Cipher
	switch l {
	case 48:
		cipher = AES128CBC
	case 80:
		cipher = AES256CBC
	default:
		return TicketKey{}, false, nil
	}

	encLen, _ := cipher.KeyLen()
	hmacLen, _ := cipher.HMACLen()
	var name [NameLen]byte
	copy(name[:], blob[0:NameLen])
	encKey := make([]byte, encLen)
	copy(encKey, blob[NameLen:NameLen+encLen])
	hmacKey := make([]byte, hmacLen)
	copy(hmacKey, blob[NameLen+encLen:NameLen+encLen+hmacLen])

	key, err = newTicketKey(name, encKey, hmacKey, cipher)
	if err != nil {
		return TicketKey{}, false, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return key, true, nil
}

// encodePayload is the inverse of decodePayload; used by tests to
// round-trip a Set through the wire format.
func encodePayload(keys []TicketKey) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, wireVersion)

	for _, k := range keys {
		l, ok := blobLen(k.Cipher)
		if !ok {
			continue
		}
		lenField := make([]byte, 2)
		binary.BigEndian.PutUint16(lenField, uint16(l))
		buf = append(buf, lenField...)
		buf = append(buf, k.Name[:]...)
		buf = append(buf, k.EncKey...)
		buf = append(buf, k.HMACKey...)
	}
	return buf
}
