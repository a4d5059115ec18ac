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

// Package ticketkey implements TLS session-ticket key material: the
// immutable key/key-set types (C1), random generation (C2), the periodic
// rotator (C3), and the remote-cache fetcher (C4).
package ticketkey

import "fmt"

// Cipher identifies the symmetric cipher a ticket key's enc_key is sized
// for.
type Cipher int

const (
	// AES128CBC uses a 16-byte encryption key.
	AES128CBC Cipher = iota
	// AES256CBC uses a 32-byte encryption key.
	AES256CBC
)

// KeyLen returns the encryption-key length in bytes for c.
func (c Cipher) KeyLen() (int, error) {
	switch c {
	case AES128CBC:
		return 16, nil
	case AES256CBC:
		return 32, nil
	default:
		return 0, fmt.Errorf("ticketkey: unsupported cipher %d", c)
	}
}

// HMACLen returns the hmac_key length in bytes for c: the §4.3 wire blob
// pairs a 16-byte hmac_key with AES-128-CBC (48-byte blob) and a 32-byte
// hmac_key with AES-256-CBC (80-byte blob), matching enc_key's length
// rather than a digest size fixed across ciphers.
func (c Cipher) HMACLen() (int, error) {
	return c.KeyLen()
}

func (c Cipher) String() string {
	switch c {
	case AES128CBC:
		return "AES-128-CBC"
	case AES256CBC:
		return "AES-256-CBC"
	default:
		return "unknown"
	}
}

// NameLen is the length, in bytes, of a ticket key's name.
const NameLen = 16

// Digest identifies the MAC digest algorithm used for a ticket key's
// hmac_key. Only SHA-256 is supported; the type exists so the data model
// names the algorithm explicitly.
type Digest int

// SHA256 is the only supported digest.
const SHA256 Digest = 0

// TicketKey is immutable TLS session-ticket key material: a 16-byte name,
// an encryption key, and an HMAC key, both sized for Cipher.
//
// TicketKey is never mutated after construction; rotations and fetches
// always build a new value.
type TicketKey struct {
	Name    [NameLen]byte
	EncKey  []byte
	HMACKey []byte
	Cipher  Cipher
	Digest  Digest
}

// newTicketKey validates that encKey and hmacKey are sized correctly for
// cipher before returning a TicketKey wrapping the given fields. It does
// not copy encKey or hmacKey; callers must not retain a mutable
// reference to either afterward.
func newTicketKey(name [NameLen]byte, encKey, hmacKey []byte, cipher Cipher) (TicketKey, error) {
	wantEncLen, err := cipher.KeyLen()
	if err != nil {
		return TicketKey{}, err
	}
	if len(encKey) != wantEncLen {
		return TicketKey{}, fmt.Errorf("ticketkey: enc_key length %d does not match %s (want %d)", len(encKey), cipher, wantEncLen)
	}
	wantHMACLen, err := cipher.HMACLen()
	if err != nil {
		return TicketKey{}, err
	}
	if len(hmacKey) != wantHMACLen {
		return TicketKey{}, fmt.Errorf("ticketkey: hmac_key length %d does not match %s (want %d)", len(hmacKey), cipher, wantHMACLen)
	}
	return TicketKey{
		Name:    name,
		EncKey:  encKey,
		HMACKey: hmacKey,
		Cipher:  cipher,
		Digest:  SHA256,
	}, nil
}

// Set is an ordered, non-empty sequence of TicketKey. Position 0 is the
// active encryption key; positions 1..N are decryption-only. Position N
// (the last), when len(Set) > 1, is a preview of the next active key
// that a rotator is about to promote. Set is shared by reference across
// goroutines and must never be mutated in place; rotations/fetches
// produce a new Set.
type Set struct {
	keys []TicketKey
}

// NewSet builds a Set from keys, which must be non-empty. The slice is
// copied so the caller's backing array can be reused safely.
func NewSet(keys []TicketKey) (*Set, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("ticketkey: key set must be non-empty")
	}
	cp := make([]TicketKey, len(keys))
	copy(cp, keys)
	return &Set{keys: cp}, nil
}

// Len reports the number of keys in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Active returns the encryption key at position 0.
func (s *Set) Active() TicketKey {
	return s.keys[0]
}

// At returns the key at position i (0 = active, 1..N-1 = decrypt-only).
func (s *Set) At(i int) TicketKey {
	return s.keys[i]
}

// All returns a defensive copy of the ordered key slice.
func (s *Set) All() []TicketKey {
	cp := make([]TicketKey, len(s.keys))
	copy(cp, s.keys)
	return cp
}
