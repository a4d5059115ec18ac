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
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

// ErrKeyGeneration is returned when the RNG fails to fill key material.
// This is recoverable: the rotator retries at the next tick and workers
// keep using the previous set.
var ErrKeyGeneration = errors.New("ticketkey: key generation failed")

// Generator produces fresh TicketKey values for a fixed cipher, reading
// randomness from Rand (defaults to crypto/rand.Reader).
type Generator struct {
	Cipher Cipher
	Rand   io.Reader
}

// NewGenerator validates that cipher's key length fits the configured
// buffer ("asserts at construction"), and returns a
// Generator using crypto/rand.Reader.
func NewGenerator(cipher Cipher) (*Generator, error) {
	if _, err := cipher.KeyLen(); err != nil {
		return nil, err
	}
	return &Generator{Cipher: cipher, Rand: rand.Reader}, nil
}

// Generate fills a fresh name, enc_key, and hmac_key from g.Rand and
// returns the resulting TicketKey. Any RNG read failure yields
// ErrKeyGeneration.
func (g *Generator) Generate() (TicketKey, error) {
	keyLen, err := g.Cipher.KeyLen()
	if err != nil {
		return TicketKey{}, err
	}
	hmacLen, err := g.Cipher.HMACLen()
	if err != nil {
		return TicketKey{}, err
	}

	var name [NameLen]byte
	if _, err := io.ReadFull(g.Rand, name[:]); err != nil {
		return TicketKey{}, fmt.Errorf("%w: name: %v", ErrKeyGeneration, err)
	}

	encKey := make([]byte, keyLen)
	if _, err := io.ReadFull(g.Rand, encKey); err != nil {
		return TicketKey{}, fmt.Errorf("%w: enc_key: %v", ErrKeyGeneration, err)
	}

	hmacKey := make([]byte, hmacLen)
	if _, err := io.ReadFull(g.Rand, hmacKey); err != nil {
		return TicketKey{}, fmt.Errorf("%w: hmac_key: %v", ErrKeyGeneration, err)
	}

	return newTicketKey(name, encKey, hmacKey, g.Cipher)
}
