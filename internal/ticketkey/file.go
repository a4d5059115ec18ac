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
	"fmt"
	"os"
)

// LoadFromFiles builds a Set by reading one key per file, in order
// (position 0 = first file). This path bypasses Rotator entirely and is
// used once at startup when tls_ticket_key_files is non-empty.
//
// Each file must contain exactly name+enc_key+hmac_key bytes for cipher
// (48 bytes for AES-128-CBC, 80 for AES-256-CBC), matching the same
// blob layout the remote-cache payload uses.
func LoadFromFiles(paths []string, cipher Cipher) (*Set, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("ticketkey: no key files given")
	}

	wantLen, ok := blobLen(cipher)
	if !ok {
		return nil, fmt.Errorf("ticketkey: unsupported cipher for file-based keys: %s", cipher)
	}

	keys := make([]TicketKey, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("ticketkey: reading key file %s: %w", p, err)
		}
		if len(b) != wantLen {
			return nil, fmt.Errorf("ticketkey: key file %s has length %d, want %d for %s", p, len(b), wantLen, cipher)
		}
		key, recognized, err := decodeBlob(b, wantLen)
		if err != nil {
			return nil, fmt.Errorf("ticketkey: key file %s: %w", p, err)
		}
		if !recognized {
			return nil, fmt.Errorf("ticketkey: key file %s: unrecognized blob length", p)
		}
		keys = append(keys, key)
	}

	return NewSet(keys)
}
