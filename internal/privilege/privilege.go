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

// Package privilege implements the worker's privilege-drop sequence,
// using golang.org/x/sys/unix directly rather than the lower-level
// syscall package.
package privilege

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrDropFailed wraps any failure in the drop sequence; like
// process.SetupError, every individual failure here is fatal and the
// caller should abort the process.
type ErrDropFailed struct {
	Step string
	Err  error
}

func (e *ErrDropFailed) Error() string {
	return fmt.Sprintf("privilege: %s failed: %v", e.Step, e.Err)
}

func (e *ErrDropFailed) Unwrap() error { return e.Err }

// Drop performs the privilege-drop sequence: initgroups, setgid, setuid,
// then a verification that a subsequent setuid(0) fails. It must be
// called exactly once, after socket setup/inheritance and ticket-key
// file reads, and before the IPC reader is armed.
//
// Drop is a no-op (returning nil) unless the effective UID is 0 and uid
// is non-zero.
func Drop(userName string, uid, gid int) error {
	if unix.Geteuid() != 0 || uid == 0 {
		return nil
	}

	if err := initgroups(userName, gid); err != nil {
		return &ErrDropFailed{Step: "initgroups", Err: err}
	}
	if err := unix.Setgid(gid); err != nil {
		return &ErrDropFailed{Step: "setgid", Err: err}
	}
	if err := unix.Setuid(uid); err != nil {
		return &ErrDropFailed{Step: "setuid", Err: err}
	}

	// Verify that privileges are irrevocably dropped: a subsequent
	// setuid(0) must fail. If it
	// succeeds, the process still effectively has root and must abort.
	if err := unix.Setuid(0); err == nil {
		return &ErrDropFailed{Step: "setuid(0) verification", Err: fmt.Errorf("setuid(0) unexpectedly succeeded after dropping privileges")}
	}

	return nil
}

// initgroups mirrors the C initgroups(3) call: it initializes the
// supplementary group list for userName using that user's /etc/group
// membership, plus gid.
func initgroups(userName string, gid int) error {
	u, err := user.Lookup(userName)
	if err != nil {
		return fmt.Errorf("looking up user %q: %w", userName, err)
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return fmt.Errorf("listing groups for %q: %w", userName, err)
	}

	gids := make([]int, 0, len(groupIDs)+1)
	seenGID := false
	for _, g := range groupIDs {
		id, err := strconv.Atoi(g)
		if err != nil {
			continue
		}
		if id == gid {
			seenGID = true
		}
		gids = append(gids, id)
	}
	if !seenGID {
		gids = append(gids, gid)
	}

	return unix.Setgroups(gids)
}
