// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/rand"

	"github.com/imatic-tech/opcua/errors"
)

// newNonce generates n random bytes for a client/server nonce exchange
// (Part 4, Sec 5.5.2). The None policy uses a 1-byte nonce since it derives
// no keys from it.
func newNonce(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "uasc: generating nonce")
	}
	return b, nil
}
