// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package debug provides opt-in protocol tracing for the secure channel and
// client connect engine.
package debug

import "log"

// Enable turns on debug logging for the whole module.
var Enable = false

// Printf logs a message if Enable is true.
func Printf(format string, args ...interface{}) {
	if !Enable {
		return
	}
	log.Printf(format, args...)
}
