// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imatic-tech/opcua/ua"
)

func TestPendingCallRegistryDispatchOnce(t *testing.T) {
	r := NewPendingCallRegistry()
	var calls int32
	id := r.Register(time.Time{}, func(body []byte, err error) {
		atomic.AddInt32(&calls, 1)
	})

	if err := r.Dispatch(id, []byte("body")); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	// a duplicate response for the same id must not invoke the callback again
	if err := r.Dispatch(id, []byte("body")); err != ua.StatusBadRequestIDInvalid {
		t.Fatalf("second Dispatch returned %v, want StatusBadRequestIDInvalid", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("callback invoked %d times, want 1", got)
	}
	if r.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", r.Len())
	}
}

func TestPendingCallRegistrySweepTimeouts(t *testing.T) {
	r := NewPendingCallRegistry()
	var gotErr error
	var wg sync.WaitGroup
	wg.Add(1)
	id := r.Register(time.Now().Add(-time.Millisecond), func(body []byte, err error) {
		gotErr = err
		wg.Done()
	})

	n := r.SweepTimeouts(time.Now())
	if n != 1 {
		t.Fatalf("SweepTimeouts swept %d, want 1", n)
	}
	wg.Wait()
	if gotErr != ua.StatusBadTimeout {
		t.Fatalf("callback err = %v, want StatusBadTimeout", gotErr)
	}

	// a call already swept must not be swept or dispatched again
	if err := r.Dispatch(id, nil); err != ua.StatusBadRequestIDInvalid {
		t.Fatalf("Dispatch after sweep = %v, want StatusBadRequestIDInvalid", err)
	}
}

func TestPendingCallRegistryDrain(t *testing.T) {
	r := NewPendingCallRegistry()
	const n = 5
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		i := i
		r.Register(time.Time{}, func(body []byte, err error) { errs[i] = err })
	}
	if r.Len() != n {
		t.Fatalf("Len() = %d, want %d", r.Len(), n)
	}

	r.Drain()

	if r.Len() != 0 {
		t.Fatalf("Len() after Drain = %d, want 0", r.Len())
	}
	for i, err := range errs {
		if err != ua.StatusBadShutdown {
			t.Fatalf("call %d err = %v, want StatusBadShutdown", i, err)
		}
	}
}
