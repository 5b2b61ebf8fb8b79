// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	check "gopkg.in/check.v1"
)

var _ = check.Suite(&LockSuite{})

type LockSuite struct{}

func (s *LockSuite) SetUpTest(c *check.C) {
	lockRetryDelay = time.Millisecond
}

func (s *LockSuite) TearDownTest(c *check.C) {
	lockRetryDelay = 250 * time.Millisecond
}

func (s *LockSuite) newLocker(c *check.C, tryOnce func(context.Context) (bool, error)) *Locker {
	logger := logrus.New()
	logger.Out = &testLogWriter{c}
	l := newLocker(logger, nil, "global")
	l.tryOnce = tryOnce
	return l
}

type testLogWriter struct{ c *check.C }

func (w *testLogWriter) Write(buf []byte) (int, error) {
	w.c.Log(string(buf))
	return len(buf), nil
}

func (s *LockSuite) TestAdvisoryKeyDeterministic(c *check.C) {
	c.Check(advisoryKey("global"), check.Equals, advisoryKey("global"))
	c.Check(advisoryKey("global") == advisoryKey("adhoc"), check.Equals, false)
}

func (s *LockSuite) TestAcquireAfterRetries(c *check.C) {
	attempts := 0
	l := s.newLocker(c, func(context.Context) (bool, error) {
		attempts++
		return attempts >= 3, nil
	})
	locked, err := l.TryLock(context.Background(), time.Second)
	c.Assert(err, check.IsNil)
	c.Check(locked, check.Equals, true)
	c.Check(attempts, check.Equals, 3)
}

func (s *LockSuite) TestBoundedWait(c *check.C) {
	attempts := 0
	l := s.newLocker(c, func(context.Context) (bool, error) {
		attempts++
		return false, nil
	})
	t0 := time.Now()
	locked, err := l.TryLock(context.Background(), 20*time.Millisecond)
	c.Assert(err, check.IsNil)
	c.Check(locked, check.Equals, false)
	c.Check(attempts > 1, check.Equals, true)
	// The wait never runs far past the deadline.
	c.Check(time.Since(t0) < time.Second, check.Equals, true)
}

func (s *LockSuite) TestZeroTimeoutSingleAttempt(c *check.C) {
	attempts := 0
	l := s.newLocker(c, func(context.Context) (bool, error) {
		attempts++
		return false, nil
	})
	locked, err := l.TryLock(context.Background(), 0)
	c.Assert(err, check.IsNil)
	c.Check(locked, check.Equals, false)
	c.Check(attempts, check.Equals, 1)
}

func (s *LockSuite) TestErrorPropagates(c *check.C) {
	bang := errors.New("connection refused")
	l := s.newLocker(c, func(context.Context) (bool, error) {
		return false, bang
	})
	locked, err := l.TryLock(context.Background(), time.Second)
	c.Check(locked, check.Equals, false)
	c.Check(errors.Is(err, bang), check.Equals, true)
}

func (s *LockSuite) TestContextCancel(c *check.C) {
	ctx, cancel := context.WithCancel(context.Background())
	l := s.newLocker(c, func(context.Context) (bool, error) {
		cancel()
		return false, nil
	})
	locked, err := l.TryLock(ctx, time.Minute)
	c.Check(locked, check.Equals, false)
	c.Check(errors.Is(err, context.Canceled), check.Equals, true)
}

func (s *LockSuite) TestUnlockWithoutLock(c *check.C) {
	l := s.newLocker(c, func(context.Context) (bool, error) { return false, nil })
	l.Unlock() // must not panic
}
