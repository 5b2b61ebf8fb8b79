// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import "errors"

// Errors returned to submitters. Everything that happens before a
// query is admitted is surfaced synchronously through one of these;
// failures inside the background refresh loop are logged and
// absorbed instead (there is no caller to report to).
var (
	// ErrRejected: the query matched no selection rule of the
	// active configuration manager. Not retryable here.
	ErrRejected = errors.New("query did not match any selection rule")

	// ErrBusy: the distributed lock for the target group could not
	// be acquired within the admission timeout. Retryable by the
	// caller.
	ErrBusy = errors.New("coordinator too busy, try again later")

	// ErrQueueFull: the target group's queue is at its limit.
	ErrQueueFull = errors.New("too many queued queries for resource group")

	// ErrNotLeaf: queries can only run in leaf groups.
	ErrNotLeaf = errors.New("cannot run query in resource group with subgroups")
)

// Configuration errors. These are operator/programmer errors: the
// failing operation aborts without mutating existing state.
var (
	ErrUnknownGroup     = errors.New("resource group does not exist")
	ErrUnknownFactory   = errors.New("configuration manager is not registered")
	ErrDuplicateFactory = errors.New("configuration manager is already registered")
	ErrPolicySet        = errors.New("configuration manager already set")
	ErrLegacyPolicy     = errors.New("cannot fetch legacy configuration manager")
)
