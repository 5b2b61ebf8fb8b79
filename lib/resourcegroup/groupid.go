// Copyright (C) The Tessera Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package resourcegroup

import (
	"encoding/json"
	"fmt"
	"strings"
)

// A GroupID identifies a resource group by its path from the root of
// the group tree, e.g. "global.adhoc.bi". A GroupID is immutable:
// methods return derived values, never mutate.
type GroupID struct {
	segments []string
}

// NewGroupID returns the GroupID with the given path segments. It
// returns an error if no segments are given, or any segment is empty
// or contains a path separator.
func NewGroupID(segments ...string) (GroupID, error) {
	if len(segments) == 0 {
		return GroupID{}, fmt.Errorf("group id must have at least one segment")
	}
	for _, seg := range segments {
		if seg == "" || strings.Contains(seg, ".") {
			return GroupID{}, fmt.Errorf("invalid group id segment %q", seg)
		}
	}
	return GroupID{segments: append([]string(nil), segments...)}, nil
}

// ParseGroupID parses a dot-separated group path.
func ParseGroupID(path string) (GroupID, error) {
	return NewGroupID(strings.Split(path, ".")...)
}

// Sub returns the id of the named subgroup of id.
func (id GroupID) Sub(name string) GroupID {
	segments := make([]string, 0, len(id.segments)+1)
	segments = append(segments, id.segments...)
	return GroupID{segments: append(segments, name)}
}

// Parent returns the id of the parent group, or ok==false if id is a
// root group.
func (id GroupID) Parent() (GroupID, bool) {
	if len(id.segments) < 2 {
		return GroupID{}, false
	}
	return GroupID{segments: id.segments[:len(id.segments)-1]}, true
}

// Root returns the id of the root ancestor of id.
func (id GroupID) Root() GroupID {
	return GroupID{segments: id.segments[:1]}
}

// LastSegment returns the final path segment, i.e. the group's own
// name.
func (id GroupID) LastSegment() string {
	return id.segments[len(id.segments)-1]
}

// Segments returns a copy of the path segments.
func (id GroupID) Segments() []string {
	return append([]string(nil), id.segments...)
}

// IsZero reports whether id is the zero GroupID.
func (id GroupID) IsZero() bool {
	return len(id.segments) == 0
}

func (id GroupID) String() string {
	return strings.Join(id.segments, ".")
}

// Equal reports whether two ids name the same group.
func (id GroupID) Equal(other GroupID) bool {
	return id.String() == other.String()
}

// MarshalJSON renders the id as its dot-separated path.
func (id GroupID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses a dot-separated path.
func (id *GroupID) UnmarshalJSON(data []byte) error {
	var path string
	if err := json.Unmarshal(data, &path); err != nil {
		return err
	}
	parsed, err := ParseGroupID(path)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
