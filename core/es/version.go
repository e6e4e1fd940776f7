package es

import "log/slog"

// Version is the per-stream version of an event or aggregate. Versions are
// contiguous integers starting at 1; an empty stream has version 0. The
// expected-version comparison on append is the optimistic-concurrency
// mechanism.
type Version uint64

func (v Version) Uint64() uint64                       { return uint64(v) }
func (v Version) SlogAttr() slog.Attr                  { return slog.Uint64("version", uint64(v)) }
func (v Version) SlogAttrWithKey(key string) slog.Attr { return slog.Uint64(key, uint64(v)) }
