// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package recordfile is a parser for simpleperf record files.
//
// A record file consists of an event attribute table, a sequence of
// profiling records, and a set of optional feature sections such as
// the recorded command line. Parsing starts with a call to Open, which
// maps the whole file read-only. File.Records returns the decoded
// record sequence, reordered by time when the file requests it, and
// other methods of File retrieve the attribute table and feature
// sections.
package recordfile // import "github.com/androidperf/go-recordfile/recordfile"
