// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command recdump prints the raw contents of a simpleperf record
// file.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/androidperf/go-recordfile/recordfile"
)

func main() {
	flagInput := flag.String("i", "perf.data", "input record `file`")
	flag.Parse()
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := recordfile.Open(*flagInput)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	attrs, err := f.Attrs()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("events:\n")
	for i := range attrs {
		fmt.Printf("  %+v\n", attrs[i].Attr)
		ids, err := f.IDs(&attrs[i])
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("    ids: %v\n", ids)
	}

	for _, meta := range []struct {
		label string
		read  func() (string, error)
	}{
		{"hostname", f.Hostname},
		{"OS release", f.OSRelease},
		{"version", f.Version},
		{"arch", f.Arch},
		{"CPU desc", f.CPUDesc},
		{"CPUID", f.CPUID},
	} {
		val, err := meta.read()
		if err != nil {
			log.Fatal(err)
		}
		if val != "" {
			fmt.Printf("%s: %s\n", meta.label, val)
		}
	}

	if cmdline, err := f.CmdLine(); err != nil {
		log.Fatal(err)
	} else if cmdline != nil {
		fmt.Printf("cmdline: %v\n", cmdline)
	}

	records, err := f.Records()
	if err != nil {
		log.Fatal(err)
	}
	for _, r := range records {
		fmt.Printf("%v %+v\n", r.Type(), r)
	}
}
