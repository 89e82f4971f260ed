// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command dwarf2btf runs the DWARF-to-BTF encoding pipeline over one
// or more ELF object files, appending the resulting BTF type table as
// a new .BTF section in each.
package main

import (
	"bytes"
	"debug/elf"
	"fmt"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/aclements/dwarf2btf/internal/btf"
	"github.com/aclements/dwarf2btf/internal/elfreader"
	"github.com/aclements/dwarf2btf/internal/elfwriter"
	"github.com/aclements/dwarf2btf/internal/encoder"
	"github.com/aclements/dwarf2btf/internal/loader"
)

// maxConcurrentFiles bounds how many object files are encoded at once
// when more than one is given on the command line; each gets its own
// independent EncoderSession (SPEC_FULL.md §5 -- this parallelism is
// CLI-level only, never inside a single session).
const maxConcurrentFiles = 4

const btfSectionName = ".BTF"

type config struct {
	force         bool
	verbose       bool
	skipPercpu    bool
	baseNr        uint32
	baseIntID     btf.TypeID
	haveBaseIntID bool
	output        string
	percpuSection string
}

func main() {
	var (
		force         bool
		verbose       bool
		skipPercpu    bool
		baseBTF       string
		output        string
		percpuSection string
	)
	pflag.BoolVar(&force, "btf_encode_force", false, "downgrade invalid-name and void-typed-var errors to warnings")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "log per-file encoding progress")
	pflag.BoolVar(&skipPercpu, "skip_encoding_btf_vars", false, "don't encode per-CPU variables")
	pflag.StringVar(&baseBTF, "base-btf", "", "base BTF file (or ELF object carrying one) to continue type numbering from")
	pflag.StringVarP(&output, "output", "o", "", "output file (defaults to rewriting the input in place)")
	pflag.StringVar(&percpuSection, "percpu-section", btf.PercpuSectionName, "name of the per-CPU data section")
	pflag.Parse()

	paths := pflag.Args()
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "usage: dwarf2btf [flags] <object_file>...")
		os.Exit(2)
	}
	if output != "" && len(paths) > 1 {
		log.Fatal("PAHOLE: Error: --output cannot be used with more than one input file")
	}

	var baseNr uint32
	var baseIntID btf.TypeID
	var haveBaseIntID bool
	if baseBTF != "" {
		n, intID, ok, err := loadBaseNr(baseBTF)
		if err != nil {
			log.Fatalf("PAHOLE: Error: reading base BTF %s: %v", baseBTF, err)
		}
		baseNr = n
		baseIntID = intID
		haveBaseIntID = ok
	}

	cfg := config{
		force:         force,
		verbose:       verbose,
		skipPercpu:    skipPercpu,
		baseNr:        baseNr,
		baseIntID:     baseIntID,
		haveBaseIntID: haveBaseIntID,
		output:        output,
		percpuSection: percpuSection,
	}

	if err := run(paths, cfg); err != nil {
		log.Printf("PAHOLE: Error: %v", err)
		os.Exit(1)
	}
}

// run encodes every path in paths. A single file is processed
// directly; more than one is fanned out over a bounded errgroup pool,
// per SPEC_FULL.md §5.
func run(paths []string, cfg config) error {
	if len(paths) == 1 {
		return errors.Wrapf(processFile(paths[0], cfg), "encoding %s", paths[0])
	}

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrentFiles)
	for _, p := range paths {
		p := p
		g.Go(func() error {
			if cfg.verbose {
				log.Printf("PAHOLE: encoding %s", p)
			}
			if err := processFile(p, cfg); err != nil {
				return errors.Wrapf(err, "encoding %s", p)
			}
			return nil
		})
	}
	return g.Wait()
}

// processFile runs the full pipeline -- ElfReader, SymbolIndex,
// FtraceFilter, Loader, then TypeEncoder/FunctionEncoder/
// PerCpuVarEncoder per CU via EncoderSession -- and appends the
// resulting .BTF section to the object file.
func processFile(path string, cfg config) error {
	r, err := elfreader.Open(path, elfreader.WithPercpuSectionName(cfg.percpuSection))
	if err != nil {
		return err
	}
	defer r.Close()

	if !r.HasDWARF() {
		return fmt.Errorf("%s: no DWARF debug info", path)
	}

	idx, err := encoder.BuildSymbolIndex(r, cfg.force)
	if err != nil {
		return err
	}
	if err := encoder.ApplyFtraceFilter(r, idx); err != nil {
		return err
	}

	cus, err := loader.Load(r)
	if err != nil {
		return err
	}

	opts := []encoder.Option{
		encoder.WithForce(cfg.force),
		encoder.WithSkipPercpuVars(cfg.skipPercpu),
		encoder.WithVerbose(cfg.verbose),
		encoder.WithBaseNr(cfg.baseNr),
		encoder.WithPercpuBase(r.PercpuBaseAddr()),
		encoder.WithSymbolIndex(idx),
	}
	if cfg.haveBaseIntID {
		opts = append(opts, encoder.WithBaseArrayIndexID(cfg.baseIntID))
	}
	sess := encoder.NewSession(opts...)
	for _, cu := range cus {
		cu.Filename = path
		if err := sess.EncodeCU(cu); err != nil {
			return err
		}
	}

	data, err := sess.Finalize()
	if err != nil {
		return err
	}

	out := cfg.output
	if out == "" {
		out = path
	}
	return elfwriter.AppendSection(path, out, btfSectionName, data)
}

// loadBaseNr reads the type count out of a base BTF source -- either a
// raw BTF blob, or an ELF object (typically vmlinux) carrying one in a
// .BTF section -- and, if it already defines a base type named "int",
// that type's id, for reuse as the array-index type (SPEC_FULL.md §2).
func loadBaseNr(path string) (nr uint32, intID btf.TypeID, haveIntID bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, false, err
	}
	blob := data
	if ef, ferr := elf.NewFile(bytes.NewReader(data)); ferr == nil {
		if sec := ef.Section(btfSectionName); sec != nil {
			secData, err := sec.Data()
			if err != nil {
				return 0, 0, false, err
			}
			blob = secData
		}
	}
	types, err := btf.Decode(blob)
	if err != nil {
		return 0, 0, false, err
	}
	intID, haveIntID = btf.FindIntType(types, "int")
	return uint32(len(types)), intID, haveIntID, nil
}
