// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pileup holds the base and position conventions shared by the
// consensus builder, the pileup scanner and the call emitter, plus reference
// loading.
package pileup

import (
	"bytes"
	"context"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/encoding/fasta"
	"github.com/grailbio/umicall/interval"
)

// PosType is the integer type used to represent genomic positions.  All
// in-memory positions are 0-based; text outputs convert as their formats
// require.
type PosType = interval.PosType

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = interval.PosTypeMax

// These constants index per-allele arrays.  BaseX collects N and any other
// non-ACGT call; BaseDel marks a reference column spanned by a deletion.
const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all.
	BaseX
	// BaseDel is a deletion.
	BaseDel
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX and BaseDel as well as the regular base types.
	NBaseEnum = 6
)

// UnknownBase is the ASCII sentinel written where a consensus column cannot
// be resolved.
const UnknownBase = 'N'

// DeletionChar is the ASCII placeholder for a deleted reference column.
const DeletionChar = '-'

// EnumToASCIITable is the A/C/G/T/X/Del -> ASCII mapping, with X rendered as
// 'N'.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N', '-'}

// ASCIIToEnumTable maps ASCII bases (either case) to the A/C/G/T/X/Del enum.
var ASCIIToEnumTable = func() (table [256]byte) {
	for i := range table {
		table[i] = BaseX
	}
	for i, c := range []byte("ACGT") {
		table[c] = byte(i)
		table[c+'a'-'A'] = byte(i)
	}
	table[DeletionChar] = BaseDel
	return
}()

// Reference is the single contiguous sequence variants are called against.
// Seq holds upper-case ASCII bases, addressed 0-based.
type Reference struct {
	Name string
	Seq  []byte
}

// Len returns the reference length.
func (r *Reference) Len() PosType { return PosType(len(r.Seq)) }

// Base returns the reference base at pos.
func (r *Reference) Base(pos PosType) byte { return r.Seq[pos] }

// LoadReference reads contig from the indexed FASTA at fapath.  The .fai
// index must exist.  If contig is empty the FASTA must hold exactly one
// sequence.
func LoadReference(ctx context.Context, fapath, contig string) (ref *Reference, err error) {
	fa, closer, err := fasta.OpenIndexed(ctx, fapath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := closer(); e != nil && err == nil {
			err = e
		}
	}()
	return ReferenceFromFasta(fa, contig)
}

// ReferenceFromFasta extracts contig from fa; see LoadReference.
func ReferenceFromFasta(fa fasta.Fasta, contig string) (*Reference, error) {
	names := fa.SeqNames()
	if contig == "" {
		if len(names) != 1 {
			return nil, errors.E(errors.Invalid, "reference holds", len(names), "sequences; a contig must be named")
		}
		contig = names[0]
	}
	n, err := fa.Len(contig)
	if err != nil {
		return nil, errors.E(errors.NotExist, err, "reference contig", contig)
	}
	if n == 0 {
		return nil, errors.E(errors.Invalid, "reference contig", contig, "is empty")
	}
	if n >= uint64(PosTypeMax) {
		return nil, errors.E(errors.Invalid, "reference contig", contig, "too long:", n)
	}
	seq, err := fa.Get(contig, 0, n)
	if err != nil {
		return nil, err
	}
	return &Reference{Name: contig, Seq: bytes.ToUpper([]byte(seq))}, nil
}

// CheckHeader returns the ID of the reference in the BAM header, verifying
// that its length matches.  Header references other than this one are
// tolerated (their reads are ignored) but logged.
func (r *Reference) CheckHeader(header *sam.Header) (int, error) {
	refID := -1
	for _, hr := range header.Refs() {
		if hr.Name() != r.Name {
			continue
		}
		if hr.Len() != len(r.Seq) {
			return -1, errors.E(errors.Invalid, "inconsistent lengths for contig", r.Name,
				"in alignment header", hr.Len(), "and reference", len(r.Seq))
		}
		refID = hr.ID()
	}
	if refID < 0 {
		return -1, errors.E(errors.Invalid, "reference contig", r.Name, "missing from alignment header")
	}
	if n := len(header.Refs()); n > 1 {
		log.Printf("pileup.CheckHeader: %d other reference(s) in alignment header will be ignored", n-1)
	}
	return refID, nil
}
