package fragment

import (
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/hts/sam"
	"github.com/grailbio/umicall/pileup"
)

// NewTestReference returns a reference and a single-contig header for it.
func NewTestReference(name, seq string) (*pileup.Reference, *sam.Header) {
	sref, err := sam.NewReference(name, "", "", len(seq), nil, nil)
	if err != nil {
		panic(err)
	}
	header, err := sam.NewHeader(nil, []*sam.Reference{sref})
	if err != nil {
		panic(err)
	}
	header.SortOrder = sam.Coordinate
	return &pileup.Reference{Name: name, Seq: []byte(strings.ToUpper(seq))}, header
}

// NewTestRecord builds a mapped record.  qual is a string of phred values
// offset by 33; an empty qual gives every base quality 40.  nm < 0 omits the
// NM tag.
func NewTestRecord(name string, ref *sam.Reference, pos int, flags sam.Flags, cigar, seq, qual string, nm int) *sam.Record {
	if qual == "" {
		qual = strings.Repeat("I", len(seq))
	}
	if len(seq) != len(qual) {
		panic("seq and qual must be equal length")
	}
	q := make([]byte, len(qual))
	for i := range qual {
		q[i] = qual[i] - 33
	}
	r := sam.GetFromFreePool()
	r.Name = name
	r.Ref = ref
	r.Pos = pos
	r.MateRef = ref
	r.Flags = flags
	r.Cigar = ParseCigar(cigar)
	r.Seq = sam.NewSeq([]byte(seq))
	r.Qual = q
	r.AuxFields = nil
	if nm >= 0 {
		aux, err := sam.NewAux(tagNM, int32(nm))
		if err != nil {
			panic(err)
		}
		r.AuxFields = append(r.AuxFields, aux)
	}
	return r
}

// NewTestPair builds an FR pair: R1 forward at pos1, R2 reverse at pos2.
func NewTestPair(name string, ref *sam.Reference, pos1 int, cigar1, seq1 string, pos2 int, cigar2, seq2 string) []*sam.Record {
	const flags = sam.Paired | sam.ProperPair
	r1 := NewTestRecord(name, ref, pos1, flags|sam.Read1|sam.MateReverse, cigar1, seq1, "", -1)
	r2 := NewTestRecord(name, ref, pos2, flags|sam.Read2|sam.Reverse, cigar2, seq2, "", -1)
	r1.MatePos, r2.MatePos = pos2, pos1
	return []*sam.Record{r1, r2}
}

// ParseCigar parses a CIGAR string such as "3M1D4M".
func ParseCigar(s string) sam.Cigar {
	cigar, err := sam.ParseCigar([]byte(s))
	if err != nil {
		panic(fmt.Sprintf("cigar %q: %v", s, err))
	}
	return cigar
}

// RecordSource returns a Collect-compatible iterator over recs.
func RecordSource(recs []*sam.Record) func() (*sam.Record, error) {
	i := 0
	return func() (*sam.Record, error) {
		if i >= len(recs) {
			return nil, io.EOF
		}
		i++
		return recs[i-1], nil
	}
}
