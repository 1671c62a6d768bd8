package interval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
)

// PosType is the integer type used to represent genomic positions.
type PosType = int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax PosType = math.MaxInt32

// Entry represents a single interval, with 0-based half-open coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

func (e Entry) String() string {
	return fmt.Sprintf("%s:%d-%d", e.ChrName, e.Start0+1, e.End)
}

// span is the llrb payload; spans stored in a Targets tree never overlap.
type span struct {
	start, end PosType
}

// Compare implements llrb.Comparable.
func (s span) Compare(c llrb.Comparable) int {
	s2 := c.(span)
	switch {
	case s.start < s2.start:
		return -1
	case s.start > s2.start:
		return 1
	}
	return 0
}

// Targets is a union of intervals on one contig.
type Targets struct {
	contig string
	tree   llrb.Tree
}

// NewTargets returns the union of the entries that lie on contig.  Entries on
// other contigs are ignored; empty entries are rejected.
func NewTargets(contig string, entries []Entry) (*Targets, error) {
	t := &Targets{contig: contig}
	for _, e := range entries {
		if e.Start0 < 0 || e.End <= e.Start0 {
			return nil, errors.E(errors.Invalid, "invalid target interval", e.String())
		}
		if e.ChrName != contig {
			continue
		}
		t.add(e.Start0, e.End)
	}
	return t, nil
}

// WholeContig returns a Targets covering [0, length) of contig.
func WholeContig(contig string, length PosType) *Targets {
	t := &Targets{contig: contig}
	if length > 0 {
		t.add(0, length)
	}
	return t
}

// add inserts [start, end), merging it with every overlapping or abutting
// span already present.
func (t *Targets) add(start, end PosType) {
	var absorbed []span
	t.tree.DoRange(func(c llrb.Comparable) bool {
		s := c.(span)
		if s.end >= start {
			absorbed = append(absorbed, s)
		}
		return false
	}, span{start: -1}, span{start: end + 1})
	for _, s := range absorbed {
		if s.start < start {
			start = s.start
		}
		if s.end > end {
			end = s.end
		}
		t.tree.Delete(s)
	}
	t.tree.Insert(span{start, end})
}

// Contig returns the contig the targets lie on.
func (t *Targets) Contig() string { return t.contig }

// Contains reports whether pos lies in some target.
func (t *Targets) Contains(pos PosType) bool {
	c := t.tree.Floor(span{start: pos})
	if c == nil {
		return false
	}
	return pos < c.(span).end
}

// Intervals returns the disjoint intervals of the union in ascending order.
func (t *Targets) Intervals() []Entry {
	entries := make([]Entry, 0, t.tree.Len())
	t.tree.Do(func(c llrb.Comparable) bool {
		s := c.(span)
		entries = append(entries, Entry{ChrName: t.contig, Start0: s.start, End: s.end})
		return false
	})
	return entries
}

// Clip returns the union intersected with [0, length).
func (t *Targets) Clip(length PosType) *Targets {
	clipped := &Targets{contig: t.contig}
	for _, e := range t.Intervals() {
		if e.End > length {
			e.End = length
		}
		if e.Start0 < e.End {
			clipped.add(e.Start0, e.End)
		}
	}
	return clipped
}

// Size returns the number of positions in the union.
func (t *Targets) Size() int {
	n := 0
	for _, e := range t.Intervals() {
		n += int(e.End - e.Start0)
	}
	return n
}

// ReadBED parses the first three columns of each BED line.  Header, track and
// comment lines are skipped.
func ReadBED(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Text()
		if line == "" || line[0] == '#' || strings.HasPrefix(line, "track") || strings.HasPrefix(line, "browser") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, errors.E(errors.Invalid, "BED line", lineIdx, "has fewer than 3 columns")
		}
		start, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "BED line", lineIdx)
		}
		end, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "BED line", lineIdx)
		}
		entries = append(entries, Entry{ChrName: fields[0], Start0: PosType(start), End: PosType(end)})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// NewTargetsFromPath reads a (possibly gzipped) BED file and returns the union
// of its intervals on contig.
func NewTargetsFromPath(ctx context.Context, path, contig string) (t *Targets, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, errors.E(errors.NotExist, err, "targets", path)
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	if fileio.DetermineType(path) == fileio.Gzip {
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return nil, errors.E(err, "targets", path)
		}
		defer gz.Close() // nolint: errcheck
		reader = gz
	}
	entries, err := ReadBED(reader)
	if err != nil {
		return nil, errors.E(err, "targets", path)
	}
	return NewTargets(contig, entries)
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1) is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[:colonPos]
	rangeStr := region[colonPos+1:]
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int64
	if start1, err = strconv.ParseInt(rangeStr[:dashPos], 10, 32); err != nil {
		return
	}
	if end, err = strconv.ParseInt(rangeStr[dashPos+1:], 10, 32); err != nil {
		return
	}
	if start1 <= 0 || end < start1 {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}
