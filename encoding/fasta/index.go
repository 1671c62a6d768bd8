package fasta

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/tsv"
)

// IndexSuffix is appended to a FASTA path to name its index.
const IndexSuffix = ".fai"

// GenerateIndex generates an index (*.fai) from FASTA.  The index can be later
// passed to NewIndexed() to random-access the FASTA file quickly.
//
// The index format is defined by "samtools faidx"
// (http://www.htslib.org/doc/faidx.html).  Every line of a sequence except
// the last must have the same width.
func GenerateIndex(out io.Writer, in io.Reader) (err error) {
	var (
		tsvOut      = tsv.NewWriter(out)
		r           = bufio.NewReader(in)
		seqName     string
		seqStartOff int64
		totalBases  int
		lineBases   int
		lineWidth   int
		shortLine   bool
		cumByte     int64
		eof         bool
	)

	setErr := func(e error) {
		if e != nil && err == nil {
			err = e
		}
	}
	flush := func() {
		if seqName == "" {
			return
		}
		tsvOut.WriteString(seqName)
		tsvOut.WriteInt64(int64(totalBases))
		tsvOut.WriteInt64(seqStartOff)
		tsvOut.WriteInt64(int64(lineBases))
		tsvOut.WriteInt64(int64(lineWidth))
		setErr(tsvOut.EndLine())
	}
	for !eof && err == nil {
		fullLine, e := r.ReadBytes('\n')
		if e == io.EOF {
			eof = true
		} else if e != nil {
			setErr(e)
		}
		cumByte += int64(len(fullLine))
		line := bytes.TrimRight(fullLine, "\r\n")
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' {
			flush()
			seqName = strings.Fields(string(line[1:]) + " ")[0]
			seqStartOff = cumByte
			lineWidth = 0
			lineBases = 0
			totalBases = 0
			shortLine = false
			continue
		}
		if seqName == "" {
			setErr(errors.E(errors.Invalid, "malformed FASTA file: sequence data before first header"))
			break
		}
		if shortLine {
			setErr(errors.E(errors.Invalid, "FASTA sequence", seqName, "has lines of differing widths"))
			break
		}
		if lineWidth == 0 {
			lineWidth = len(fullLine)
			lineBases = len(line)
		} else if len(line) != lineBases {
			shortLine = true
		}
		totalBases += len(line)
	}
	flush()
	setErr(tsvOut.Flush())
	if cumByte == 0 {
		setErr(errors.E(errors.Invalid, "empty FASTA file"))
	}
	return
}

// WriteIndex reads the FASTA at path and writes path+IndexSuffix next to it.
func WriteIndex(ctx context.Context, path string) (err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return errors.E(err, "open FASTA", path)
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	out, err := file.Create(ctx, path+IndexSuffix)
	if err != nil {
		return errors.E(err, "create FASTA index", path+IndexSuffix)
	}
	defer file.CloseAndReport(ctx, out, &err)
	return GenerateIndex(out.Writer(ctx), in.Reader(ctx))
}

// OpenIndexed opens the FASTA at path together with its .fai index.  A missing
// index is reported as errors.NotExist naming the index path.  The returned
// closer must be called once the Fasta is no longer needed.
func OpenIndexed(ctx context.Context, path string) (Fasta, func() error, error) {
	indexPath := path + IndexSuffix
	idx, err := file.Open(ctx, indexPath)
	if err != nil {
		return nil, nil, errors.E(errors.NotExist, err, "missing reference index", indexPath)
	}
	defer idx.Close(ctx) // nolint: errcheck
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, errors.E(errors.NotExist, err, "unreadable reference", path)
	}
	fa, err := NewIndexed(in.Reader(ctx), idx.Reader(ctx))
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, nil, errors.E(errors.Invalid, err, "reference index", indexPath)
	}
	return fa, func() error { return in.Close(ctx) }, nil
}
