package interval

import (
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/testutil"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
)

func TestTargetsUnion(t *testing.T) {
	targets, err := NewTargets("amp", []Entry{
		{"amp", 10, 20},
		{"amp", 15, 25},
		{"other", 0, 100},
		{"amp", 25, 30}, // abuts [10, 25)
		{"amp", 40, 41},
	})
	assert.NoError(t, err)
	assert.Equal(t, []Entry{{"amp", 10, 30}, {"amp", 40, 41}}, targets.Intervals())
	assert.Equal(t, 21, targets.Size())

	for _, tt := range []struct {
		pos  PosType
		want bool
	}{{9, false}, {10, true}, {29, true}, {30, false}, {40, true}, {41, false}} {
		assert.Equal(t, tt.want, targets.Contains(tt.pos), "pos %d", tt.pos)
	}

	clipped := targets.Clip(15)
	assert.Equal(t, []Entry{{"amp", 10, 15}}, clipped.Intervals())

	_, err = NewTargets("amp", []Entry{{"amp", 5, 5}})
	assert.Error(t, err)
}

func TestPosTypeMax(t *testing.T) {
	// A typed constant keeps := declarations in PosType.
	start := PosTypeMax
	assert.Equal(t, PosType(math.MaxInt32), start)
	start = PosType(7)
	assert.Equal(t, PosType(7), start)
}

func TestWholeContig(t *testing.T) {
	targets := WholeContig("amp", 8)
	assert.Equal(t, []Entry{{"amp", 0, 8}}, targets.Intervals())
	assert.True(t, targets.Contains(7))
	assert.False(t, targets.Contains(8))
}

func TestReadBED(t *testing.T) {
	entries, err := ReadBED(strings.NewReader("track name=x\n#comment\namp\t3\t9\tprimer1\t0\t+\n\namp 12 14\n"))
	assert.NoError(t, err)
	assert.Equal(t, []Entry{{"amp", 3, 9}, {"amp", 12, 14}}, entries)

	_, err = ReadBED(strings.NewReader("amp\t3\n"))
	assert.Error(t, err)
	_, err = ReadBED(strings.NewReader("amp\tx\t9\n"))
	assert.Error(t, err)
}

func TestNewTargetsFromPathGzip(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()

	path := filepath.Join(tmpdir, "targets.bed.gz")
	out, err := file.Create(ctx, path)
	assert.NoError(t, err)
	gz := gzip.NewWriter(out.Writer(ctx))
	_, err = gz.Write([]byte("amp\t0\t4\namp\t6\t8\n"))
	assert.NoError(t, err)
	assert.NoError(t, gz.Close())
	assert.NoError(t, out.Close(ctx))

	targets, err := NewTargetsFromPath(ctx, path, "amp")
	assert.NoError(t, err)
	assert.Equal(t, []Entry{{"amp", 0, 4}, {"amp", 6, 8}}, targets.Intervals())

	_, err = NewTargetsFromPath(ctx, filepath.Join(tmpdir, "missing.bed"), "amp")
	assert.Error(t, err)
}

func TestParseRegionString(t *testing.T) {
	tests := []struct {
		region  string
		want    Entry
		wantErr bool
	}{
		{"amp:3-8", Entry{"amp", 2, 8}, false},
		{"amp:5", Entry{"amp", 4, 5}, false},
		{"amp", Entry{"amp", 0, PosTypeMax - 1}, false},
		{"", Entry{}, true},
		{":1-2", Entry{}, true},
		{"amp:0-3", Entry{}, true},
		{"amp:5-3", Entry{}, true},
	}
	for _, tt := range tests {
		got, err := ParseRegionString(tt.region)
		if tt.wantErr {
			assert.Error(t, err, tt.region)
			continue
		}
		assert.NoError(t, err, tt.region)
		assert.Equal(t, tt.want, got, tt.region)
	}
}
