// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pointcloud

import (
	"bytes"
	"math"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/pcn/pkg/core/shapes"
)

func TestValidate(t *testing.T) {
	require.NoError(t, Cloud{{1, 2, 3}}.Validate())
	assert.ErrorIs(t, Cloud{}.Validate(), shapes.ErrShape)
	assert.ErrorIs(t, Cloud(nil).Validate(), shapes.ErrShape)
	assert.ErrorIs(t, Cloud{{1, 2, 3}, {1, 2}}.Validate(), shapes.ErrShape)
	assert.ErrorIs(t, Cloud{{1, 2, 3, 4}}.Validate(), shapes.ErrShape)
}

func TestFlat(t *testing.T) {
	flat := []float32{1, 2, 3, 4, 5, 6}
	c, err := FromFlat(flat)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	assert.Equal(t, []float32{4, 5, 6}, c[1])
	assert.Equal(t, "(Float32)[2 3]", c.Shape().String())
	assert.Equal(t, flat, c.Flatten())

	// Points can't grow into their neighbor's storage.
	c[0] = append(c[0], 7)
	assert.Equal(t, float32(4), flat[3])

	_, err = FromFlat([]float32{1, 2})
	assert.ErrorIs(t, err, shapes.ErrShape)

	zeros := New(4)
	require.NoError(t, zeros.Validate())
	assert.Equal(t, make([]float32, 12), zeros.Flatten())
}

func TestPermuteAndBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	c := Random(100, rng)
	require.NoError(t, c.Validate())
	assert.True(t, c.IsFinite())
	minPoint, maxPoint := c.Bounds()
	for axis := range Dim {
		assert.GreaterOrEqual(t, minPoint[axis], float32(0))
		assert.Less(t, maxPoint[axis], float32(1))
	}

	shuffled := c.Shuffle(rng)
	require.Equal(t, c.Len(), shuffled.Len())
	sortPoints := func(c Cloud) Cloud {
		c = slices.Clone(c)
		slices.SortFunc(c, func(a, b []float32) int { return slices.Compare(a, b) })
		return c
	}
	assert.True(t, cmp.Equal(sortPoints(c), sortPoints(shuffled)))

	c2 := c.Clone()
	c2[0][0] = float32(math.NaN())
	assert.False(t, c2.IsFinite())
	assert.True(t, c.IsFinite())
}

func TestResample(t *testing.T) {
	c := Random(10, rand.New(rand.NewPCG(3, 4)))

	same, err := Resample(c, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, c, same)

	smaller, err := Resample(c, 4, 7)
	require.NoError(t, err)
	require.Equal(t, 4, smaller.Len())
	seen := map[*float32]bool{}
	for _, point := range smaller {
		require.False(t, seen[&point[0]], "points must be distinct")
		seen[&point[0]] = true
	}

	larger, err := Resample(c, 25, 7)
	require.NoError(t, err)
	require.Equal(t, 25, larger.Len())
	assert.Equal(t, c, larger[:10])

	// Deterministic given the seed.
	larger2, err := Resample(c, 25, 7)
	require.NoError(t, err)
	assert.Equal(t, larger, larger2)

	_, err = Resample(Cloud{}, 25, 7)
	assert.ErrorIs(t, err, shapes.ErrShape)
	_, err = Resample(c, 0, 7)
	assert.Error(t, err)
}

func TestXYZ(t *testing.T) {
	input := "# comment\n1 2 3\n\n4.5,5,6 0 0 1\n-1\t-2\t-3e-2\n"
	c, err := ReadXYZ(strings.NewReader(input))
	require.NoError(t, err)
	want := Cloud{{1, 2, 3}, {4.5, 5, 6}, {-1, -2, -3e-2}}
	assert.Equal(t, want, c)

	var buf bytes.Buffer
	require.NoError(t, WriteXYZ(&buf, c))
	assert.Equal(t, "1 2 3\n4.5 5 6\n-1 -2 -0.03\n", buf.String())
	c2, err := ReadXYZ(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, c2)

	_, err = ReadXYZ(strings.NewReader("1 2\n"))
	assert.Error(t, err)
	_, err = ReadXYZ(strings.NewReader("1 2 x\n"))
	assert.Error(t, err)
}

func TestPCD(t *testing.T) {
	c := Random(17, rand.New(rand.NewPCG(5, 6)))
	for _, binaryData := range []bool{false, true} {
		var buf bytes.Buffer
		require.NoError(t, WritePCD(&buf, c, binaryData))
		got, h, err := ReadPCD(&buf)
		require.NoError(t, err)
		assert.Equal(t, 17, h.Points)
		assert.Equal(t, []string{"x", "y", "z"}, h.Fields)
		assert.Equal(t, c, got, "binary=%v", binaryData)
	}

	// Extra fields, in a different order.
	input := `# .PCD v0.7
VERSION 0.7
FIELDS intensity z y x
SIZE 4 8 4 4
TYPE U F F F
COUNT 1 1 1 1
WIDTH 2
HEIGHT 1
VIEWPOINT 0 0 0 1 0 0 0
POINTS 2
DATA ascii
10 3 2 1
11 6 5 4
`
	got, _, err := ReadPCD(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, Cloud{{1, 2, 3}, {4, 5, 6}}, got)

	_, _, err = ReadPCD(strings.NewReader(strings.Replace(input, "DATA ascii", "DATA binary_compressed", 1)))
	assert.Error(t, err)
	_, _, err = ReadPCD(strings.NewReader(strings.Replace(input, "FIELDS intensity z y x", "FIELDS intensity z y w", 1)))
	assert.Error(t, err)
}

func TestPCDMalformedHeader(t *testing.T) {
	header := func(size, count, points, data string) string {
		return "FIELDS x y z w\nSIZE " + size + "\nTYPE F F F F\nCOUNT " + count +
			"\nPOINTS " + points + "\nDATA " + data + "\n"
	}
	for _, tc := range []struct {
		name, input string
	}{
		{"huge POINTS", header("4 4 4 4", "1 1 1 1", "4000000000000000000", "ascii") + "1 2 3 4\n"},
		{"negative SIZE", header("4 4 4 -20", "1 1 1 1", "1", "binary") + "0123456789ab"},
		{"zero SIZE", header("4 4 4 0", "1 1 1 1", "1", "binary") + "0123456789ab"},
		{"invalid SIZE", header("4 4 4 3", "1 1 1 1", "1", "binary") + "0123456789ab"},
		{"negative COUNT", header("4 4 4 4", "1 1 1 -3", "1", "binary") + "0123456789ab"},
		{"huge COUNT", header("4 4 4 8", "1 1 1 1000000000000000000", "1", "binary") + "0123456789ab"},
		{"negative POINTS", header("4 4 4 4", "1 1 1 1", "-1", "ascii")},
		{"negative WIDTH", "FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nWIDTH -2\nHEIGHT 3\nDATA ascii\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() { _, _, err = ReadPCD(strings.NewReader(tc.input)) })
			require.Error(t, err)
		})
	}
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	c := Random(5, rand.New(rand.NewPCG(7, 8)))
	for _, name := range []string{"cloud.xyz", "cloud.pcd"} {
		path := filepath.Join(dir, name)
		require.NoError(t, WriteFile(path, c))
		got, err := ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, c, got, name)
	}
	assert.Error(t, WriteFile(filepath.Join(dir, "cloud.ply"), c))
	_, err := ReadFile(filepath.Join(dir, "missing.xyz"))
	assert.Error(t, err)
}
