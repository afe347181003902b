// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package pointcloud

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Resample returns a cloud with exactly n points drawn from c, so that it matches the point count the network
// was calibrated for:
//
//   - If c has more than n points, a random subset of n distinct points is kept.
//   - If c has fewer than n points, all points are kept and randomly chosen ones are duplicated to pad it.
//   - Otherwise, c is returned unchanged.
//
// Points are shared with c, not copied. The selection is a deterministic function of the seed.
// Because the aggregation over points is a maximum, duplicated points don't change the global descriptor.
func Resample(c Cloud, n int, seed uint64) (Cloud, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, errors.Errorf("cannot resample point cloud to %d points", n)
	}
	if len(c) == n {
		return c, nil
	}
	rng := rand.New(rand.NewPCG(seed, uint64(len(c))))
	if len(c) > n {
		perm := rng.Perm(len(c))[:n]
		return c.Permute(perm), nil
	}
	out := make(Cloud, 0, n)
	out = append(out, c...)
	for len(out) < n {
		out = append(out, c[rng.IntN(len(c))])
	}
	return out, nil
}
