package dedup

/**
* MIT License
*
* Copyright (c) 2017 Broad Institute
*
* Permission is hereby granted, free of charge, to any person obtaining a copy
* of this software and associated documentation files (the "Software"), to deal
* in the Software without restriction, including without limitation the rights
* to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
* copies of the Software, and to permit persons to whom the Software is
* furnished to do so, subject to the following conditions:
*
* The above copyright notice and this permission notice shall be included in all
* copies or substantial portions of the Software.
*
* THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
* IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
* FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
* AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
* LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
* OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
* SOFTWARE.
 */

import (
	"math"

	"github.com/grailbio/base/errors"
)

/**
 * Estimates the number of distinct molecules in the library from the number
 * of fragments read and the number of duplicate networks they formed.
 * Based on the Lander-Waterman equation that states:
 *   C/X = 1 - exp( -N/X )
 * where
 *   X = number of distinct molecules in library
 *   N = number of fragments
 *   C = number of networks
 */
func estimateLibrarySize(fragments, networks uint64) (uint64, error) {
	f := func(x, c, n float64) float64 {
		return c/x + math.Expm1(-n/x)
	}
	if networks == 0 || fragments <= networks {
		return 0, errors.E(errors.Invalid, "no duplicates among", fragments, "fragments")
	}
	n := float64(fragments)
	c := float64(networks)
	m := float64(1.0)
	M := float64(100.0)
	if f(m*c, c, n) < 0 {
		return 0, errors.E(errors.Invalid, "invalid fragment and network counts", fragments, networks)
	}

	// If c and n are large and almost equal, M can go to +Inf before f()
	// becomes negative.
	for f(M*c, c, n) >= 0 {
		M *= 10.0
		if math.IsInf(M, 1) {
			return 0, errors.E("could not bracket the library size for", fragments, networks)
		}
	}
	for i := 0; i < 40; i++ {
		r := (m + M) / 2.0
		u := f(r*c, c, n)
		if u == 0 {
			break
		} else if u > 0 {
			m = r
		} else {
			M = r
		}
	}
	return uint64(c * (m + M) / 2.0), nil
}
