package main

import (
	"bufio"
	"context"
	"io"
	"math/bits"
	"os"
	"slices"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/bookstore-coupons/internal/couponcode"
	"github.com/xenking/bookstore-coupons/internal/domain/coupon"
)

const (
	// Sized for partner files of a few million codes each.
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	maxInputFiles = 64
)

// generateCodes writes count unique codes, one per line, gzip-compressed.
func generateCodes(ctx context.Context, w io.Writer, prefix string, length, count int) (int, error) {
	if count < 1 {
		return 0, errors.New("count must be positive")
	}
	gen, err := couponcode.New(prefix, length, uint(count))
	if err != nil {
		return 0, err
	}

	gz := pgzip.NewWriter(w)
	bw := bufio.NewWriter(gz)
	n := 0
	for ; n < count; n++ {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		code, err := gen.Next()
		if err != nil {
			return n, errors.Wrap(err, "next code")
		}
		if _, err := bw.WriteString(code + "\n"); err != nil {
			return n, errors.Wrap(err, "write code")
		}
	}
	if err := bw.Flush(); err != nil {
		return n, errors.Wrap(err, "flush")
	}
	if err := gz.Close(); err != nil {
		return n, errors.Wrap(err, "close gzip")
	}
	return n, nil
}

type scanOptions struct {
	minFiles int
	minLen   int
	maxLen   int
	// expected sizes the per-file bloom filters. Zero means bloomCapacity.
	expected uint
}

func (o scanOptions) capacity() uint {
	if o.expected == 0 {
		return bloomCapacity
	}
	return o.expected
}

func (o scanOptions) accept(code string) bool {
	return len(code) >= o.minLen && len(code) <= o.maxLen
}

// collectCodes returns the normalized codes from files that appear in at
// least minFiles of them, sorted.
func collectCodes(ctx context.Context, lg *zap.Logger, files []string, opts scanOptions) ([]string, error) {
	if len(files) > maxInputFiles {
		return nil, errors.Errorf("at most %d input files are supported", maxInputFiles)
	}
	if opts.minFiles < 1 {
		opts.minFiles = 1
	}
	if opts.minFiles > len(files) {
		return nil, errors.Errorf("min files %d exceeds the %d input files", opts.minFiles, len(files))
	}

	var (
		merged map[string]uint
		err    error
	)
	if opts.minFiles == 1 {
		merged, err = scanAll(ctx, files, opts)
	} else {
		merged, err = scanShared(ctx, lg, files, opts)
	}
	if err != nil {
		return nil, err
	}

	var out []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= opts.minFiles {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out, nil
}

// scanAll keeps every code, marking which file it came from.
func scanAll(ctx context.Context, files []string, opts scanOptions) (map[string]uint, error) {
	results := make([]map[string]uint, len(files))
	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			seen := make(map[string]uint)
			err := streamCodes(ctx, path, func(code string) {
				if opts.accept(code) {
					seen[code] = 1 << uint(i)
				}
			})
			results[i] = seen
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeMasks(results), nil
}

// scanShared finds codes present in more than one file without holding every
// code in memory. Pass one builds a bloom filter per file. Pass two keeps a
// code only when another file's filter may contain it; the file bitmasks
// then confirm the exact count.
func scanShared(ctx context.Context, lg *zap.Logger, files []string, opts scanOptions) (map[string]uint, error) {
	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.capacity(), bloomFPR)
			var count int
			err := streamCodes(gctx, path, func(code string) {
				if !opts.accept(code) {
					return
				}
				filter.AddString(code)
				if count++; count%progressEvery == 0 {
					lg.Info("Indexing codes", zap.String("file", path), zap.Int("codes", count))
				}
			})
			if err != nil {
				return err
			}
			lg.Info("Indexed file", zap.String("file", path), zap.Int("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := make([]map[string]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			err := streamCodes(gctx, path, func(code string) {
				if !opts.accept(code) {
					return
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						candidates[code] = 1 << uint(i)
						return
					}
				}
			})
			results[i] = candidates
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeMasks(results), nil
}

func mergeMasks(results []map[string]uint) map[string]uint {
	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r {
			merged[code] |= mask
		}
	}
	return merged
}

// streamCodes calls fn with each normalized, non-empty line of a gzip file.
func streamCodes(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if code := coupon.NormalizeCode(scanner.Text()); code != "" {
			fn(code)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// Upserter stores a coupon, replacing the definition of an existing code.
type Upserter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

// upsertCodes stores one coupon per code, copied from tmpl. Codes that fail
// validation are skipped and logged.
func upsertCodes(ctx context.Context, lg *zap.Logger, store Upserter, tmpl coupon.Coupon, codes []string, workers int) error {
	var written, skipped atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, code := range codes {
		g.Go(func() error {
			c := tmpl
			c.Code = code
			c.Categories = slices.Clone(tmpl.Categories)
			if err := coupon.Prepare(&c); err != nil {
				skipped.Add(1)
				lg.Warn("Skipping code", zap.String("code", code), zap.Error(err))
				return nil
			}
			if err := store.Upsert(ctx, &c); err != nil {
				return errors.Wrapf(err, "upsert coupon %s", code)
			}
			if n := written.Add(1); n%10_000 == 0 {
				lg.Info("Upsert progress", zap.Int64("written", n), zap.Int("total", len(codes)))
			}
			return nil
		})
	}
	err := g.Wait()
	lg.Info("Upserted coupons",
		zap.Int64("written", written.Load()),
		zap.Int64("skipped", skipped.Load()),
	)
	return err
}
