// Package aggregate merges crawler-produced chunk files in a directory into
// one combined artifact. Chunk content is treated as opaque bytes: no JSON
// parsing, no validation, no semantic merge. The contract is byte-level
// concatenation in a deterministic order.
package aggregate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults mirror the original merge workflow: every .json chunk in the
// directory folded into merged.json.
const (
	DefaultPattern    = "*.json"
	DefaultOutputName = "merged.json"
	DefaultDelimiter  = "\n\n"
)

// Options configures a single merge run.
type Options struct {
	// Dir is the directory holding the chunk files. Must exist.
	Dir string

	// Pattern is a filepath.Match glob applied to base filenames.
	Pattern string

	// OutputName is the combined artifact's filename, written inside Dir.
	// A chunk with this exact name is never read back (self-exclusion).
	OutputName string

	// Delimiter is appended after each chunk's content.
	Delimiter string

	// Concurrency is the number of parallel chunk reads. Values <= 1 run
	// the plain sequential pass. The append phase is always serialized in
	// lexicographic filename order, so output is byte-identical either way.
	Concurrency int
}

func (o Options) withDefaults() Options {
	if o.Pattern == "" {
		o.Pattern = DefaultPattern
	}
	if o.OutputName == "" {
		o.OutputName = DefaultOutputName
	}
	if o.Delimiter == "" {
		o.Delimiter = DefaultDelimiter
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	return o
}

// Summary reports what a completed run did.
type Summary struct {
	RunID        string
	Dir          string
	Pattern      string
	OutputPath   string
	FilesMerged  int
	BytesWritten int64
	StartedAt    time.Time
	Duration     time.Duration
}

// Aggregator performs merge runs. Safe to reuse across runs; each call to
// Run is an independent pass.
type Aggregator struct {
	opts   Options
	logger *zap.Logger
}

// New validates the options and returns an Aggregator.
func New(opts Options, logger *zap.Logger) (*Aggregator, error) {
	opts = opts.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := filepath.Match(opts.Pattern, "probe"); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", opts.Pattern, err)
	}
	return &Aggregator{opts: opts, logger: logger}, nil
}

// Run scans the directory, truncates the output artifact, and appends every
// matching chunk's content in lexicographic filename order, one delimiter
// after each. All errors are fatal to the run; a partial merge is never
// reported as success.
func (a *Aggregator) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	opts := a.opts

	// Existence check happens before any write so a missing directory
	// leaves the filesystem untouched.
	info, err := os.Stat(opts.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Path: opts.Dir, Err: err}
		}
		return nil, classify("stat", opts.Dir, err)
	}
	if !info.IsDir() {
		return nil, &NotFoundError{Path: opts.Dir, Err: fmt.Errorf("not a directory")}
	}

	names, err := a.selectChunks()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("chunks selected",
		zap.String("dir", opts.Dir),
		zap.String("pattern", opts.Pattern),
		zap.Int("count", len(names)))

	// A run cancelled before any write must leave the previous artifact
	// intact, so the context is checked before the truncate.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outputPath := filepath.Join(opts.Dir, opts.OutputName)
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, classify("write", outputPath, err)
	}

	written, err := a.appendChunks(ctx, out, names)
	if cerr := out.Close(); err == nil && cerr != nil {
		err = classify("write", outputPath, cerr)
	}
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		RunID:        uuid.NewString(),
		Dir:          opts.Dir,
		Pattern:      opts.Pattern,
		OutputPath:   outputPath,
		FilesMerged:  len(names),
		BytesWritten: written,
		StartedAt:    started,
		Duration:     time.Since(started),
	}
	a.logger.Info("merge complete",
		zap.String("run_id", summary.RunID),
		zap.String("output", summary.OutputPath),
		zap.Int("files", summary.FilesMerged),
		zap.Int64("bytes", summary.BytesWritten))
	return summary, nil
}

// selectChunks resolves the matching chunk filenames in lexicographic order.
// The output artifact is excluded here, so a rerun never folds the previous
// combined file back into itself.
func (a *Aggregator) selectChunks() ([]string, error) {
	entries, err := os.ReadDir(a.opts.Dir)
	if err != nil {
		return nil, classify("read", a.opts.Dir, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if name == a.opts.OutputName {
			continue
		}
		ok, err := filepath.Match(a.opts.Pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", a.opts.Pattern, err)
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// appendChunks writes each chunk followed by one delimiter, returning the
// total bytes written. With Concurrency > 1 the reads fan out through an
// errgroup while the write phase stays in selection order.
func (a *Aggregator) appendChunks(ctx context.Context, out *os.File, names []string) (int64, error) {
	contents := make([][]byte, len(names))

	if a.opts.Concurrency > 1 {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(a.opts.Concurrency)
		for i, name := range names {
			eg.Go(func() error {
				if err := egCtx.Err(); err != nil {
					return err
				}
				data, err := os.ReadFile(filepath.Join(a.opts.Dir, name))
				if err != nil {
					return classify("read", filepath.Join(a.opts.Dir, name), err)
				}
				contents[i] = data
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return 0, err
		}
	}

	var written int64
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		data := contents[i]
		if data == nil {
			path := filepath.Join(a.opts.Dir, name)
			var err error
			data, err = os.ReadFile(path)
			if err != nil {
				return written, classify("read", path, err)
			}
		}
		a.logger.Debug("appending chunk", zap.String("file", name), zap.Int("bytes", len(data)))
		n, err := out.Write(data)
		written += int64(n)
		if err != nil {
			return written, classify("write", out.Name(), err)
		}
		n, err = out.WriteString(a.opts.Delimiter)
		written += int64(n)
		if err != nil {
			return written, classify("write", out.Name(), err)
		}
	}
	return written, nil
}
