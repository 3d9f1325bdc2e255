package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/errgroup"

	"github.com/odvcencio/scormview/pkg/errors"
	"github.com/odvcencio/scormview/pkg/observability"
)

// ProgressFunc receives a percentage in [0,100].
type ProgressFunc func(percent int)

// Options controls extraction batching.
type Options struct {
	HTMLBatchSize  int
	AssetBatchSize int
	BatchYield     time.Duration
	MaxEntryBytes  int64
}

// DefaultOptions returns the batching used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		HTMLBatchSize:  5,
		AssetBatchSize: 20,
		BatchYield:     5 * time.Millisecond,
		MaxEntryBytes:  512 << 20,
	}
}

// Handle is the parsed archive for one load attempt.
type Handle struct {
	reader *zip.Reader
	closed atomic.Bool
}

// Entries returns the non-directory entries with safe names.
func (h *Handle) Entries() []*zip.File {
	if h.closed.Load() {
		return nil
	}
	out := make([]*zip.File, 0, len(h.reader.File))
	for _, f := range h.reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Close drops the parsed archive. It is safe to call more than once.
func (h *Handle) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.reader = nil
}

// Extractor turns archive bytes into a FileSet.
type Extractor struct {
	store  *Store
	opts   Options
	logger *observability.Logger
}

// NewExtractor creates an extractor storing blobs in store.
func NewExtractor(store *Store, opts Options, logger *observability.Logger) *Extractor {
	defaults := DefaultOptions()
	if opts.HTMLBatchSize <= 0 {
		opts.HTMLBatchSize = defaults.HTMLBatchSize
	}
	if opts.AssetBatchSize <= 0 {
		opts.AssetBatchSize = defaults.AssetBatchSize
	}
	if opts.BatchYield < 0 {
		opts.BatchYield = 0
	}
	if opts.MaxEntryBytes <= 0 {
		opts.MaxEntryBytes = defaults.MaxEntryBytes
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Extractor{store: store, opts: opts, logger: logger}
}

// Open parses data as a ZIP archive. Unreadable data and archives without
// file entries are INVALID_ARCHIVE.
func (e *Extractor) Open(data []byte) (*Handle, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.InvalidArchive(err, mimetype.Detect(data).String())
	}
	h := &Handle{reader: reader}
	if len(h.Entries()) == 0 {
		return nil, errors.InvalidArchive(nil, "")
	}
	return h, nil
}

// Extract decompresses every file entry into a new FileSet. HTML entries are
// processed first, then the remaining entries; within a batch entries are
// decompressed concurrently. Failing entries are logged and omitted.
func (e *Extractor) Extract(ctx context.Context, data []byte, onProgress ProgressFunc) (*FileSet, error) {
	ctx, span := observability.StartSpan(ctx, "archive.extract")
	defer span.End()
	started := time.Now()

	handle, err := e.Open(data)
	if err != nil {
		observability.RecordError(ctx, err)
		return nil, err
	}
	defer handle.Close()

	var htmlEntries, assetEntries []*zip.File
	for _, f := range handle.Entries() {
		if IsHTML(f.Name) {
			htmlEntries = append(htmlEntries, f)
		} else {
			assetEntries = append(assetEntries, f)
		}
	}

	files := NewFileSet(e.store)
	progress := newProgressReporter(len(htmlEntries)+len(assetEntries), onProgress)
	var skipped atomic.Int64

	batches := append(
		batch(htmlEntries, e.opts.HTMLBatchSize),
		batch(assetEntries, e.opts.AssetBatchSize)...,
	)
	for i, entries := range batches {
		if err := ctx.Err(); err != nil {
			files.Release()
			return nil, errors.Aborted("extracting", err)
		}
		if i > 0 && e.opts.BatchYield > 0 {
			select {
			case <-time.After(e.opts.BatchYield):
			case <-ctx.Done():
				files.Release()
				return nil, errors.Aborted("extracting", ctx.Err())
			}
		}

		var g errgroup.Group
		g.SetLimit(len(entries))
		for _, entry := range entries {
			g.Go(func() error {
				defer progress.step()
				if err := e.extractEntry(files, entry); err != nil {
					skipped.Add(1)
					observability.ExtractedEntries.WithLabelValues("skipped").Inc()
					e.logger.EntrySkipped(entry.Name, err)
					return nil
				}
				observability.ExtractedEntries.WithLabelValues("ok").Inc()
				return nil
			})
		}
		_ = g.Wait()
	}

	files.Freeze()
	progress.finish()

	observability.ExtractDuration.Observe(time.Since(started).Seconds())
	observability.SetAttributes(ctx, observability.AttrPackageFiles.Int(files.Len()))
	e.logger.ExtractionCompleted(files.Len(), int(skipped.Load()))
	return files, nil
}

func (e *Extractor) extractEntry(files *FileSet, entry *zip.File) error {
	if _, ok := NormalizePath(entry.Name); !ok {
		return fmt.Errorf("unsafe path")
	}
	if entry.UncompressedSize64 > uint64(e.opts.MaxEntryBytes) {
		return fmt.Errorf("entry exceeds %d bytes", e.opts.MaxEntryBytes)
	}
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, e.opts.MaxEntryBytes+1))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if int64(len(body)) > e.opts.MaxEntryBytes {
		return fmt.Errorf("entry exceeds %d bytes", e.opts.MaxEntryBytes)
	}
	_, err = files.Put(entry.Name, body)
	return err
}

func batch(entries []*zip.File, size int) [][]*zip.File {
	var out [][]*zip.File
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		out = append(out, entries[start:end])
	}
	return out
}

// progressReporter turns processed/total counts into monotonic percentages
// that reach 100 exactly once, from finish.
type progressReporter struct {
	mu        sync.Mutex
	total     int
	processed int
	last      int
	done      bool
	report    ProgressFunc
}

func newProgressReporter(total int, report ProgressFunc) *progressReporter {
	return &progressReporter{total: total, last: -1, report: report}
}

func (p *progressReporter) step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processed++
	if p.total == 0 || p.done {
		return
	}
	pct := p.processed * 100 / p.total
	if pct > 99 {
		pct = 99
	}
	p.emit(pct)
}

func (p *progressReporter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.emit(100)
	p.done = true
}

func (p *progressReporter) emit(pct int) {
	if pct <= p.last {
		return
	}
	p.last = pct
	if p.report != nil {
		p.report(pct)
	}
}
