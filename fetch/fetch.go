/*
Package fetch implements the Fetch Pipeline: a bounded-concurrency scheduler
that drives the resolver's flatList through transport.Transport into files
on disk, tracking per-artifact state and emitting rate-limited progress
events, per spec.md §5.
*/
package fetch

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"bundle.dev/core/cache"
	"bundle.dev/core/event"
	"bundle.dev/core/logging"
	"bundle.dev/core/resolve"
	"bundle.dev/core/transport"
)

var log = logging.For("fetch")

// State is one artifact's position in spec.md §5's state machine:
// pending -> downloading -> (completed|failed|skipped|cancelled), with
// paused as a reversible sibling of downloading.
type State int

const (
	Pending State = iota
	Downloading
	Paused
	Completed
	Failed
	Skipped
	Cancelled
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Downloading:
		return "downloading"
	case Paused:
		return "paused"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Item tracks one artifact's fetch progress.
type Item struct {
	Artifact resolve.ResolvedArtifact

	mu            sync.Mutex
	state         State
	bytesFetched  int64
	err           error
}

func (it *Item) snapshot() (State, int64, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.state, it.bytesFetched, it.err
}

func (it *Item) setState(s State) {
	it.mu.Lock()
	it.state = s
	it.mu.Unlock()
}

// Pipeline fetches a flatList of ResolvedArtifacts to disk under destDir,
// bounded to concurrency simultaneous artifact downloads, pausable and
// cancellable as a whole (spec.md §5: "a single session-wide cancellation
// token").
type Pipeline struct {
	transport   *transport.Transport
	cache       *cache.Store
	destDir     string
	concurrency int
	bus         *event.Bus

	mu      sync.Mutex
	items   []*Item
	paused  bool
	resume  chan struct{}
	limiter map[resolve.VersionKey]*rate.Limiter // per-artifact progress-event throttle
}

// NewPipeline creates a Pipeline. concurrency must be in spec.md §6's 1..10
// range; callers validate via config.Config.Validate before constructing.
func NewPipeline(t *transport.Transport, c *cache.Store, bus *event.Bus, destDir string, concurrency int) *Pipeline {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Pipeline{
		transport:   t,
		cache:       c,
		destDir:     destDir,
		concurrency: concurrency,
		bus:         bus,
		resume:      make(chan struct{}),
		limiter:     make(map[resolve.VersionKey]*rate.Limiter),
	}
}

// Run fetches every artifact, returning once all have reached a terminal
// state (Completed, Failed, Skipped, or Cancelled) or ctx is done.
func (p *Pipeline) Run(ctx context.Context, artifacts []resolve.ResolvedArtifact) ([]*Item, error) {
	p.mu.Lock()
	p.items = make([]*Item, len(artifacts))
	for i, a := range artifacts {
		p.items[i] = &Item{Artifact: a}
		p.limiter[a.VersionKey] = rate.NewLimiter(rate.Every(300*time.Millisecond), 1)
	}
	p.mu.Unlock()

	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	for _, it := range p.items {
		it := it
		select {
		case <-ctx.Done():
			p.cancel(it)
			continue
		default:
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			p.waitIfPaused(ctx)
			p.fetchOne(ctx, it)
		}()
	}
	wg.Wait()
	return p.items, ctx.Err()
}

// Pause stops new artifacts from starting; in-flight downloads run to
// completion (spec.md §5 describes pause as reversible, not a hard abort).
func (p *Pipeline) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume un-pauses the pipeline.
func (p *Pipeline) Resume() {
	p.mu.Lock()
	if p.paused {
		p.paused = false
		close(p.resume)
		p.resume = make(chan struct{})
	}
	p.mu.Unlock()
}

func (p *Pipeline) waitIfPaused(ctx context.Context) {
	for {
		p.mu.Lock()
		if !p.paused {
			p.mu.Unlock()
			return
		}
		ch := p.resume
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) fetchOne(ctx context.Context, it *Item) {
	if ctx.Err() != nil {
		p.cancel(it)
		return
	}
	it.setState(Downloading)
	p.emit(it, "status")

	dest := filepath.Join(p.destDir, "packages", it.Artifact.FileName)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		p.fail(it, err)
		return
	}

	if fi, err := os.Stat(dest); err == nil && it.Artifact.ByteSize > 0 && fi.Size() == it.Artifact.ByteSize {
		if err := verifyArtifact(dest, it.Artifact.ByteSize, it.Artifact.Digest); err == nil {
			it.mu.Lock()
			it.bytesFetched = fi.Size()
			it.mu.Unlock()
			it.setState(Skipped)
			p.emit(it, "complete")
			return
		}
		// Same size but a different or corrupted payload: fall through and
		// re-fetch rather than trust a stale file on disk.
		os.Remove(dest)
	}

	if err := p.download(ctx, it, it.Artifact.FetchURL, dest); err != nil {
		if ctx.Err() != nil {
			p.cancel(it)
			return
		}
		p.fail(it, err)
		return
	}
	if err := verifyArtifact(dest, it.Artifact.ByteSize, it.Artifact.Digest); err != nil {
		os.Remove(dest)
		p.fail(it, err)
		return
	}

	for _, aux := range it.Artifact.Auxiliary {
		auxDest := filepath.Join(filepath.Dir(dest), aux.FileName)
		if err := p.download(ctx, it, aux.URL, auxDest); err != nil {
			if ctx.Err() != nil {
				p.cancel(it)
				return
			}
			p.fail(it, fmt.Errorf("auxiliary %s: %w", aux.Role, err))
			return
		}
		if err := verifyArtifact(auxDest, aux.ByteSize, aux.Digest); err != nil {
			os.Remove(auxDest)
			p.fail(it, fmt.Errorf("auxiliary %s: %w", aux.Role, err))
			return
		}
	}

	it.setState(Completed)
	p.emit(it, "complete")
}

// verifyArtifact re-reads the complete file at path and checks it against
// size and digest, per spec.md §4.3's "verify size and checksum on close".
// It reads the file whole rather than hashing during io.Copy so a
// range-resumed download (see download below) is verified against its full
// contents, not just the bytes fetched in the final request.
func verifyArtifact(path string, size int64, digestStr string) error {
	if size > 0 {
		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("verify %s: %w", filepath.Base(path), err)
		}
		if fi.Size() != size {
			return fmt.Errorf("verify %s: size mismatch: want %d, got %d", filepath.Base(path), size, fi.Size())
		}
	}
	if digestStr == "" {
		return nil
	}
	algo, want, ok := classifyDigest(digestStr)
	if !ok {
		log.Warnf("verify %s: unrecognized digest format %q, skipping checksum", filepath.Base(path), digestStr)
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("verify %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if algo == "apk-q1" {
		h := sha1.New()
		if _, err := io.Copy(h, f); err != nil {
			return fmt.Errorf("verify %s: %w", filepath.Base(path), err)
		}
		got := "Q1" + base64.StdEncoding.EncodeToString(h.Sum(nil))
		if got != want {
			return fmt.Errorf("verify %s: checksum mismatch", filepath.Base(path))
		}
		return nil
	}

	var h hash.Hash
	switch algo {
	case "sha256":
		h = sha256.New()
	case "sha1":
		h = sha1.New()
	case "sha512":
		h = sha512.New()
	case "md5":
		h = md5.New()
	default:
		log.Warnf("verify %s: unsupported digest algorithm %q, skipping checksum", filepath.Base(path), algo)
		return nil
	}
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("verify %s: %w", filepath.Base(path), err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("verify %s: checksum mismatch: want %s, got %s", filepath.Base(path), want, got)
	}
	return nil
}

// classifyDigest recognizes the digest formats the adapters actually emit:
// docker's self-describing "alg:hex" (opencontainers/go-digest), bare hex
// sha256/sha1/sha512/md5 (pip, npm, apt, conda, yum), and Alpine's
// "Q1"+base64(sha1) APKINDEX checksum field.
func classifyDigest(raw string) (algo, value string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	if i := strings.Index(raw, ":"); i > 0 && i < 10 {
		switch raw[:i] {
		case "sha256", "sha1", "sha512", "md5":
			return raw[:i], raw[i+1:], true
		}
	}
	if strings.HasPrefix(raw, "Q1") {
		return "apk-q1", raw, true
	}
	switch len(raw) {
	case 64:
		return "sha256", raw, true
	case 40:
		return "sha1", raw, true
	case 128:
		return "sha512", raw, true
	case 32:
		return "md5", raw, true
	}
	return "", "", false
}

func (p *Pipeline) download(ctx context.Context, it *Item, url, dest string) error {
	var start int64
	flags := os.O_CREATE | os.O_WRONLY
	if fi, err := os.Stat(dest + ".part"); err == nil {
		start = fi.Size()
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	result, err := p.transport.Open(ctx, url, start)
	if err != nil {
		return err
	}
	defer result.Body.Close()

	if start > 0 && !result.Resumed {
		start = 0
		flags = os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	}

	f, err := os.OpenFile(dest+".part", flags, 0o644)
	if err != nil {
		return err
	}

	written, err := io.Copy(f, &progressReader{
		r: result.Body,
		onRead: func(n int) {
			it.mu.Lock()
			it.bytesFetched += int64(n)
			it.mu.Unlock()
			p.maybeEmitProgress(it)
		},
	})
	closeErr := f.Close()
	if err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	_ = written

	return os.Rename(dest+".part", dest)
}

func (p *Pipeline) maybeEmitProgress(it *Item) {
	p.mu.Lock()
	lim := p.limiter[it.Artifact.VersionKey]
	p.mu.Unlock()
	if lim != nil && lim.Allow() {
		p.emit(it, "progress")
	}
}

// fail records err as the item's terminal failure, wrapping it with
// resolve.ErrFetchFailed (spec.md §7) unless it already carries a taxonomy
// sentinel so errors.Is keeps working through the wrap.
func (p *Pipeline) fail(it *Item, err error) {
	if !errors.Is(err, resolve.ErrFetchFailed) && !errors.Is(err, resolve.ErrCancelled) {
		err = fmt.Errorf("%w: %v", resolve.ErrFetchFailed, err)
	}
	it.mu.Lock()
	it.err = err
	it.state = Failed
	it.mu.Unlock()
	log.Warnf("fetch %s failed: %v", it.Artifact.VersionKey, err)
	p.emit(it, "status")
}

// cancel marks it as Cancelled with resolve.ErrCancelled recorded, so a
// caller inspecting Item.err after a session-wide cancellation can
// errors.Is(err, resolve.ErrCancelled) rather than see a nil error.
func (p *Pipeline) cancel(it *Item) {
	it.mu.Lock()
	it.err = resolve.ErrCancelled
	it.state = Cancelled
	it.mu.Unlock()
	p.emit(it, "cancelled")
}

func (p *Pipeline) emit(it *Item, kind string) {
	if p.bus == nil {
		return
	}
	state, fetched, err := it.snapshot()
	evt := event.Event{
		Kind:     kind,
		Artifact: it.Artifact.VersionKey.String(),
		State:    state.String(),
		Fetched:  fetched,
		Total:    it.Artifact.ByteSize,
	}
	if err != nil {
		evt.Error = err.Error()
	}
	p.bus.Publish(evt)
}

// progressReader wraps an io.Reader to report bytes read as they stream,
// without buffering the whole body (artifacts routinely exceed memory
// budgets: container layers, large wheels).
type progressReader struct {
	r      io.Reader
	onRead func(n int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.onRead != nil {
		p.onRead(n)
	}
	return n, err
}
