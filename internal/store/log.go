package store

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const logExt = ".jsonl.gz"

// maxEntryBytes bounds a single serialized record line during load.
const maxEntryBytes = 4 << 20 // 4MB

// Log persists one append-only compressed interaction log per domain.
//
// Each append writes a complete gzip member containing a single JSON line, so
// prior bytes are never rewritten; load reads the multistream gzip container
// back as one logical stream. Appends to a single domain are serialized,
// appends to different domains proceed independently. Readers take no lock;
// a reader racing a concurrent append sees a slightly stale but internally
// consistent snapshot.
type Log struct {
	dir string

	mu      sync.Mutex
	domains map[string]*domainState
}

type domainState struct {
	mu      sync.Mutex
	nextSeq int // -1 until discovered from the existing file
}

// OpenLog creates (if needed) the data directory and returns a Log rooted there.
func OpenLog(dataDir string) (*Log, error) {
	dir := filepath.Join(dataDir, "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	return &Log{dir: dir, domains: make(map[string]*domainState)}, nil
}

func validDomain(domain string) error {
	if domain == "" {
		return errors.New("domain is required")
	}
	if strings.ContainsAny(domain, "/\\") || domain == "." || domain == ".." {
		return fmt.Errorf("invalid domain name %q", domain)
	}
	return nil
}

func (l *Log) path(domain string) string {
	return filepath.Join(l.dir, domain+logExt)
}

func (l *Log) state(domain string) *domainState {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.domains[domain]
	if !ok {
		st = &domainState{nextSeq: -1}
		l.domains[domain] = st
	}
	return st
}

// Append assigns the next sequence index to rec and writes it to the domain's
// log as a new gzip member. The write is O(record size); the first append to
// a domain in a process scans the existing log once to discover the next
// index.
func (l *Log) Append(domain string, rec Record) (Record, error) {
	if err := validDomain(domain); err != nil {
		return Record{}, err
	}
	if err := rec.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid record: %w", err)
	}

	st := l.state(domain)
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.nextSeq < 0 {
		n, err := l.countEntries(domain)
		if err != nil {
			return Record{}, err
		}
		st.nextSeq = n
	}

	rec.SequenceIndex = st.nextSeq
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.PatternsUsed == nil {
		rec.PatternsUsed = []string{}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshalling record: %w", err)
	}

	f, err := os.OpenFile(l.path(domain), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Record{}, fmt.Errorf("opening log for %s: %w", domain, err)
	}
	defer f.Close()

	zw := gzip.NewWriter(f)
	if _, err := zw.Write(append(line, '\n')); err != nil {
		zw.Close()
		return Record{}, fmt.Errorf("writing record: %w", err)
	}
	if err := zw.Close(); err != nil {
		return Record{}, fmt.Errorf("flushing record: %w", err)
	}
	if err := f.Close(); err != nil {
		return Record{}, fmt.Errorf("closing log for %s: %w", domain, err)
	}

	st.nextSeq++
	return rec, nil
}

// Load decompresses and decodes the full domain log in append order.
// A missing file is an empty history, not an error. Malformed entries are
// skipped with a warning; an undecompressible container returns ErrCorrupt.
func (l *Log) Load(domain string) ([]Record, error) {
	if err := validDomain(domain); err != nil {
		return nil, err
	}

	f, err := os.Open(l.path(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening log for %s: %w", domain, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, domain, err)
	}
	defer zr.Close()

	var records []Record
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 64*1024), maxEntryBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			slog.Warn("skipping malformed log entry", "domain", domain, "entry", len(records), "error", err)
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, domain, err)
	}
	return records, nil
}

// LoadRange loads the domain log and keeps records with from <= timestamp < to.
// Zero times disable the corresponding bound.
func (l *Log) LoadRange(domain string, from, to time.Time) ([]Record, error) {
	records, err := l.Load(domain)
	if err != nil {
		return nil, err
	}
	filtered := records[:0:0]
	for _, r := range records {
		if !from.IsZero() && r.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && !r.Timestamp.Before(to) {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

// ListDomains returns the names of all domains with a log file, sorted.
func (l *Log) ListDomains() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading history directory: %w", err)
	}
	var domains []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), logExt) {
			continue
		}
		domains = append(domains, strings.TrimSuffix(e.Name(), logExt))
	}
	sort.Strings(domains)
	return domains, nil
}

// countEntries returns the number of lines in the domain log, treating a
// missing file as zero.
func (l *Log) countEntries(domain string) (int, error) {
	f, err := os.Open(l.path(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening log for %s: %w", domain, err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrCorrupt, domain, err)
	}
	defer zr.Close()

	n := 0
	buf := make([]byte, 64*1024)
	for {
		read, err := zr.Read(buf)
		for _, b := range buf[:read] {
			if b == '\n' {
				n++
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrCorrupt, domain, err)
		}
	}
	return n, nil
}
