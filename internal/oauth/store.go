package oauth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// fileNamePattern matches "{providerType}-oauth-{sequence}-{alias}.json"
// (spec.md §4.4).
var fileNamePattern = regexp.MustCompile(`^(.+)-oauth-(\d+)-(.+)\.json$`)

// Store persists TokenRecords to a directory using the naming scheme
// "{providerType}-oauth-{sequence}-{alias}.json", writing atomically via a
// temp-file-then-rename so a crash mid-write never leaves a truncated
// record (stdlib os.Rename is atomic on the same filesystem; justified as
// stdlib in DESIGN.md since no pack library wraps this idiom).
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir. The directory is not created
// here; Load/Save surface a clear error if it is missing.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func fileName(providerType string, sequence int, alias string) string {
	return fmt.Sprintf("%s-oauth-%d-%s.json", providerType, sequence, alias)
}

// Load reads the record for ref, resolving the highest sequence number on
// disk for that (providerType, alias) pair. It returns os.ErrNotExist
// (wrapped) when no matching file exists.
func (s *Store) Load(ref Ref) (*TokenRecord, error) {
	path, err := s.resolvePath(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("oauth: decode token record %s: %w", path, err)
	}
	return &rec, nil
}

// Save writes rec atomically. If rec.Sequence is zero it is assigned the
// lowest sequence number not yet used on disk for (ProviderType, Alias),
// so a new file is written alongside any existing ones.
func (s *Store) Save(rec *TokenRecord) error {
	if rec.Sequence == 0 {
		seq, err := s.nextSequence(rec.ProviderType, rec.Alias)
		if err != nil {
			return err
		}
		rec.Sequence = seq
	}
	path := filepath.Join(s.dir, fileName(rec.ProviderType, rec.Sequence, rec.Alias))
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("oauth: encode token record: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("oauth: create temp token file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("oauth: write temp token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("oauth: close temp token file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("oauth: rename token file into place: %w", err)
	}
	return nil
}

// resolvePath finds the on-disk file matching ref, preferring the highest
// sequence number if more than one somehow exists.
func (s *Store) resolvePath(ref Ref) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", err
	}
	best := -1
	bestName := ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != ref.ProviderType || m[3] != ref.Alias {
			continue
		}
		seq, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if seq > best {
			best = seq
			bestName = e.Name()
		}
	}
	if best < 0 {
		return "", fmt.Errorf("oauth: %w: no token file for %s/%s", os.ErrNotExist, ref.ProviderType, ref.Alias)
	}
	return filepath.Join(s.dir, bestName), nil
}

func (s *Store) nextSequence(providerType, alias string) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	used := map[int]bool{}
	for _, e := range entries {
		m := fileNamePattern.FindStringSubmatch(e.Name())
		if m == nil || m[1] != providerType || m[3] != alias {
			continue
		}
		if seq, err := strconv.Atoi(m[2]); err == nil {
			used[seq] = true
		}
	}
	keys := make([]int, 0, len(used))
	for k := range used {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	next := 1
	for _, k := range keys {
		if k == next {
			next++
		}
	}
	return next, nil
}
