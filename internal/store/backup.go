package store

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

const (
	bundleBackupDir = "bundles"
	backupExt       = ".zst"
	backupTimeFmt   = "20060102T150405Z"
	digestLen       = 16
)

// ErrNoBackup is returned when no backup exists for a bundle.
var ErrNoBackup = errors.New("no backup found")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// BundleBackupDir returns where pre-patch bundle copies are kept.
func BundleBackupDir(home string) string {
	return filepath.Join(home, BackupDir, bundleBackupDir)
}

// Digest returns the short content digest used in backup names.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])[:digestLen]
}

// Backup describes one stored bundle generation.
type Backup struct {
	Path    string
	Bundle  string // base name of the original file
	Digest  string
	Created time.Time
}

// BackupBundle stores data, the pre-patch bytes of the bundle named name,
// under dir. A generation is stored once: when a backup with the same
// name and digest exists, nothing is written and the bool is false.
func BackupBundle(dir, name string, data []byte, now time.Time) (Backup, bool, error) {
	digest := Digest(data)
	existing, err := ListBackups(dir)
	if err != nil {
		return Backup{}, false, err
	}
	for _, e := range existing {
		if e.Bundle == name && e.Digest == digest {
			return e, false, nil
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return Backup{}, false, fmt.Errorf("failed to create backup dir: %w", err)
	}
	stamp := now.UTC().Format(backupTimeFmt)
	path := filepath.Join(dir, fmt.Sprintf("%s.%s.%s%s", name, digest, stamp, backupExt))
	if err := WriteFileAtomic(path, zstdEncoder.EncodeAll(data, nil), 0644); err != nil {
		return Backup{}, false, fmt.Errorf("failed to write backup %s: %w", path, err)
	}
	ts, _ := time.Parse(backupTimeFmt, stamp)
	return Backup{Path: path, Bundle: name, Digest: digest, Created: ts}, true, nil
}

// parseBackupName splits "<bundle>.<digest>.<stamp>.zst".
func parseBackupName(file string) (Backup, bool) {
	if !strings.HasSuffix(file, backupExt) || strings.HasPrefix(file, TempPrefix) {
		return Backup{}, false
	}
	rest := strings.TrimSuffix(file, backupExt)
	i := strings.LastIndexByte(rest, '.')
	if i < 0 {
		return Backup{}, false
	}
	created, err := time.Parse(backupTimeFmt, rest[i+1:])
	if err != nil {
		return Backup{}, false
	}
	rest = rest[:i]
	j := strings.LastIndexByte(rest, '.')
	if j <= 0 || len(rest)-j-1 != digestLen {
		return Backup{}, false
	}
	return Backup{Bundle: rest[:j], Digest: rest[j+1:], Created: created}, true
}

// ListBackups returns the backups in dir, newest first. A missing dir is
// not an error.
func ListBackups(dir string) ([]Backup, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup dir: %w", err)
	}
	var out []Backup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		b, ok := parseBackupName(e.Name())
		if !ok {
			continue
		}
		b.Path = filepath.Join(dir, e.Name())
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// LatestBackup returns the newest backup of the bundle named name.
func LatestBackup(dir, name string) (Backup, error) {
	all, err := ListBackups(dir)
	if err != nil {
		return Backup{}, err
	}
	for _, b := range all {
		if b.Bundle == name {
			return b, nil
		}
	}
	return Backup{}, fmt.Errorf("%w for %s", ErrNoBackup, name)
}

// ReadBackup decompresses b and verifies it against its digest.
func ReadBackup(b Backup) ([]byte, error) {
	compressed, err := os.ReadFile(b.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup: %w", err)
	}
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress %s: %w", b.Path, err)
	}
	if got := Digest(data); got != b.Digest {
		return nil, fmt.Errorf("backup %s is corrupt: digest %s, want %s", b.Path, got, b.Digest)
	}
	return data, nil
}

// Restore writes the content of b over target, keeping target's mode.
// It reports false when target already holds exactly that content.
func Restore(b Backup, target string) (bool, error) {
	data, err := ReadBackup(b)
	if err != nil {
		return false, err
	}
	if current, err := os.ReadFile(target); err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err := WriteFileAtomic(target, data, FileMode(target, 0644)); err != nil {
		return false, fmt.Errorf("failed to restore %s: %w", target, err)
	}
	return true, nil
}

// BackupFile copies path into dir as "<base>.modelstamp.<stamp>.bak". It is
// used for the host config before it is rewritten.
func BackupFile(path, dir string, now time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup dir: %w", err)
	}
	dst := filepath.Join(dir, fmt.Sprintf("%s.modelstamp.%s.bak", filepath.Base(path), now.UTC().Format(backupTimeFmt)))
	if err := WriteFileAtomic(dst, data, FileMode(path, 0600)); err != nil {
		return "", fmt.Errorf("failed to write backup %s: %w", dst, err)
	}
	return dst, nil
}
