package tune

import (
	"go.uber.org/zap"

	"github.com/tosih/xdftune/pkg/binimage"
	"github.com/tosih/xdftune/pkg/checksum"
	"github.com/tosih/xdftune/pkg/journal"
)

// Save writes the image to path. Declared checksums are recomputed on a
// copy first when UpdateChecksums is set. The session adopts the copy only
// once the file is in place, so a failed save changes nothing.
func (s *Session) Save(path string) ([]checksum.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := binimage.New(s.img.Clone())
	var before, results []checksum.Result
	if s.opts.UpdateChecksums && len(s.def.Checksums) > 0 {
		var err error
		if before, err = checksum.VerifyAll(work, s.def.Checksums, s.layout.FileOffset); err != nil {
			return nil, err
		}
		if results, err = checksum.ApplyAll(work, s.def.Checksums, s.layout.FileOffset); err != nil {
			return results, err
		}
	}

	if s.opts.Backup {
		backup, err := binimage.Backup(path, s.opts.BackupDir)
		if err != nil {
			return results, &IOError{Op: "backup", Path: path, Err: err}
		}
		if backup != "" {
			s.log.Info("backup created", zap.String("path", backup))
		}
	}

	if err := binimage.WriteFile(path, work.Clone(), 0o644); err != nil {
		return results, &IOError{Op: "save", Path: path, Err: err}
	}

	s.dirty = false
	s.log.Info("image saved",
		zap.String("path", path),
		zap.Int("bytes", work.Len()),
		zap.Int("checksums", len(results)),
	)

	var jerr error
	for i, r := range results {
		if before[i].OK() {
			continue
		}
		size := s.def.Checksums[i].Store.ElementBits / 8
		old, _ := s.img.CopyRange(r.Offset, size)
		cur, _ := work.CopyRange(r.Offset, size)
		if err := s.record(checksumEntry(r, old, cur)); err != nil && jerr == nil {
			jerr = err
		}
	}
	s.img = work
	if err := s.record(journal.Entry{Kind: journal.KindSave, Path: path}); err != nil && jerr == nil {
		jerr = err
	}
	return results, jerr
}

// VerifyChecksums recomputes every declared checksum without changing the
// image.
func (s *Session) VerifyChecksums() ([]checksum.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return checksum.VerifyAll(s.img, s.def.Checksums, s.layout.FileOffset)
}

// ApplyChecksums stores every declared checksum in the live image. Each
// checksum that changes bytes is journaled.
func (s *Session) ApplyChecksums() ([]checksum.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before, err := checksum.VerifyAll(s.img, s.def.Checksums, s.layout.FileOffset)
	if err != nil {
		return before, err
	}
	old := make([][]byte, len(before))
	for i, r := range before {
		old[i], _ = s.img.CopyRange(r.Offset, s.def.Checksums[i].Store.ElementBits/8)
	}
	results, err := checksum.ApplyAll(s.img, s.def.Checksums, s.layout.FileOffset)
	if err != nil {
		return results, err
	}

	var jerr error
	for i, r := range results {
		if before[i].OK() {
			continue
		}
		s.dirty = true
		s.log.Debug("checksum updated", zap.String("checksum", r.ID), zap.Uint64("value", r.Computed))
		cur, _ := s.img.CopyRange(r.Offset, len(old[i]))
		if err := s.record(checksumEntry(r, old[i], cur)); err != nil && jerr == nil {
			jerr = err
		}
	}
	return results, jerr
}

func checksumEntry(r checksum.Result, before, after []byte) journal.Entry {
	return journal.Entry{
		Kind:   journal.KindChecksum,
		ItemID: r.ID,
		Title:  r.Title,
		Offset: r.Offset,
		Before: before,
		After:  after,
		Value:  float64(r.Computed),
	}
}
