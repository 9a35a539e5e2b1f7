package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Watch reloads the store whenever another process rewrites the records
// file. Writes done by this store are ignored. Unpersisted in-memory changes
// are lost on reload. Watch blocks until ctx is done.
func (s *FileRecordStore) Watch(ctx context.Context, onReload func(LoadReport)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "could not create file watcher")
	}
	defer func() {
		_ = watcher.Close()
	}()

	// the file is replaced through a rename, so the directory is watched
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "could not watch %s", dir)
	}
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Str("path", s.path).Msg("Records file watcher error")
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			report, reloaded, err := s.reloadIfChanged()
			if err != nil {
				log.Warn().Err(err).Str("path", s.path).Msg("Could not reload records file")
				continue
			}
			if reloaded {
				log.Info().Str("path", s.path).Int("loaded", report.Loaded).Msg("Reloaded records file")
				if onReload != nil {
					onReload(report)
				}
			}
		}
	}
}

func (s *FileRecordStore) reloadIfChanged() (LoadReport, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fi, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadReport{}, false, nil
		}
		return LoadReport{}, false, err
	}
	if !s.lastWrite.IsZero() && fi.ModTime().Equal(s.lastWrite) {
		return LoadReport{}, false, nil
	}
	report, err := s.loadFromDiskLocked()
	if err != nil {
		return report, false, err
	}
	s.lastWrite = fi.ModTime()
	return report, true, nil
}
