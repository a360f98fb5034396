package session

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultArchiveAfter is how long a session may sit idle before it
	// is compressed out of the active directory.
	DefaultArchiveAfter = 7 * 24 * time.Hour

	// DefaultRetention is how long archived sessions are kept before
	// deletion.
	DefaultRetention = 30 * 24 * time.Hour

	archiveSubdir = "archive"
)

// Archiver moves idle sessions into a gzip archive and deletes
// archives past the retention window. Sweeps run on a cron schedule.
type Archiver struct {
	manager      *Manager
	archiveAfter time.Duration
	retention    time.Duration
	cron         *cron.Cron
}

// NewArchiver creates an Archiver. Zero durations fall back to the
// defaults.
func NewArchiver(manager *Manager, archiveAfter, retention time.Duration) *Archiver {
	if archiveAfter <= 0 {
		archiveAfter = DefaultArchiveAfter
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Archiver{
		manager:      manager,
		archiveAfter: archiveAfter,
		retention:    retention,
	}
}

// Start schedules hourly sweeps.
func (a *Archiver) Start() error {
	if a.cron != nil {
		return fmt.Errorf("archiver is already running")
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc("@every 1h", func() {
		if err := a.Sweep(); err != nil {
			log.Error().Err(err).Msg("Session archive sweep failed")
		}
	}); err != nil {
		a.cron = nil
		return fmt.Errorf("failed to schedule archive sweep: %w", err)
	}
	a.cron.Start()

	log.Info().
		Dur("archive_after", a.archiveAfter).
		Dur("retention", a.retention).
		Msg("Session archiver started")
	return nil
}

// Stop cancels scheduled sweeps.
func (a *Archiver) Stop() {
	if a.cron == nil {
		return
	}
	ctx := a.cron.Stop()
	<-ctx.Done()
	a.cron = nil
	log.Info().Msg("Session archiver stopped")
}

// Sweep archives idle sessions and prunes expired archives once.
func (a *Archiver) Sweep() error {
	if err := a.archiveIdle(); err != nil {
		return err
	}
	return a.pruneArchives()
}

func (a *Archiver) archiveDir() string {
	return filepath.Join(a.manager.Dir(), archiveSubdir)
}

func (a *Archiver) archiveIdle() error {
	sessions, err := a.manager.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	now := time.Now()
	archived := 0

	for _, sessionKey := range sessions {
		info, err := a.manager.GetSessionInfo(sessionKey)
		if err != nil {
			log.Warn().Str("session_key", sessionKey).Err(err).Msg("Failed to stat session")
			continue
		}
		if now.Sub(info.LastModified) < a.archiveAfter {
			continue
		}

		if err := a.ArchiveNow(sessionKey); err != nil {
			log.Error().Str("session_key", sessionKey).Err(err).Msg("Failed to archive session")
			continue
		}
		archived++
	}

	if archived > 0 {
		log.Info().Int("archived", archived).Msg("Archived idle sessions")
	}
	return nil
}

// ArchiveNow compresses one session into the archive directory and
// removes it from the active set.
func (a *Archiver) ArchiveNow(sessionKey string) error {
	if err := validateSessionKey(sessionKey); err != nil {
		return err
	}

	if err := os.MkdirAll(a.archiveDir(), 0700); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	src := filepath.Join(a.manager.Dir(), sessionKey+".jsonl")
	dst := filepath.Join(a.archiveDir(), sessionKey+".jsonl.gz")

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open session file: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to compress session: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close archive: %w", err)
	}

	if err := a.manager.End(nil, sessionKey); err != nil {
		return fmt.Errorf("failed to remove archived session: %w", err)
	}

	log.Info().Str("session_key", sessionKey).Str("archive", dst).Msg("Session archived")
	return nil
}

func (a *Archiver) pruneArchives() error {
	entries, err := os.ReadDir(a.archiveDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read archive directory: %w", err)
	}

	now := time.Now()
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < a.retention {
			continue
		}

		path := filepath.Join(a.archiveDir(), entry.Name())
		if err := os.Remove(path); err != nil {
			log.Error().Str("path", path).Err(err).Msg("Failed to delete expired archive")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("Deleted expired session archives")
	}
	return nil
}

// ListArchived returns the keys of archived sessions.
func (a *Archiver) ListArchived() ([]string, error) {
	entries, err := os.ReadDir(a.archiveDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl.gz") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl.gz"))
	}
	return keys, nil
}
