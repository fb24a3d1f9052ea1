// Package cleanup prunes upload files that no longer have a database record.
// Orphans appear when an image record is deleted but removing its file failed,
// or when the process died between storing a file and creating the record.
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	"cropsight/config"
	"cropsight/internal/db/repository"

	log "github.com/sirupsen/logrus"
)

// Service periodically removes orphaned files from the upload directory
type Service struct {
	images    repository.ImageRepository
	uploadDir string
	interval  time.Duration
	stopChan  chan struct{}
}

// NewService creates a new cleanup service. Returns nil when cleanup is
// disabled or misconfigured; all methods are safe to call on a nil service.
func NewService(images repository.ImageRepository, cfg *config.Config) *Service {
	if !cfg.Cleanup.Enabled {
		log.Info("Upload cleanup disabled in configuration")
		return nil
	}
	if images == nil {
		log.Error("Cannot initialize cleanup service: image repository is nil")
		return nil
	}

	interval := time.Duration(cfg.Cleanup.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	log.Infof("Initializing cleanup service: UploadDir='%s', Interval=%s", cfg.Server.UploadDir, interval)
	return &Service{
		images:    images,
		uploadDir: cfg.Server.UploadDir,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start launches the background cleanup routine
func (s *Service) Start() {
	if s == nil {
		return
	}
	log.Info("Starting background cleanup routine...")

	go func() {
		// One pass immediately on startup, then on the ticker
		s.RunOnce()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunOnce()
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine")
				return
			}
		}
	}()
}

// Stop signals the background routine to stop
func (s *Service) Stop() {
	if s == nil {
		return
	}
	select {
	case <-s.stopChan:
	default:
		close(s.stopChan)
	}
}

// RunOnce performs a single cleanup pass over the upload directory
func (s *Service) RunOnce() {
	if s == nil {
		return
	}

	paths, err := s.images.ListFilePaths()
	if err != nil {
		log.Errorf("Cleanup: failed to list image file paths: %v", err)
		return
	}

	known := make(map[string]bool, len(paths))
	for _, p := range paths {
		known[filepath.Base(p)] = true
	}

	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Errorf("Cleanup: failed to read upload directory: %v", err)
		return
	}

	removed := 0
	failed := 0
	for _, entry := range entries {
		if entry.IsDir() || known[entry.Name()] {
			continue
		}
		// Leave very recent files alone; their record may still be in flight
		info, err := entry.Info()
		if err == nil && time.Since(info.ModTime()) < time.Hour {
			continue
		}

		fullPath := filepath.Join(s.uploadDir, entry.Name())
		if err := os.Remove(fullPath); err != nil {
			log.Errorf("Cleanup: failed to remove orphaned file %s: %v", fullPath, err)
			failed++
		} else {
			removed++
		}
	}

	if removed > 0 || failed > 0 {
		log.Infof("Cleanup pass finished. Removed: %d, Failed: %d", removed, failed)
	} else {
		log.Debug("Cleanup pass finished. No orphaned files found")
	}
}
