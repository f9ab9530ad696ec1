package infrastructure

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/yourusername/offline-downloads-go/internal/domain"
	"go.uber.org/zap"
)

// SizeAccountant sums the bytes consumed by downloads on disk
type SizeAccountant struct {
	fs            afero.Fs
	rootDir       string
	managedSubdir string
	platform      domain.Platform
	logger        *zap.Logger
}

// NewSizeAccountant creates a new size accountant
func NewSizeAccountant(fs afero.Fs, config *domain.DownloadsConfig, logger *zap.Logger) *SizeAccountant {
	return &SizeAccountant{
		fs:            fs,
		rootDir:       config.RootDir,
		managedSubdir: config.ManagedSubdir,
		platform:      config.Platform,
		logger:        logger,
	}
}

// Root returns the directory that is walked
func (s *SizeAccountant) Root() string {
	if s.platform == domain.PlatformIOS && s.managedSubdir != "" {
		managed := filepath.Join(s.rootDir, s.managedSubdir)
		if ok, err := afero.DirExists(s.fs, managed); err == nil && ok {
			return managed
		}
	}
	return s.rootDir
}

// CalculateTotalDownloadsSize walks the root directory. Any failure yields 0.
func (s *SizeAccountant) CalculateTotalDownloadsSize(ctx context.Context) int64 {
	root := s.Root()
	var total int64

	err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("Failed to calculate downloads size",
			zap.String("root", root),
			zap.Error(err))
		return 0
	}

	s.logger.Debug("Calculated downloads size",
		zap.String("root", root),
		zap.Int64("bytes", total),
		zap.String("size", humanize.IBytes(uint64(total))))
	return total
}
