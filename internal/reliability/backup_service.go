package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// backupPrefix namespaces backup objects in the bucket.
const backupPrefix = "signalbench-backups/"

// BackupMetadata travels inside every archive.
type BackupMetadata struct {
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	SizeBytes int64     `json:"size_bytes"`
	Checksum  string    `json:"checksum"`
}

// BackupService archives the result-cache database and ships it off-site.
type BackupService struct {
	client        *S3Client
	cachePath     string
	dataDir       string
	retentionDays int
	log           zerolog.Logger
}

// NewBackupService creates the service. cachePath points at the cache
// database file; retentionDays bounds how long uploaded backups live.
func NewBackupService(client *S3Client, dataDir, cachePath string, retentionDays int, log zerolog.Logger) *BackupService {
	return &BackupService{
		client:        client,
		cachePath:     cachePath,
		dataDir:       dataDir,
		retentionDays: retentionDays,
		log:           log.With().Str("component", "backup").Logger(),
	}
}

// Name implements scheduler.Job.
func (s *BackupService) Name() string { return "cache_backup" }

// Run implements scheduler.Job: one backup cycle with pruning.
func (s *BackupService) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := s.CreateAndUpload(ctx); err != nil {
		return err
	}
	return s.PruneOld(ctx)
}

// CreateAndUpload stages the cache database into a tar.gz with metadata and
// uploads it under a timestamped key.
func (s *BackupService) CreateAndUpload(ctx context.Context) error {
	start := time.Now()

	if _, err := os.Stat(s.cachePath); err != nil {
		return fmt.Errorf("cache database not found: %w", err)
	}

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	staged := filepath.Join(stagingDir, filepath.Base(s.cachePath))
	size, err := copyFile(s.cachePath, staged)
	if err != nil {
		return fmt.Errorf("stage cache database: %w", err)
	}

	checksum, err := fileChecksum(staged)
	if err != nil {
		return fmt.Errorf("checksum staged database: %w", err)
	}

	metadata := BackupMetadata{
		Timestamp: time.Now().UTC(),
		Source:    filepath.Base(s.cachePath),
		SizeBytes: size,
		Checksum:  checksum,
	}
	metadataPath := filepath.Join(stagingDir, "backup-metadata.json")
	if err := writeMetadata(metadataPath, metadata); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	archiveName := fmt.Sprintf("cache-backup-%s.tar.gz", time.Now().Format("2006-01-02-150405"))
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, []string{staged, metadataPath}); err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	key := backupPrefix + archiveName
	if err := s.client.Upload(ctx, key, archivePath); err != nil {
		return err
	}

	s.log.Info().
		Str("key", key).
		Int64("db_size_bytes", size).
		Dur("duration", time.Since(start)).
		Msg("Cache backup uploaded")
	return nil
}

// PruneOld deletes uploaded backups older than the retention window.
func (s *BackupService) PruneOld(ctx context.Context) error {
	if s.retentionDays <= 0 {
		return nil
	}

	objects, err := s.client.List(ctx, backupPrefix)
	if err != nil {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := s.client.Delete(ctx, obj.Key); err != nil {
			s.log.Warn().Err(err).Str("key", obj.Key).Msg("Failed to prune old backup")
			continue
		}
		s.log.Info().Str("key", obj.Key).Msg("Old backup pruned")
	}
	return nil
}

// ListBackups returns stored backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]ObjectInfo, error) {
	return s.client.List(ctx, backupPrefix)
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	return io.Copy(out, in)
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// createArchive writes the given files into a tar.gz at archivePath.
func createArchive(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gzWriter := gzip.NewWriter(out)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, file := range files {
		if strings.HasSuffix(file, ".tar.gz") {
			continue
		}
		if err := addToArchive(tarWriter, file); err != nil {
			return err
		}
	}
	return nil
}

func addToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
