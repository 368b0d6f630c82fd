package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
)

const UploadStatusSuccess = "success"

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// UploadResult describes a processed upload.
type UploadResult struct {
	FileID    string   `json:"file_id"`
	Filename  string   `json:"filename"`
	Columns   []string `json:"columns"`
	TableName string   `json:"table_name"`
	AllTables []string `json:"all_tables"`
	FileSize  int64    `json:"file_size"`
	DBPath    string   `json:"db_path"`
	Status    string   `json:"status"`
}

// UploadConfig configures upload processing.
type UploadConfig struct {
	Dir               string
	MaxBytes          int64
	AllowedExtensions []string
	// Opener opens the stored file for inspection. Defaults to duckdb.OpenReadOnly.
	Opener duckdb.Opener
	Now    func() time.Time
}

// UploadService stores uploaded DuckDB files, inspects them and registers
// them for later questions.
type UploadService interface {
	// Process stores body under the upload directory and registers it.
	// It fails with ErrUnsupportedFile, ErrFileTooLarge, ErrInvalidInput
	// (not a readable DuckDB file) or ErrNoTables.
	Process(ctx context.Context, filename string, body io.Reader) (*UploadResult, error)

	// MaxBytes returns the upload size limit.
	MaxBytes() int64
}

type uploadService struct {
	cfg      UploadConfig
	registry *files.Registry
	logger   *zap.Logger
}

var _ UploadService = (*uploadService)(nil)

// NewUploadService creates an upload processor.
func NewUploadService(cfg UploadConfig, registry *files.Registry, logger *zap.Logger) UploadService {
	if cfg.Opener == nil {
		cfg.Opener = duckdb.OpenReadOnly
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &uploadService{
		cfg:      cfg,
		registry: registry,
		logger:   logger.Named("upload"),
	}
}

func (s *uploadService) MaxBytes() int64 {
	return s.cfg.MaxBytes
}

func (s *uploadService) Process(ctx context.Context, filename string, body io.Reader) (*UploadResult, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return nil, fmt.Errorf("filename is required: %w", apperrors.ErrInvalidInput)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !slices.Contains(s.cfg.AllowedExtensions, ext) {
		return nil, fmt.Errorf("extension %q not allowed (allowed: %s): %w",
			ext, strings.Join(s.cfg.AllowedExtensions, ", "), apperrors.ErrUnsupportedFile)
	}

	path, size, err := s.store(name, body)
	if err != nil {
		return nil, err
	}

	tables, primary, columns, err := s.inspect(ctx, path)
	if err != nil {
		s.discard(path)
		return nil, err
	}

	id, err := s.registry.Register(name, path, files.Metadata{
		Columns:   columns,
		TableName: primary,
		AllTables: tables,
		FileSize:  size,
	})
	if err != nil {
		s.discard(path)
		return nil, fmt.Errorf("failed to register file: %w", err)
	}

	s.logger.Info("Processed upload",
		zap.String("file_id", id),
		zap.Int("tables", len(tables)),
		zap.Int64("bytes", size),
	)

	return &UploadResult{
		FileID:    id,
		Filename:  name,
		Columns:   columns,
		TableName: primary,
		AllTables: tables,
		FileSize:  size,
		DBPath:    path,
		Status:    UploadStatusSuccess,
	}, nil
}

// store copies body to "<dir>/<unix>_<random>_<sanitized name>", enforcing
// MaxBytes.
func (s *uploadService) store(name string, body io.Reader) (string, int64, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o750); err != nil {
		return "", 0, fmt.Errorf("failed to create upload directory: %w", err)
	}

	safe := unsafeFilenameChars.ReplaceAllString(name, "_")
	f, err := os.CreateTemp(s.cfg.Dir, fmt.Sprintf("%d_*_%s", s.cfg.Now().Unix(), safe))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create upload file: %w", err)
	}
	path := f.Name()

	n, err := io.Copy(f, io.LimitReader(body, s.cfg.MaxBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		s.discard(path)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", 0, fmt.Errorf("upload exceeds %d bytes: %w", s.cfg.MaxBytes, apperrors.ErrFileTooLarge)
		}
		return "", 0, fmt.Errorf("failed to store upload: %w", err)
	}
	if n > s.cfg.MaxBytes {
		s.discard(path)
		return "", 0, fmt.Errorf("upload exceeds %d bytes: %w", s.cfg.MaxBytes, apperrors.ErrFileTooLarge)
	}
	return path, n, nil
}

// inspect opens the file read-only and returns its tables, the table with
// the most rows and that table's columns in declaration order.
func (s *uploadService) inspect(ctx context.Context, path string) (tables []string, primary string, columns []string, err error) {
	db, err := s.cfg.Opener(ctx, path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("not a valid DuckDB file: %v: %w", err, apperrors.ErrInvalidInput)
	}
	defer db.Close()

	tables, err = duckdb.ListTables(ctx, db)
	if err != nil {
		return nil, "", nil, fmt.Errorf("not a valid DuckDB file: %v: %w", err, apperrors.ErrInvalidInput)
	}
	if len(tables) == 0 {
		return nil, "", nil, apperrors.ErrNoTables
	}

	var largest int64 = -1
	for _, table := range tables {
		count, err := duckdb.CountRows(ctx, db, table)
		if err != nil {
			s.logger.Warn("Could not count rows", zap.String("table", table), zap.Error(err))
			count = 0
		}
		if count > largest {
			largest = count
			primary = table
		}
	}

	cols, err := duckdb.DescribeTable(ctx, db, primary)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to read columns of %s: %w", primary, err)
	}
	columns = make([]string, 0, len(cols))
	for _, c := range cols {
		columns = append(columns, c.Name)
	}
	return tables, primary, columns, nil
}

func (s *uploadService) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("Failed to remove upload", zap.String("path", logging.SanitizePath(path)), zap.Error(err))
	}
}
