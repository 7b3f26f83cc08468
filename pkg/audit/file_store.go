package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const currentFileName = "audit.log"

// FileStore appends records as JSON lines with size based rotation
type FileStore struct {
	basePath string
	file     *os.File
	mu       sync.Mutex
	encoder  *json.Encoder
	rotate   bool
	maxSize  int64 // Max file size in bytes before rotation
	maxFiles int   // Rotated files kept when prune is set
	prune    bool
	nextID   int64
	now      func() time.Time
}

// FileStoreConfig configures the file store
type FileStoreConfig struct {
	BasePath string // Base directory for audit files
	Rotate   bool   // Enable rotation
	MaxSize  int64  // Max file size in bytes (default: 100MB)
	MaxFiles int    // Rotated files kept when Prune is set (default: 10)
	// Prune deletes the oldest rotated files beyond MaxFiles. Pruned records
	// are gone from ReadAllRecords, so it is off unless retention is handled
	// elsewhere, e.g. by the archiver.
	Prune bool
}

// DefaultFileStoreConfig returns default configuration
func DefaultFileStoreConfig() FileStoreConfig {
	return FileStoreConfig{
		BasePath: "/var/log/audittrail",
		Rotate:   true,
		MaxSize:  100 * 1024 * 1024, // 100MB
		MaxFiles: 10,
	}
}

// NewFileStore creates a file store, continuing IDs from an existing file
func NewFileStore(config FileStoreConfig) (*FileStore, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	s := &FileStore{
		basePath: config.BasePath,
		rotate:   config.Rotate,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
		prune:    config.Prune,
		now:      time.Now,
	}

	if s.maxSize == 0 {
		s.maxSize = 100 * 1024 * 1024
	}
	if s.maxFiles == 0 {
		s.maxFiles = 10
	}

	files, err := s.recordFiles()
	if err != nil {
		return nil, err
	}
	for _, filename := range files {
		lastID, err := lastRecordID(filename)
		if err != nil {
			return nil, err
		}
		if lastID > s.nextID {
			s.nextID = lastID
		}
	}

	if err := s.openFile(); err != nil {
		return nil, err
	}

	return s, nil
}

func lastRecordID(filename string) (int64, error) {
	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer f.Close()

	var last int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var r struct {
			ID int64 `json:"id"`
		}
		if json.Unmarshal(scanner.Bytes(), &r) == nil && r.ID > last {
			last = r.ID
		}
	}
	return last, scanner.Err()
}

// openFile opens or creates the current file, rotating it first when full
func (s *FileStore) openFile() error {
	filename := filepath.Join(s.basePath, currentFileName)

	if s.rotate {
		if info, err := os.Stat(filename); err == nil && info.Size() >= s.maxSize {
			if err := s.rotateFile(); err != nil {
				return fmt.Errorf("failed to rotate audit file: %w", err)
			}
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}

	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

func (s *FileStore) rotateFile() error {
	currentFile := filepath.Join(s.basePath, currentFileName)

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	timestamp := s.now().UTC().Format("2006-01-02-15-04-05.000000000")
	rotatedFile := filepath.Join(s.basePath, fmt.Sprintf("audit-%s.log", timestamp))
	// never rename over an earlier rotation with the same timestamp
	for n := 1; fileExists(rotatedFile); n++ {
		rotatedFile = filepath.Join(s.basePath, fmt.Sprintf("audit-%s.%d.log", timestamp, n))
	}
	if err := os.Rename(currentFile, rotatedFile); err != nil {
		return fmt.Errorf("failed to rename audit file: %w", err)
	}

	if !s.prune {
		return nil
	}
	return s.cleanupOldFiles()
}

func fileExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// rotatedFiles lists rotated files oldest first. Rotated names embed a
// sortable timestamp.
func (s *FileStore) rotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.basePath, "audit-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// recordFiles lists every file holding records, the current file last
func (s *FileStore) recordFiles() ([]string, error) {
	files, err := s.rotatedFiles()
	if err != nil {
		return nil, err
	}
	current := filepath.Join(s.basePath, currentFileName)
	if fileExists(current) {
		files = append(files, current)
	}
	return files, nil
}

// cleanupOldFiles removes the oldest rotated files beyond maxFiles
func (s *FileStore) cleanupOldFiles() error {
	files, err := s.rotatedFiles()
	if err != nil {
		return err
	}
	if len(files) <= s.maxFiles {
		return nil
	}

	for _, file := range files[:len(files)-s.maxFiles] {
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove old audit file %s: %w", file, err)
		}
	}
	return nil
}

// Save appends the record and assigns its ID
func (s *FileStore) Save(ctx context.Context, entity RecordEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("audit file store is closed")
	}

	if s.rotate {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
			if err := s.openFile(); err != nil {
				return err
			}
		}
	}

	record := entity.AuditRecord()
	record.ID = s.nextID + 1
	if err := s.encoder.Encode(record); err != nil {
		record.ID = 0
		return fmt.Errorf("failed to write audit record: %w", err)
	}
	s.nextID = record.ID

	return s.file.Sync()
}

// Close closes the current file
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// ReadAllRecords reads the records of every rotated file and the current
// file, ordered by ID
func (s *FileStore) ReadAllRecords() ([]*Record, error) {
	files, err := s.recordFiles()
	if err != nil {
		return nil, err
	}

	var records []*Record
	for _, filename := range files {
		batch, err := readRecordFile(filename, 0)
		if err != nil {
			return nil, err
		}
		records = append(records, batch...)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// ReadRecords reads up to count records from the current file; count <= 0 reads all
func (s *FileStore) ReadRecords(count int) ([]*Record, error) {
	return readRecordFile(filepath.Join(s.basePath, currentFileName), count)
}

func readRecordFile(filename string, count int) ([]*Record, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}
	defer file.Close()

	var records []*Record
	decoder := json.NewDecoder(file)
	decoder.UseNumber()

	for {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode audit record: %w", err)
		}
		records = append(records, &record)

		if count > 0 && len(records) >= count {
			break
		}
	}

	return records, nil
}
