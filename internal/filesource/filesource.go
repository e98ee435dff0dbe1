// Package filesource finds settlement files in the drop directory.
//
// The bank delivers one file per day named Y01A.CARS.#D.<account code>.D<ddmmyy>.
// A run uploads only files dated after the last transaction the ledger holds,
// oldest first.
package filesource

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/spf13/afero"

	"transaction-uploader/internal/models"
	"transaction-uploader/pkg/errors"
	"transaction-uploader/pkg/logger"
)

// DefaultMaxSize is the largest file that will be read.
const DefaultMaxSize int64 = 50 * 1000 * 1000

const filenameDateLayout = "020106"

// File is a settlement file in the drop directory.
type File struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Date time.Time `json:"date"`
	Size int64     `json:"size"`
}

// Config describes the drop directory.
type Config struct {
	Directory   string `json:"directory" mapstructure:"directory"`
	AccountCode string `json:"account_code" mapstructure:"account_code"`
	MaxSize     int64  `json:"max_size" mapstructure:"max_size"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("directory is required")
	}
	if c.AccountCode == "" {
		return fmt.Errorf("account code is required")
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("max size cannot be negative: %d", c.MaxSize)
	}
	return nil
}

// Source lists and opens settlement files.
type Source struct {
	fs      afero.Fs
	config  Config
	pattern *regexp.Regexp
	log     logger.Logger
}

// NewSource creates a source over fs.
func NewSource(fs afero.Fs, config Config) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ds_new_files_dir", config.Directory, err)
	}
	if config.MaxSize == 0 {
		config.MaxSize = DefaultMaxSize
	}
	return &Source{
		fs:      fs,
		config:  config,
		pattern: filenamePattern(config.AccountCode),
		log:     logger.GetGlobalLogger().WithComponent("file_source"),
	}, nil
}

func filenamePattern(accountCode string) *regexp.Regexp {
	return regexp.MustCompile(`^Y01A\.CARS\.#D\.` + regexp.QuoteMeta(accountCode) + `\.D([0-9]{6})`)
}

// ParseFilename returns the date embedded in a settlement file name for the
// given account code. Directories in name are ignored.
func ParseFilename(name, accountCode string) (time.Time, bool) {
	m := filenamePattern(accountCode).FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return time.Time{}, false
	}
	date, err := time.Parse(filenameDateLayout, m[1])
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}

// NewFiles lists the settlement files dated after lastDate's calendar day,
// or all of them when lastDate is nil, oldest first. Oversized files are
// logged and skipped.
func (s *Source) NewFiles(lastDate *time.Time) ([]File, error) {
	entries, err := afero.ReadDir(s.fs, s.config.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, s.config.Directory, err)
		}
		return nil, errors.FileError(errors.CodeDirectoryError, s.config.Directory, err)
	}

	var after time.Time
	if lastDate != nil {
		after = models.NewDate(lastDate.Year(), lastDate.Month(), lastDate.Day())
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := ParseFilename(entry.Name(), s.config.AccountCode)
		if !ok {
			continue
		}
		if entry.Size() > s.config.MaxSize {
			s.log.WithFields(logger.Fields{
				"file": entry.Name(),
				"size": entry.Size(),
			}).Errorf("%s is too large (%d), download skipped.", entry.Name(), entry.Size())
			continue
		}
		if lastDate != nil && !date.After(after) {
			continue
		}
		files = append(files, File{
			Name: entry.Name(),
			Path: filepath.Join(s.config.Directory, entry.Name()),
			Date: date,
			Size: entry.Size(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].Date.Equal(files[j].Date) {
			return files[i].Name < files[j].Name
		}
		return files[i].Date.Before(files[j].Date)
	})
	return files, nil
}

// Open returns the contents of f. Callers must close it.
func (s *Source) Open(f File) (io.ReadCloser, error) {
	file, err := s.fs.Open(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, f.Path, err)
		}
		return nil, errors.FileError(errors.CodeDirectoryError, f.Path, err)
	}
	return file, nil
}

// Stat describes a file outside the listing. The date is zero when the name
// does not follow the settlement file pattern.
func (s *Source) Stat(path string) (File, error) {
	info, err := s.fs.Stat(path)
	if err != nil {
		return File{}, errors.FileError(errors.CodeFileNotFound, path, err)
	}
	if info.Size() > s.config.MaxSize {
		return File{}, errors.FileError(errors.CodeFileTooLarge, path, nil).
			WithContext("size", info.Size()).
			WithContext("max_size", s.config.MaxSize)
	}

	f := File{Name: info.Name(), Path: path, Size: info.Size()}
	if date, ok := ParseFilename(path, s.config.AccountCode); ok {
		f.Date = date
	}
	return f, nil
}

// OpenPath opens a file outside the listing, for inspection.
func (s *Source) OpenPath(path string) (File, io.ReadCloser, error) {
	f, err := s.Stat(path)
	if err != nil {
		return File{}, nil, err
	}
	rc, err := s.Open(f)
	if err != nil {
		return File{}, nil, err
	}
	return f, rc, nil
}
