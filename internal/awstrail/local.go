package awstrail

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloudscope/internal/errs"
)

// LocalRequest describes a local-directory collection run.
type LocalRequest struct {
	Dir       string
	Recursive bool
}

// CollectLocal reads CloudTrail log files (.json or .gz) out of a
// local directory and hands raw records to fn in batches. Files that
// cannot be read or parsed are logged and skipped.
func (c *Collector) CollectLocal(ctx context.Context, req LocalRequest, fn func([]RawRecord) error) error {
	info, err := os.Stat(req.Dir)
	if err != nil {
		return errs.Transport("awstrail.CollectLocal", req.Dir, err)
	}
	if !info.IsDir() {
		return errs.Validation("awstrail.CollectLocal",
			fmt.Errorf("%s is not a directory", req.Dir))
	}

	slog.Info("processing local cloudtrail logs", "dir", req.Dir, "recursive", req.Recursive)

	batch := make([]RawRecord, 0, c.batchSize)
	total := 0
	files := 0

	process := func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !strings.HasSuffix(path, ".json") && !strings.HasSuffix(path, ".gz") {
			return nil
		}

		records, err := readLocalFile(path)
		if err != nil {
			slog.Error("failed to read local log file, skipping", "path", path, "error", err)
			return nil
		}
		files++

		for _, rec := range records {
			batch = append(batch, rec)
			total++
			if len(batch) >= c.batchSize {
				if err := fn(batch); err != nil {
					return err
				}
				batch = make([]RawRecord, 0, c.batchSize)
			}
		}
		return nil
	}

	if req.Recursive {
		err = filepath.WalkDir(req.Dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				slog.Warn("walk error, skipping", "path", path, "error", err)
				return nil
			}
			if d.IsDir() {
				return nil
			}
			return process(path)
		})
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(req.Dir)
		if err != nil {
			return errs.Transport("awstrail.CollectLocal", req.Dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if err = process(filepath.Join(req.Dir, entry.Name())); err != nil {
				break
			}
		}
	}
	if err != nil {
		return err
	}

	if len(batch) > 0 {
		if err := fn(batch); err != nil {
			return err
		}
	}

	slog.Info("local collection finished", "files", files, "events", total)
	return nil
}

// readLocalFile parses one local log file. Both the standard
// {"Records": [...]} document and a bare single-event document are
// accepted.
func readLocalFile(path string) ([]RawRecord, error) {
	var data []byte
	if strings.HasSuffix(path, ".gz") {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		data, err = io.ReadAll(gz)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, err
		}
	}

	records, err := splitLocalRecords(data)
	if err != nil {
		return nil, err
	}

	region := regionFromFileName(filepath.Base(path))
	raws := make([]RawRecord, 0, len(records))
	for _, rec := range records {
		raws = append(raws, RawRecord{
			Data:     rec,
			Region:   region,
			FileName: filepath.Base(path),
		})
	}
	return raws, nil
}

// splitLocalRecords handles the two local log shapes.
func splitLocalRecords(data []byte) ([]json.RawMessage, error) {
	var doc struct {
		Records      []json.RawMessage `json:"Records"`
		EventVersion string            `json:"eventVersion"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Records != nil {
		return doc.Records, nil
	}
	if doc.EventVersion != "" {
		return []json.RawMessage{json.RawMessage(data)}, nil
	}
	return nil, fmt.Errorf("%w: unrecognized log format", errs.ErrParse)
}

// regionFromFileName guesses the source region from the underscore
// separated parts of a trail log file name.
func regionFromFileName(name string) string {
	for _, part := range strings.Split(name, "_") {
		if isRegionName(part) {
			return part
		}
	}
	return ""
}
