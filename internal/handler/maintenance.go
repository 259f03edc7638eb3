package handler

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// LogAnalysis counts lines of params.log_file matching each of params.patterns.
// Outputs: total_lines and <pattern>_count for every pattern.
func (b *Builtins) LogAnalysis(ctx context.Context, req *Request) (*Result, error) {
	path, err := requireString(req.Params, "log_file")
	if err != nil {
		return nil, err
	}
	patterns, err := stringSliceParam(req.Params, "patterns")
	if err != nil {
		return nil, err
	}
	if err := b.checkPath(ctx, path); err != nil {
		return nil, err
	}

	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		compiled[i] = re
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	counts := make([]int, len(patterns))
	total := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if total%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		total++
		line := scanner.Text()
		for i, re := range compiled {
			if re.MatchString(line) {
				counts[i]++
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}

	out := NewResult().Set("total_lines", total)
	for i, p := range patterns {
		out.Set(p+"_count", counts[i])
	}
	return out, nil
}

// Backup writes params.sources into a timestamped tar.gz archive under
// params.destination. Output: backup_file.
func (b *Builtins) Backup(ctx context.Context, req *Request) (*Result, error) {
	sources, err := stringSliceParam(req.Params, "sources")
	if err != nil {
		return nil, err
	}
	destDir, err := requireString(req.Params, "destination")
	if err != nil {
		return nil, err
	}
	for _, p := range append([]string{destDir}, sources...) {
		if err := b.checkPath(ctx, p); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	name := fmt.Sprintf("backup_%s.tar.gz", time.Now().Format("20060102_150405"))
	archivePath := filepath.Join(destDir, name)

	if err := writeArchive(ctx, archivePath, sources); err != nil {
		os.Remove(archivePath)
		return nil, err
	}

	req.Logf("INFO", "backup written to %s", archivePath)
	return NewResult().Set("backup_file", archivePath), nil
}

func writeArchive(ctx context.Context, archivePath string, sources []string) (err error) {
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	for _, src := range sources {
		base := filepath.Dir(filepath.Clean(src))
		walkErr := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return addToArchive(tw, base, path, d)
		})
		if walkErr != nil {
			return fmt.Errorf("archive %s: %w", src, walkErr)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

func addToArchive(tw *tar.Writer, base, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() && !info.IsDir() {
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return err
	}
	hdr.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Notification writes params.message to the task log at params.level.
func (b *Builtins) Notification(ctx context.Context, req *Request) (*Result, error) {
	message, err := requireString(req.Params, "message")
	if err != nil {
		return nil, err
	}
	level := strings.ToUpper(stringParam(req.Params, "level", "INFO"))

	req.Logf(level, "%s", message)
	b.logger.InfoContext(ctx, "workflow notification",
		"workflow_id", req.WorkflowID,
		"task_id", req.TaskID,
		"level", level,
		"message", message,
	)
	return NewResult().Set("notified", true), nil
}
