// Package files implements file compression, organization, and format
// conversion tasks.
package files

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

// CommandRunner executes an external command. Injected so tests run without
// ffmpeg installed.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// Domain handles files_* task types. Compression and organization are done
// natively; conversion shells out to ffmpeg.
type Domain struct {
	run  CommandRunner
	home string
}

// New returns the files domain with the real command runner.
func New() *Domain {
	home, _ := os.UserHomeDir()
	return &Domain{run: runCommand, home: home}
}

// NewWithRunner injects a command runner and home directory; used by tests.
func NewWithRunner(run CommandRunner, home string) *Domain {
	return &Domain{run: run, home: home}
}

func (d *Domain) ID() string          { return "files_media" }
func (d *Domain) Name() string        { return "Files & Media" }
func (d *Domain) Description() string { return "Compress, convert, and organize files" }

func (d *Domain) TaskTypes() []string {
	return []string{"files_compress", "files_convert", "files_organize"}
}

func (d *Domain) DisplayConfigs() map[string]domain.DisplayConfig {
	return map[string]domain.DisplayConfig{
		"files_compress": {
			CardType: "files", TitleTemplate: "Files Compressed",
			Icon: "archive", Color: "#795548",
		},
		"files_convert": {
			CardType: "files", TitleTemplate: "Files Converted",
			Icon: "transform", Color: "#795548",
		},
		"files_organize": {
			CardType: "files", TitleTemplate: "Files Organized",
			Icon: "folder_open", Color: "#795548",
		},
	}
}

func (d *Domain) Execute(ctx context.Context, taskType string, data map[string]any) domain.Result {
	switch taskType {
	case "files_compress":
		return d.compress(data)
	case "files_convert":
		return d.convert(ctx, data)
	case "files_organize":
		return d.organize(data)
	}
	return domain.Failf("Unknown task: %s", taskType)
}

// resolveDir maps friendly names (downloads, desktop, ...) to real paths and
// expands a leading ~.
func (d *Domain) resolveDir(name string) string {
	switch strings.ToLower(name) {
	case "downloads":
		return filepath.Join(d.home, "Downloads")
	case "desktop":
		return filepath.Join(d.home, "Desktop")
	case "documents":
		return filepath.Join(d.home, "Documents")
	case "pictures":
		return filepath.Join(d.home, "Pictures")
	case "movies":
		return filepath.Join(d.home, "Movies")
	case "music":
		return filepath.Join(d.home, "Music")
	}
	if strings.HasPrefix(name, "~") {
		return filepath.Join(d.home, strings.TrimPrefix(name, "~"))
	}
	return name
}

func (d *Domain) compress(data map[string]any) domain.Result {
	path := d.resolveDir(stringField(data, "path", "downloads"))
	archiveName := stringField(data, "name", "archive.zip")
	archivePath := filepath.Join(path, archiveName)

	if err := zipDirectory(path, archivePath); err != nil {
		return filesError(err)
	}
	return domain.Ok(map[string]any{
		"archive": archivePath, "domain": "files_media", "card_type": "files",
	})
}

// zipDirectory archives the directory tree rooted at dir, skipping hidden
// entries and the archive file itself.
func zipDirectory(dir, archivePath string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	err = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || name == "__MACOSX" {
			if entry.IsDir() && path != dir {
				return fs.SkipDir
			}
			if !entry.IsDir() {
				return nil
			}
		}
		if entry.IsDir() || path == archivePath {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return err
	}
	return zw.Close()
}

func (d *Domain) convert(ctx context.Context, data map[string]any) domain.Result {
	// Single-file mode: transcode one input with ffmpeg.
	if input := stringField(data, "input", ""); input != "" {
		return d.convertFile(ctx, input, data)
	}

	// Batch mode: convert every *.<from> in a directory.
	path := d.resolveDir(stringField(data, "path", "."))
	fromFmt := stringField(data, "from_format", stringField(data, "from", ""))
	toFmt := stringField(data, "to_format", stringField(data, "to", ""))
	if fromFmt == "" || toFmt == "" {
		return domain.Result{"success": false, "error": "Missing from/to format", "domain": "files_media"}
	}

	matches, err := filepath.Glob(filepath.Join(path, "*."+fromFmt))
	if err != nil {
		return filesError(err)
	}
	converted := 0
	for _, src := range matches {
		dst := strings.TrimSuffix(src, "."+fromFmt) + "." + toFmt
		if err := d.run(ctx, "ffmpeg", "-y", "-i", src, dst); err != nil {
			return filesError(err)
		}
		converted++
	}
	return domain.Ok(map[string]any{
		"from": fromFmt, "to": toFmt, "path": path, "converted": converted,
		"domain": "files_media", "card_type": "files",
	})
}

func (d *Domain) convertFile(ctx context.Context, input string, data map[string]any) domain.Result {
	input = d.resolveDir(input)
	format := stringField(data, "format", "mp4")
	preset := stringField(data, "preset", "")

	output := strings.TrimSuffix(input, filepath.Ext(input))
	if preset != "" {
		output += "_" + preset
	}
	output += "." + format

	args := []string{"-y", "-i", input}
	args = append(args, presetArgs(preset)...)
	args = append(args, output)
	if err := d.run(ctx, "ffmpeg", args...); err != nil {
		return filesError(err)
	}
	return domain.Ok(map[string]any{
		"input": input, "output_path": output, "format": format, "preset": preset,
		"domain": "files_media", "card_type": "files",
	})
}

// presetArgs maps an export platform to encoder settings. Unknown presets
// fall back to plain transcoding.
func presetArgs(preset string) []string {
	switch strings.ToLower(preset) {
	case "youtube":
		return []string{"-c:v", "libx264", "-preset", "slow", "-crf", "18", "-c:a", "aac", "-b:a", "192k"}
	case "tiktok", "shorts", "reels":
		return []string{"-vf", "scale=1080:1920:force_original_aspect_ratio=decrease,pad=1080:1920:(ow-iw)/2:(oh-ih)/2",
			"-c:v", "libx264", "-crf", "21", "-c:a", "aac"}
	case "web":
		return []string{"-c:v", "libx264", "-crf", "23", "-movflags", "+faststart", "-c:a", "aac"}
	}
	return nil
}

// categoryFor buckets a file extension into an organize target directory.
func categoryFor(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg", "png", "gif", "bmp", "svg", "webp", "heic":
		return "Images"
	case "pdf", "doc", "docx", "txt", "rtf", "xls", "xlsx", "csv", "ppt", "pptx":
		return "Documents"
	case "mp4", "mov", "avi", "mkv", "wmv", "flv", "webm":
		return "Videos"
	case "mp3", "wav", "flac", "aac", "ogg", "m4a", "wma":
		return "Music"
	case "zip", "tar", "gz", "rar", "7z", "bz2", "xz":
		return "Archives"
	}
	return "Others"
}

var organizeDirs = []string{"Images", "Documents", "Videos", "Music", "Archives", "Others"}

func (d *Domain) organize(data map[string]any) domain.Result {
	path := d.resolveDir(stringField(data, "path", "downloads"))

	entries, err := os.ReadDir(path)
	if err != nil {
		return filesError(err)
	}
	for _, dir := range organizeDirs {
		if err := os.MkdirAll(filepath.Join(path, dir), 0o755); err != nil {
			return filesError(err)
		}
	}
	moved := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		target := categoryFor(filepath.Ext(entry.Name()))
		if err := os.Rename(
			filepath.Join(path, entry.Name()),
			filepath.Join(path, target, entry.Name()),
		); err != nil {
			return filesError(err)
		}
		moved++
	}
	// Drop category directories that ended up empty.
	for _, dir := range organizeDirs {
		os.Remove(filepath.Join(path, dir))
	}
	return domain.Ok(map[string]any{
		"path": path, "moved": moved, "domain": "files_media", "card_type": "files",
	})
}

func filesError(err error) domain.Result {
	return domain.Result{"success": false, "error": err.Error(), "domain": "files_media"}
}

func stringField(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func runCommand(ctx context.Context, name string, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, lastLine(string(out)))
	}
	return nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
