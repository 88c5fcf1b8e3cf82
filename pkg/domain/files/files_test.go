package files

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records invocations and creates the output file so follow-up
// assertions can see it.
type fakeRunner struct {
	calls [][]string
	err   error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) error {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.err != nil {
		return f.err
	}
	if len(args) > 0 {
		os.WriteFile(args[len(args)-1], []byte("out"), 0o644)
	}
	return nil
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
}

func TestCompress(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "a.txt", "b.txt", ".hidden")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	writeFiles(t, filepath.Join(dir, "sub"), "c.txt")

	d := NewWithRunner((&fakeRunner{}).run, dir)
	res := d.Execute(context.Background(), "files_compress", map[string]any{
		"path": dir, "name": "bundle.zip",
	})
	require.Equal(t, true, res["success"], "result: %v", res)

	archive := res["archive"].(string)
	zr, err := zip.OpenReader(archive)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt", "sub/c.txt"}, names,
		"hidden files stay out of the archive")
}

func TestOrganize(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "photo.JPG", "report.pdf", "clip.mp4", "song.mp3", "data.bin")

	d := NewWithRunner((&fakeRunner{}).run, dir)
	res := d.Execute(context.Background(), "files_organize", map[string]any{"path": dir})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Equal(t, 5, res["moved"])

	assert.FileExists(t, filepath.Join(dir, "Images", "photo.JPG"))
	assert.FileExists(t, filepath.Join(dir, "Documents", "report.pdf"))
	assert.FileExists(t, filepath.Join(dir, "Videos", "clip.mp4"))
	assert.FileExists(t, filepath.Join(dir, "Music", "song.mp3"))
	assert.FileExists(t, filepath.Join(dir, "Others", "data.bin"))
	// Empty category directories are removed again.
	assert.NoDirExists(t, filepath.Join(dir, "Archives"))
}

func TestConvertBatch(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "one.png", "two.png", "keep.gif")

	runner := &fakeRunner{}
	d := NewWithRunner(runner.run, dir)
	res := d.Execute(context.Background(), "files_convert", map[string]any{
		"path": dir, "from": "png", "to": "jpg",
	})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Equal(t, 2, res["converted"])
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "ffmpeg", runner.calls[0][0])
	assert.FileExists(t, filepath.Join(dir, "one.jpg"))
}

func TestConvertMissingFormats(t *testing.T) {
	d := NewWithRunner((&fakeRunner{}).run, t.TempDir())
	res := d.Execute(context.Background(), "files_convert", map[string]any{"path": "."})
	assert.Equal(t, false, res["success"])
	assert.Equal(t, "Missing from/to format", res["error"])
}

func TestConvertSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "final.mov")

	runner := &fakeRunner{}
	d := NewWithRunner(runner.run, dir)
	res := d.Execute(context.Background(), "files_convert", map[string]any{
		"input":  filepath.Join(dir, "final.mov"),
		"format": "mp4",
		"preset": "youtube",
	})
	require.Equal(t, true, res["success"], "result: %v", res)
	assert.Equal(t, filepath.Join(dir, "final_youtube.mp4"), res["output_path"])
	require.Len(t, runner.calls, 1)
	assert.Contains(t, runner.calls[0], "libx264")
}

func TestFriendlyDirNames(t *testing.T) {
	home := t.TempDir()
	d := NewWithRunner((&fakeRunner{}).run, home)

	assert.Equal(t, filepath.Join(home, "Downloads"), d.resolveDir("downloads"))
	assert.Equal(t, filepath.Join(home, "Desktop"), d.resolveDir("Desktop"))
	assert.Equal(t, filepath.Join(home, "projects"), d.resolveDir("~/projects"))
	assert.Equal(t, "/tmp/x", d.resolveDir("/tmp/x"))
}

func TestUnknownTask(t *testing.T) {
	d := NewWithRunner((&fakeRunner{}).run, t.TempDir())
	res := d.Execute(context.Background(), "files_shred", nil)
	assert.Equal(t, false, res["success"])
}
