package mrfs

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocalImplementsFileSystem(t *testing.T) {
	var fileSystem FileSystem = &LocalFileSystem{}
	assert.NotNil(t, fileSystem)
}

func TestLocalListFiles(t *testing.T) {
	tmpdir := t.TempDir()

	tmpFilePath := filepath.Join(tmpdir, "tmpfile")
	ioutil.WriteFile(tmpFilePath, []byte("foo"), 0600)

	fs := LocalFileSystem{}

	files, err := fs.ListFiles(tmpdir)
	assert.Nil(t, err)

	assert.Len(t, files, 1)
	assert.Equal(t, tmpFilePath, files[0].Name)
}

func TestLocalOpenReader(t *testing.T) {
	tmpdir := t.TempDir()
	path := filepath.Join(tmpdir, "tmpfile")
	ioutil.WriteFile(path, []byte("foo bar baz"), 0600)

	fs := LocalFileSystem{}

	// Test reader that begins at beginning of file
	reader, err := fs.OpenReader(path, 0)
	assert.Nil(t, err)

	contents, err := ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, []byte("foo bar baz"), contents)
	assert.Nil(t, reader.Close())

	// Test reader that begins in the middle of a file
	reader, err = fs.OpenReader(path, 4)
	assert.Nil(t, err)

	contents, err = ioutil.ReadAll(reader)
	assert.Nil(t, err)
	assert.Equal(t, []byte("bar baz"), contents)
	assert.Nil(t, reader.Close())
}

func TestLocalOpenReaderMissingFile(t *testing.T) {
	fs := LocalFileSystem{}
	_, err := fs.OpenReader(filepath.Join(t.TempDir(), "missing"), 0)
	assert.NotNil(t, err)
}

func TestLocalOpenWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tmpfile")

	fs := LocalFileSystem{}

	writer, err := fs.OpenWriter(path)
	assert.Nil(t, err)

	n, err := writer.Write([]byte("foo bar baz"))
	assert.Equal(t, 11, n)
	assert.Nil(t, err)
	assert.Nil(t, writer.Close())

	contents, err := ioutil.ReadFile(path)
	assert.Nil(t, err)
	assert.Equal(t, []byte("foo bar baz"), contents)
}

func TestLocalStat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tmpfile")
	ioutil.WriteFile(path, []byte("foo"), 0600)

	fs := LocalFileSystem{}

	fInfo, err := fs.Stat(path)
	assert.Nil(t, err)

	assert.Equal(t, path, fInfo.Name)
	assert.Equal(t, int64(3), fInfo.Size)
}

func TestLocalCreateIntermediateDirectory(t *testing.T) {
	tmpdir := t.TempDir()
	path := filepath.Join(tmpdir, "additionalFolder", "tmpfile")

	fs := LocalFileSystem{}

	writer, err := fs.OpenWriter(path)
	assert.Nil(t, err)

	_, err = writer.Write([]byte("foo"))
	assert.Nil(t, err)
	assert.Nil(t, writer.Close())

	stat, err := os.Stat(filepath.Join(tmpdir, "additionalFolder"))
	assert.Nil(t, err)
	assert.True(t, stat.IsDir())
}

func TestLocalListGlob(t *testing.T) {
	tmpdir := t.TempDir()
	path := filepath.Join(tmpdir, "tmpfile")
	ioutil.WriteFile(path, []byte("foo"), 0600)
	ioutil.WriteFile(filepath.Join(tmpdir, "other"), []byte("bar"), 0600)

	fs := LocalFileSystem{}

	files, err := fs.ListFiles(filepath.Join(tmpdir, "tmp*"))
	assert.Nil(t, err)
	assert.Len(t, files, 1)

	assert.Equal(t, int64(3), files[0].Size)
	assert.Equal(t, path, files[0].Name)
}

func TestLocalDelete(t *testing.T) {
	tmpdir := t.TempDir()
	dir := filepath.Join(tmpdir, ".shuffle-run")
	fs := LocalFileSystem{}

	writer, err := fs.OpenWriter(filepath.Join(dir, "map-bin0-0.out"))
	assert.Nil(t, err)
	assert.Nil(t, writer.Close())

	assert.Nil(t, fs.Delete(dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
