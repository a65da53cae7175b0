package mrfs

import (
	"io"
	"strings"
)

// FileSystemType is an identifier for supported FileSystems
type FileSystemType int

// Identifiers for supported FileSystemTypes
const (
	Local FileSystemType = iota
	S3
)

// FileSystem provides the file backend for jobs.
// Input records are read from a file system. Shuffle bins and output parts
// are written to a file system.
type FileSystem interface {
	ListFiles(pathGlob string) ([]FileInfo, error)
	Stat(filePath string) (FileInfo, error)
	OpenReader(filePath string, startAt int64) (io.ReadCloser, error)
	OpenWriter(filePath string) (io.WriteCloser, error)
	Delete(filePath string) error
	Join(elem ...string) string
	Init() error
}

// FileInfo provides information about a file
type FileInfo struct {
	Name string // file path
	Size int64  // file size in bytes
}

// InitFilesystem intializes a filesystem of the given type
func InitFilesystem(fsType FileSystemType) (FileSystem, error) {
	var fs FileSystem
	switch fsType {
	case S3:
		fs = &S3FileSystem{}
	default:
		fs = &LocalFileSystem{}
	}

	return fs, fs.Init()
}

// InferFilesystemType returns the FileSystemType that serves location
func InferFilesystemType(location string) FileSystemType {
	if strings.HasPrefix(location, "s3://") {
		return S3
	}
	return Local
}

// InferFilesystem initializes the filesystem that serves location
func InferFilesystem(location string) (FileSystem, error) {
	return InitFilesystem(InferFilesystemType(location))
}
