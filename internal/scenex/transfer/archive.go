package transfer

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// CreateArchive compresses sourceDir into a tar.gz at archivePath. Entries
// are stored under the directory's base name, matching what
// "tar -czf out.tar.gz -C parent dir" produces, so extraction recreates the
// directory itself.
func CreateArchive(sourceDir string, archivePath string) error {
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer archiveFile.Close()

	gzipWriter := gzip.NewWriter(archiveFile)
	defer gzipWriter.Close()
	tarWriter := tar.NewWriter(gzipWriter)
	defer tarWriter.Close()

	baseName := filepath.Base(sourceDir)
	err = filepath.Walk(sourceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		relativePath, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}
		entryName := filepath.ToSlash(filepath.Join(baseName, relativePath))

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = entryName
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		_, err = io.Copy(tarWriter, file)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "failed to archive %s", sourceDir)
	}
	return nil
}

// ValidateArchive opens the archive and enumerates every entry. A truncated
// or corrupt file fails here instead of halfway through extraction.
func ValidateArchive(archivePath string) ([]string, error) {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return nil, errors.Wrapf(err, "archive %s is not valid gzip", archivePath)
	}
	defer gzipReader.Close()

	var names []string
	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "archive %s is corrupt", archivePath)
		}
		names = append(names, header.Name)
	}
	return names, nil
}

// ExtractArchive unpacks the archive into destinationDir. Entries escaping
// the destination are rejected.
func ExtractArchive(archivePath string, destinationDir string) error {
	archiveFile, err := os.Open(archivePath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer archiveFile.Close()

	gzipReader, err := gzip.NewReader(archiveFile)
	if err != nil {
		return errors.WithStack(err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "failed to read archive %s", archivePath)
		}

		targetPath := filepath.Join(destinationDir, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(targetPath, filepath.Clean(destinationDir)+string(os.PathSeparator)) {
			return errors.Errorf("archive entry %q escapes destination directory", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return errors.WithStack(err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return errors.WithStack(err)
			}
			if err := writeFileFromReader(targetPath, tarReader, header.FileInfo().Mode()); err != nil {
				return err
			}
		default:
			// Symlinks and devices have no business in result archives.
			continue
		}
	}
}

func writeFileFromReader(path string, reader io.Reader, mode os.FileMode) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()
	if _, err := io.Copy(file, reader); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
