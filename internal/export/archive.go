// Package export packages a session's artifacts (screenshots, recordings)
// into a tar.gz for hand-off.
package export

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveSession writes the session's screenshots/ and recordings/
// directories to outPath as a gzipped tarball. Directories that don't
// exist are skipped; an archive with no entries is still valid.
func ArchiveSession(storageDir, outPath string) error {
	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating archive %s: %w", outPath, err)
	}
	defer file.Close()

	gzWriter := gzip.NewWriter(file)
	defer gzWriter.Close()

	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	for _, sub := range []string{"screenshots", "recordings"} {
		dir := filepath.Join(storageDir, sub)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		if err := addDirectory(tarWriter, dir, sub); err != nil {
			return fmt.Errorf("archiving %s: %w", sub, err)
		}
	}
	return nil
}

// Extract unpacks an archive produced by ArchiveSession into target.
// Entries escaping the target directory are rejected.
func Extract(archivePath, target string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", archivePath, err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}

		cleaned := filepath.Clean(header.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return fmt.Errorf("archive entry %q escapes target", header.Name)
		}
		targetPath := filepath.Join(target, cleaned)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
				return err
			}
			outFile, err := os.Create(targetPath)
			if err != nil {
				return err
			}
			if _, err := io.Copy(outFile, tarReader); err != nil {
				outFile.Close()
				return err
			}
			outFile.Close()
		}
	}
	return nil
}

func addDirectory(tw *tar.Writer, source, prefix string) error {
	return filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		header.Name = filepath.Join(prefix, relPath)

		if err := tw.WriteHeader(header); err != nil {
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
	})
}
