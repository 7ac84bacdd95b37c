package backup

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/clusterctl/pkg/types"
	"github.com/klauspost/compress/gzip"
)

// archiveCluster tars (optionally gzips) a cluster's filesystem root into
// the configured backup directory and returns the archive's path, size,
// and SHA-256 checksum. CONFIG_ONLY backups skip the top-level data/ and
// volumes/ subtrees (see isDataDir); every other type archives the full
// tree.
func archiveCluster(cluster *types.Cluster, backupType types.BackupType, destDir string, compress bool) (path string, size int64, checksum string, err error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", 0, "", fmt.Errorf("create backup directory: %w", err)
	}

	ext := "tar"
	if compress {
		ext = "tar.gz"
	}
	filename := fmt.Sprintf("%s-%s-%d.%s", cluster.Name, strings.ToLower(string(backupType)), time.Now().UnixNano(), ext)
	fullPath := filepath.Join(destDir, filename)

	f, err := os.Create(fullPath)
	if err != nil {
		return "", 0, "", fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	dest := io.MultiWriter(f, hasher)

	var tw *tar.Writer
	var gw *gzip.Writer
	if compress {
		gw = gzip.NewWriter(dest)
		defer gw.Close()
		tw = tar.NewWriter(gw)
	} else {
		tw = tar.NewWriter(dest)
	}

	walkErr := filepath.Walk(cluster.RootPath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(cluster.RootPath, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if backupType == types.BackupConfigOnly && info.IsDir() && isDataDir(rel) {
			return filepath.SkipDir
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = rel
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if walkErr != nil {
		tw.Close()
		return "", 0, "", fmt.Errorf("walk cluster root: %w", walkErr)
	}
	if err := tw.Close(); err != nil {
		return "", 0, "", fmt.Errorf("finalize archive: %w", err)
	}
	if gw != nil {
		if err := gw.Close(); err != nil {
			return "", 0, "", fmt.Errorf("finalize gzip stream: %w", err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		return "", 0, "", err
	}

	return fullPath, info.Size(), hex.EncodeToString(hasher.Sum(nil)), nil
}

// isDataDir names the cluster-root subdirectories a CONFIG_ONLY backup
// excludes.
func isDataDir(rel string) bool {
	top := strings.SplitN(rel, string(filepath.Separator), 2)[0]
	return top == "data" || top == "volumes"
}

// extractArchive restores a tar or tar.gz archive into destDir.
func extractArchive(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(archivePath, ".gz") {
		gr, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip reader: %w", err)
		}
		defer gr.Close()
		src = gr
	}

	tr := tar.NewReader(src)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target := filepath.Join(destDir, header.Name)
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			out.Close()
		}
	}
}

// removeArchive deletes a backup archive file; a missing file is not an
// error.
func removeArchive(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
