// Package publish uploads site content to S3 and invalidates the CDN cache
// in front of it.
package publish

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Asset is one local file staged for upload.
type Asset struct {
	LocalPath   string
	Key         string
	ContentType string
	// Hash is the hex MD5 of the file contents, used to skip objects whose
	// content already matches what's in the bucket.
	Hash string
	Size int64
}

// contentTypes pins the MIME types that matter on a static site. The
// platform mime table varies between hosts, so these take precedence.
var contentTypes = map[string]string{
	".html":  "text/html",
	".css":   "text/css",
	".js":    "application/javascript",
	".json":  "application/json",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".txt":   "text/plain",
	".xml":   "application/xml",
	".webp":  "image/webp",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".map":   "application/json",
	".pdf":   "application/pdf",
}

const fallbackContentType = "application/octet-stream"

// DetectContentType maps a file name to its MIME type by extension, falling
// back to application/octet-stream for anything unknown.
func DetectContentType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return fallbackContentType
}

// ScanDir stages every regular file under dir as an asset. Hidden files and
// directories are skipped. Keys are relative to dir and always use forward
// slashes. The walk order, and therefore the upload order, is lexical.
func ScanDir(dir string) ([]Asset, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read site directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("site path %s is not a directory", dir)
	}

	var assets []Asset
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden files/directories
		name := info.Name()
		if strings.HasPrefix(name, ".") && path != dir {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hash, err := fileMD5(path)
		if err != nil {
			return err
		}

		assets = append(assets, Asset{
			LocalPath:   path,
			Key:         filepath.ToSlash(rel),
			ContentType: DetectContentType(name),
			Hash:        hash,
			Size:        info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assets, nil
}

func fileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
