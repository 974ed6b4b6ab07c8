package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"draftfiles/backend/internal/domain"
)

// Store 文件系统存储卷，实现 storage.BlobStore
type Store struct {
	disk     string // 存储卷名称
	basePath string // 附件存储根目录
}

// Stats 存储卷统计信息
type Stats struct {
	Disk      string `json:"disk"`
	BasePath  string `json:"basePath"`
	FileCount int    `json:"fileCount"`
	TotalSize int64  `json:"totalSizeBytes"`
}

// NewStore 创建文件系统存储实例
func NewStore(disk, basePath string) (*Store, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("invalid base path: empty")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	if disk == "" {
		disk = "local"
	}
	return &Store{disk: disk, basePath: absPath}, nil
}

// Disk 返回存储卷名称
func (s *Store) Disk() string {
	return s.disk
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Put 写入文件：先写临时文件再重命名，读者不会看到写了一半的文件
func (s *Store) Put(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageWrite, err)
	}

	target, err := s.resolve(path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageWrite, err)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %v", domain.ErrStorageWrite, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %v", domain.ErrStorageWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to write file: %v", domain.ErrStorageWrite, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to close file: %v", domain.ErrStorageWrite, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to set permissions: %v", domain.ErrStorageWrite, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: failed to move file: %v", domain.ErrStorageWrite, err)
	}
	return nil
}

// Get 读取文件内容
func (s *Store) Get(ctx context.Context, path string) ([]byte, error) {
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Delete 删除文件并清理空目录，文件不存在视为成功
func (s *Store) Delete(ctx context.Context, path string) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	s.removeEmptyParents(filepath.Dir(target))
	return nil
}

// Stats 遍历存储卷统计文件数与总大小
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{Disk: s.disk, BasePath: s.basePath}

	err := filepath.WalkDir(s.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // 跳过错误，继续遍历
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.FileCount++
		stats.TotalSize += info.Size()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Writable 检查根目录是否可写，用于就绪检查
func (s *Store) Writable() error {
	f, err := os.CreateTemp(s.basePath, ".writable-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// resolve 将相对路径解析为根目录下的绝对路径
func (s *Store) resolve(path string) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}

	target := filepath.Join(s.basePath, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.basePath, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("path escapes storage root: %s", path)
	}
	return target, nil
}

// removeEmptyParents 自下而上删除空目录，直到根目录
func (s *Store) removeEmptyParents(dir string) {
	for dir != s.basePath && strings.HasPrefix(dir, s.basePath) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
