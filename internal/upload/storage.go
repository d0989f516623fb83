package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Storage は検証済みの画像を保存するインターフェース。
type Storage interface {
	// Save はnameでファイルを新規作成してrの内容を書き込む。
	// 同名ファイルが既に存在する場合は上書きせずエラーを返す。
	Save(ctx context.Context, name string, r io.Reader) error
	// Remove は保存済みファイルを削除する。投稿の永続化に失敗した場合の後始末に使う。
	Remove(name string) error
}

// DiskStorage はローカルディレクトリに画像を保存する。
// 保存したファイルは以後変更しない。
type DiskStorage struct {
	dir string
}

// NewDiskStorage は保存先ディレクトリを作成してDiskStorageを返す。
func NewDiskStorage(dir string) (*DiskStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &DiskStorage{dir: dir}, nil
}

// Dir は保存先ディレクトリを返す。
func (s *DiskStorage) Dir() string {
	return s.dir
}

// Save はO_EXCLでファイルを作成し、書き込み後にfsyncする。
// 書き込みに失敗した場合は途中までのファイルを削除する。
func (s *DiskStorage) Save(ctx context.Context, name string, r io.Reader) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("invalid upload name: %q", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := filepath.Join(s.dir, name)
	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(fullPath)
		return fmt.Errorf("failed to write upload file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(fullPath)
		return fmt.Errorf("failed to sync upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(fullPath)
		return fmt.Errorf("failed to close upload file: %w", err)
	}

	return nil
}

// Remove は保存済みファイルを削除する。存在しない場合はエラーにしない。
func (s *DiskStorage) Remove(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("invalid upload name: %q", name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove upload file: %w", err)
	}
	return nil
}
