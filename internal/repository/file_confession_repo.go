package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/hitoshi/confessional/internal/model"
)

// FileConfessionRepo はJSONファイルに投稿コレクション全体を保存するリポジトリ。
// 書き込み頻度の低い小規模運用向け。
//
// すべての変更はストア全体のロックの下で行い、変更のたびにコレクション全体を
// 一時ファイルへ書き出してfsyncした後、renameで置き換える。
// 書き込みに失敗した場合はメモリ上の状態を変更前に戻すため、永続化された状態と乖離しない。
type FileConfessionRepo struct {
	path string

	mu     sync.Mutex
	items  []model.Confession // ID昇順
	nextID int64
}

// OpenFileConfessionRepo はpathのJSONファイルを読み込んでリポジトリを生成する。
// ファイルが存在しない場合は空のコレクションとして開始する。
func OpenFileConfessionRepo(path string) (*FileConfessionRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	r := &FileConfessionRepo{path: path, nextID: 1}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}

	var items []model.Confession
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse data file %s: %w", path, err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	for i := range items {
		if items[i].ID >= r.nextID {
			r.nextID = items[i].ID + 1
		}
	}
	r.items = items

	return r, nil
}

// Append は投稿に次のIDを割り当て、コレクション全体を書き出してから確定する。
func (r *FileConfessionRepo) Append(ctx context.Context, c *model.Confession) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := model.Confession{
		ID:        r.nextID,
		Message:   c.Message,
		CreatedAt: c.CreatedAt.UTC(),
		PhotoRef:  c.PhotoRef,
		Likes:     0,
	}

	r.items = append(r.items, entry)
	if err := r.persist(); err != nil {
		r.items = r.items[:len(r.items)-1]
		return fmt.Errorf("投稿の作成に失敗しました: %w", err)
	}

	r.nextID++
	c.ID = entry.ID
	c.Likes = entry.Likes
	c.CreatedAt = entry.CreatedAt
	return nil
}

// IncrementLikes はいいね数を1増やし、コレクション全体を書き出してから確定する。
func (r *FileConfessionRepo) IncrementLikes(ctx context.Context, id int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	idx := sort.Search(len(r.items), func(i int) bool { return r.items[i].ID >= id })
	if idx == len(r.items) || r.items[idx].ID != id {
		return 0, ErrConfessionNotFound
	}

	r.items[idx].Likes++
	if err := r.persist(); err != nil {
		r.items[idx].Likes--
		return 0, fmt.Errorf("いいね数の更新に失敗しました: %w", err)
	}

	return r.items[idx].Likes, nil
}

// List は全投稿のコピーをID降順で返す。
func (r *FileConfessionRepo) List(ctx context.Context) ([]*model.Confession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.Confession, 0, len(r.items))
	for i := len(r.items) - 1; i >= 0; i-- {
		c := r.items[i]
		out = append(out, &c)
	}
	return out, nil
}

// Ping はデータファイルのディレクトリにアクセスできるかを確認する。
func (r *FileConfessionRepo) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("data directory is not accessible: %w", err)
	}
	return nil
}

// persist は現在のコレクション全体を同じディレクトリの一時ファイルに書き出し、
// fsync後にrenameで置き換える。途中で失敗した場合は一時ファイルを削除する。
// 呼び出し側でr.muを保持していること。
func (r *FileConfessionRepo) persist() error {
	f, err := renameio.NewPendingFile(r.path,
		renameio.WithTempDir(filepath.Dir(r.path)),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer f.Cleanup()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.items); err != nil {
		return fmt.Errorf("failed to encode data file: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}
