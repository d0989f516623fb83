// Package cleanup はどの投稿からも参照されていないアップロード画像の定期削除ジョブを提供する。
//
// 画像の保存と投稿の永続化の間でプロセスが停止した場合、画像だけが残る。
// 保存直後の画像を誤って削除しないよう、猶予期間より新しいファイルは対象外とする。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hitoshi/confessional/internal/model"
)

// DefaultGrace は削除対象とするまでの猶予期間のデフォルト値。
const DefaultGrace = time.Hour

// ConfessionLister は全投稿を取得するインターフェース。
type ConfessionLister interface {
	List(ctx context.Context) ([]*model.Confession, error)
}

// OrphanSweeper は参照されていないアップロード画像を削除するジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type OrphanSweeper struct {
	dir    string
	lister ConfessionLister
	logger *slog.Logger
	Grace  time.Duration // 最終更新からこの期間が経過したファイルのみ削除する
	now    func() time.Time
}

// NewOrphanSweeper は新しいOrphanSweeperを生成する。
func NewOrphanSweeper(dir string, lister ConfessionLister, logger *slog.Logger) *OrphanSweeper {
	return &OrphanSweeper{
		dir:    dir,
		lister: lister,
		logger: logger,
		Grace:  DefaultGrace,
		now:    time.Now,
	}
}

// Run は1回分の削除を行い、削除したファイル数を返す。
// ディレクトリの走査を投稿一覧の取得より先に行い、走査後に追加された投稿の画像を
// 参照なしと誤判定しないようにする。
func (j *OrphanSweeper) Run(ctx context.Context) (int, error) {
	start := j.now()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return 0, fmt.Errorf("アップロードディレクトリの走査に失敗: %w", err)
	}

	confessions, err := j.lister.List(ctx)
	if err != nil {
		j.logger.Error("孤立画像クリーンアップの投稿取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("投稿一覧の取得に失敗: %w", err)
	}

	referenced := make(map[string]struct{}, len(confessions))
	for _, c := range confessions {
		if c.HasPhoto() {
			referenced[path.Base(c.PhotoRef)] = struct{}{}
		}
	}

	deleted := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if !entry.Type().IsRegular() {
			continue
		}
		if _, ok := referenced[entry.Name()]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if start.Sub(info.ModTime()) < j.Grace {
			continue
		}

		if err := os.Remove(filepath.Join(j.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			j.logger.Warn("孤立画像の削除に失敗しました",
				slog.String("name", entry.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		deleted++
	}

	j.logger.Info("孤立画像クリーンアップジョブが完了しました",
		slog.Int("deleted_count", deleted),
		slog.Int("referenced_count", len(referenced)),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)

	return deleted, nil
}

// Start は起動直後に1回実行し、以後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *OrphanSweeper) Start(ctx context.Context, interval time.Duration) {
	if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
				j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}
