// Package upload は投稿に添付される画像の検証と保存を提供する。
//
// 検証はI/Oを伴わない純粋な処理（Validator）として実装し、
// 書き込みはDiskStorageが担当する。保存先ディレクトリの公開（静的配信）は
// ルーター側の静的ファイルハンドラーに任せる。
package upload

import (
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hitoshi/confessional/internal/model"
)

const (
	// DefaultMaxSize は添付画像のデフォルト上限サイズ（2MiB）。
	DefaultMaxSize int64 = 2 << 20
	// DefaultPublicPath はアップロード画像を公開するURLパス。
	DefaultPublicPath = "/uploads"
)

// allowedTypes は受け付けるMIMEタイプと、拡張子がない場合に補う拡張子。
// 判定はクライアントが申告したContent-Typeで行い、ファイル内容は検査しない。
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// FileMeta はアップロードされたファイルのメタ情報。
type FileMeta struct {
	DeclaredType string // multipartパートのContent-Type
	Size         int64
	OriginalName string
}

// StoredRef は保存名と公開URLの組。
type StoredRef struct {
	Name string // 保存ディレクトリ内のファイル名
	URL  string // クライアントから取得可能なURLパス
}

// Config はValidatorの設定。
type Config struct {
	MaxSize    int64
	PublicPath string
}

// Validator は添付画像の形式とサイズを検証し、衝突しない保存名を割り当てる。
type Validator struct {
	maxSize    int64
	publicPath string
	namer      *Namer
}

// NewValidator はValidatorを生成する。ゼロ値の設定項目にはデフォルト値を使う。
func NewValidator(cfg Config) *Validator {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.PublicPath == "" {
		cfg.PublicPath = DefaultPublicPath
	}
	return &Validator{
		maxSize:    cfg.MaxSize,
		publicPath: cfg.PublicPath,
		namer:      NewNamer(time.Now),
	}
}

// MaxSize は許可される最大サイズ（バイト）を返す。
func (v *Validator) MaxSize() int64 {
	return v.maxSize
}

// Validate は添付ファイルを検証し、保存名と公開URLを返す。
// fileがnilの場合は添付なしとしてnil, nilを返す。
//   - 申告MIMEタイプが許可リスト外: UNSUPPORTED_MEDIA_TYPE
//   - サイズが上限超過: PAYLOAD_TOO_LARGE
func (v *Validator) Validate(file *FileMeta) (*StoredRef, error) {
	if file == nil {
		return nil, nil
	}

	mediaType := normalizeMediaType(file.DeclaredType)
	fallbackExt, ok := allowedTypes[mediaType]
	if !ok {
		return nil, model.NewUnsupportedMediaTypeError(file.DeclaredType)
	}

	if file.Size > v.maxSize {
		return nil, model.NewPayloadTooLargeError(v.maxSize)
	}

	ext := strings.ToLower(filepath.Ext(file.OriginalName))
	if !isSafeExt(ext) {
		ext = fallbackExt
	}

	name := v.namer.Next(ext)
	return &StoredRef{
		Name: name,
		URL:  path.Join(v.publicPath, name),
	}, nil
}

// normalizeMediaType はContent-Typeからパラメータを除いた小文字のメディアタイプを返す。
func normalizeMediaType(declared string) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return mediaType
}

// isSafeExt は拡張子が英数字のみで構成されているかを検証する。
// 空や区切り文字を含む拡張子は保存名に使わない。
func isSafeExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 10 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// Namer は保存名を生成する。
// 同一ナノ秒内の同時アップロードでも衝突しないよう、時刻に単調増加カウンタを連結する。
type Namer struct {
	now     func() time.Time
	counter atomic.Uint64
}

// NewNamer はNamerを生成する。nowにはテスト用に固定時刻を返す関数を渡せる。
func NewNamer(now func() time.Time) *Namer {
	return &Namer{now: now}
}

// Next は "<UnixNano>-<連番><ext>" 形式の保存名を返す。
func (n *Namer) Next(ext string) string {
	seq := n.counter.Add(1)
	return fmt.Sprintf("%d-%d%s", n.now().UnixNano(), seq, ext)
}
