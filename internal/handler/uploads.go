package handler

import (
	"io/fs"
	"net/http"
)

// noListingFS はディレクトリを開けないhttp.FileSystem。
// http.FileServerによるディレクトリ一覧の表示を防ぐ。
type noListingFS struct {
	fs http.FileSystem
}

// Open はファイルを開く。ディレクトリの場合はfs.ErrNotExistを返す。
func (n noListingFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}

// NewUploadsHandler はアップロード画像を読み取り専用で配信するハンドラーを返す。
// prefixはルーター上の公開パス（例: /uploads）。
func NewUploadsHandler(dir, prefix string) http.Handler {
	return http.StripPrefix(prefix, http.FileServer(noListingFS{fs: http.Dir(dir)}))
}
