package upload

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/confessional/internal/model"
)

func assertAPIErrorCode(t *testing.T, err error, wantCode string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *model.APIError", err)
	}
	if apiErr.Code != wantCode {
		t.Errorf("Code = %q, want %q", apiErr.Code, wantCode)
	}
}

func TestValidate_NilFileReturnsNil(t *testing.T) {
	v := NewValidator(Config{})

	ref, err := v.Validate(nil)
	if err != nil {
		t.Fatalf("Validate がエラーを返した: %v", err)
	}
	if ref != nil {
		t.Errorf("ref = %+v, want nil", ref)
	}
}

func TestValidate_RejectsUnsupportedMediaType(t *testing.T) {
	v := NewValidator(Config{})

	tests := []struct {
		name         string
		declaredType string
	}{
		{name: "PDF", declaredType: "application/pdf"},
		{name: "SVG", declaredType: "image/svg+xml"},
		{name: "HTML", declaredType: "text/html"},
		{name: "空", declaredType: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Validate(&FileMeta{DeclaredType: tt.declaredType, Size: 100, OriginalName: "a.png"})
			assertAPIErrorCode(t, err, model.ErrCodeUnsupportedMediaType)
		})
	}
}

func TestValidate_AcceptsAllowedTypes(t *testing.T) {
	v := NewValidator(Config{})

	for _, declared := range []string{"image/jpeg", "image/png", "image/gif", "image/webp", "IMAGE/PNG", "image/png; charset=binary"} {
		t.Run(declared, func(t *testing.T) {
			ref, err := v.Validate(&FileMeta{DeclaredType: declared, Size: 1024, OriginalName: "photo.bin"})
			if err != nil {
				t.Fatalf("Validate がエラーを返した: %v", err)
			}
			if ref == nil {
				t.Fatal("ref は nil であってはならない")
			}
		})
	}
}

func TestValidate_RejectsOversizedFile(t *testing.T) {
	v := NewValidator(Config{})

	_, err := v.Validate(&FileMeta{DeclaredType: "image/png", Size: DefaultMaxSize + 1, OriginalName: "big.png"})
	assertAPIErrorCode(t, err, model.ErrCodePayloadTooLarge)

	// ちょうど上限は許可される
	if _, err := v.Validate(&FileMeta{DeclaredType: "image/png", Size: DefaultMaxSize, OriginalName: "edge.png"}); err != nil {
		t.Errorf("上限ちょうどのファイルが拒否された: %v", err)
	}
}

func TestValidate_PNGReceivesPublicReference(t *testing.T) {
	v := NewValidator(Config{PublicPath: "/uploads"})

	ref, err := v.Validate(&FileMeta{DeclaredType: "image/png", Size: 2048, OriginalName: "Cat.PNG"})
	if err != nil {
		t.Fatalf("Validate がエラーを返した: %v", err)
	}
	if !strings.HasSuffix(ref.Name, ".png") {
		t.Errorf("Name = %q, want lower-cased .png suffix", ref.Name)
	}
	if ref.URL != "/uploads/"+ref.Name {
		t.Errorf("URL = %q, want %q", ref.URL, "/uploads/"+ref.Name)
	}
}

func TestValidate_FallsBackToTypeExtension(t *testing.T) {
	v := NewValidator(Config{})

	tests := []struct {
		name         string
		originalName string
		declaredType string
		wantSuffix   string
	}{
		{name: "拡張子なし", originalName: "photo", declaredType: "image/jpeg", wantSuffix: ".jpg"},
		{name: "パス区切りを含む拡張子", originalName: "x.we/bp", declaredType: "image/webp", wantSuffix: ".webp"},
		{name: "記号を含む拡張子", originalName: "x.p$g", declaredType: "image/png", wantSuffix: ".png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, err := v.Validate(&FileMeta{DeclaredType: tt.declaredType, Size: 10, OriginalName: tt.originalName})
			if err != nil {
				t.Fatalf("Validate がエラーを返した: %v", err)
			}
			if !strings.HasSuffix(ref.Name, tt.wantSuffix) {
				t.Errorf("Name = %q, want suffix %q", ref.Name, tt.wantSuffix)
			}
		})
	}
}

func TestNamer_UniqueUnderSameTimestamp(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	namer := NewNamer(func() time.Time { return fixed })

	const n = 200
	var (
		mu    sync.Mutex
		names = make(map[string]struct{}, n)
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := namer.Next(".png")
			mu.Lock()
			names[name] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(names) != n {
		t.Errorf("unique names = %d, want %d", len(names), n)
	}
}
