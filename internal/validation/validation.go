// Package validation はgo-playground/validatorによる構造体検証と、日本語のエラーメッセージ変換を提供する。
package validation

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/locales/ja"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	ja_translations "github.com/go-playground/validator/v10/translations/ja"
)

// Validator はvalidator.Validateと翻訳器の組。
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	once     sync.Once
	instance *Validator
)

// Get はプロセス共通のValidatorを返す。初回呼び出し時に初期化する。
func Get() *Validator {
	once.Do(func() {
		locale := ja.New()
		uni := ut.New(locale, locale)
		trans, _ := uni.GetTranslator("ja")

		v := validator.New(validator.WithRequiredStructEnabled())

		// エラーメッセージのフィールド名にはjsonタグ（なければenvタグ）を使う
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"json", "env"} {
				tag := fld.Tag.Get(key)
				if tag == "" || tag == "-" {
					continue
				}
				name, _, _ := strings.Cut(tag, ",")
				return name
			}
			return fld.Name
		})

		_ = ja_translations.RegisterDefaultTranslations(v, trans)

		instance = &Validator{validate: v, translator: trans}
	})
	return instance
}

// FieldError は検証に失敗したフィールドと翻訳済みメッセージ。
type FieldError struct {
	Field   string // タグ名から解決したフィールド名
	Tag     string // 失敗した検証タグ（required, max など）
	Message string
}

// Error は検証エラーの一覧。
type Error struct {
	Fields []FieldError
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Message
	}
	return strings.Join(msgs, "; ")
}

// Has は指定フィールドが指定タグで失敗しているかを返す。
func (e *Error) Has(field, tag string) bool {
	for _, f := range e.Fields {
		if f.Field == field && f.Tag == tag {
			return true
		}
	}
	return false
}

// Struct は構造体を検証する。失敗した場合は*Errorを返す。
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &Error{Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Message: fe.Translate(v.translator),
		})
	}
	return out
}
