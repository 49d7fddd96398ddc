package gcal

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ErrorClass はリモートAPIエラーの分類。
// 分類に応じて呼び出し側の振る舞いが決まる:
// Unauthorizedはリフレッシュして1回だけリトライ、NotFoundは削除系では成功・
// 更新系では再作成、Transientはsync_status = update_pendingでスイープに委ねる。
type ErrorClass int

const (
	// ErrorClassNone はエラーなし。
	ErrorClassNone ErrorClass = iota
	// ErrorClassUnauthorized は認可エラー（トークン失効・無効）。
	ErrorClassUnauthorized
	// ErrorClassNotFound はリソース不在（404/410）。
	ErrorClassNotFound
	// ErrorClassTransient は一時的エラー（429/5xx/レート制限/ネットワーク）。
	ErrorClassTransient
	// ErrorClassPermanent は恒久的エラー（バリデーション等）。リトライしても無駄。
	ErrorClassPermanent
)

// ClassifyError はリモートAPIエラーをErrorClassに分類する。
// googleapi.Error以外のエラー（ネットワーク断、タイムアウト等）は一時的エラーとして扱う。
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassNone
	}

	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		// コンテキストキャンセルを含むネットワーク系はリトライで回復しうる
		return ErrorClassTransient
	}

	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return ErrorClassUnauthorized
	case apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone:
		return ErrorClassNotFound
	case apiErr.Code == http.StatusTooManyRequests:
		return ErrorClassTransient
	case apiErr.Code >= 500:
		return ErrorClassTransient
	case apiErr.Code == http.StatusForbidden:
		// 403はレート制限系のみ一時的エラーとして扱う
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded":
				return ErrorClassTransient
			}
		}
		return ErrorClassPermanent
	default:
		return ErrorClassPermanent
	}
}

// IsUnauthorized は認可エラーかを返す。
func IsUnauthorized(err error) bool {
	return ClassifyError(err) == ErrorClassUnauthorized
}

// IsNotFound はリソース不在エラーかを返す。
func IsNotFound(err error) bool {
	return ClassifyError(err) == ErrorClassNotFound
}

// IsTransient は一時的エラーかを返す。
func IsTransient(err error) bool {
	return ClassifyError(err) == ErrorClassTransient
}
