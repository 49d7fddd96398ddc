package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// statePayload はOAuthのstateパラメータに埋め込む内容。
// コールバックで認可対象のアカウントを特定するためにアカウントIDを運び、
// CSRF対策としてランダムなnonceを含める（nonceはCookieと二重に照合する）。
type statePayload struct {
	AccountID string `json:"account_id"`
	Nonce     string `json:"nonce"`
}

// GenerateNonce は暗号的に安全なランダムnonceを生成する。
func GenerateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("nonceの生成に失敗しました: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// EncodeState はアカウントIDとnonceを不透明なstate文字列にエンコードする。
func EncodeState(accountID, nonce string) (string, error) {
	payload := statePayload{AccountID: accountID, Nonce: nonce}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("stateのエンコードに失敗しました: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeState はstate文字列からアカウントIDとnonceを取り出す。
func DecodeState(state string) (accountID, nonce string, err error) {
	data, err := base64.RawURLEncoding.DecodeString(state)
	if err != nil {
		return "", "", fmt.Errorf("stateのデコードに失敗しました: %w", err)
	}

	var payload statePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", "", fmt.Errorf("stateのパースに失敗しました: %w", err)
	}
	if payload.AccountID == "" || payload.Nonce == "" {
		return "", "", fmt.Errorf("stateに必要なフィールドが含まれていません")
	}

	return payload.AccountID, payload.Nonce, nil
}
