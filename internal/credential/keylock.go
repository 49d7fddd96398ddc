// Package credential はアカウントごとのOAuthクレデンシャル管理を提供する。
// トークンの取得・リフレッシュをアカウント単位の排他制御のもとで行う。
package credential

import "sync"

// KeyLock はキーごとのミューテックスのレジストリ。
// エントリは初回利用時に作成され、競合がなくなった時点で削除される
// （メモリ使用量をアクティブなキー数に抑えるため）。
// グローバルロックはレジストリ操作のみに使い、キーごとのロックは独立して動作する。
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewKeyLock はKeyLockの新しいインスタンスを生成する。
func NewKeyLock() *KeyLock {
	return &KeyLock{entries: make(map[string]*lockEntry)}
}

// Lock は指定キーのロックを取得する。同一キーの他の保持者がいる場合はブロックする。
func (l *KeyLock) Lock(key string) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
}

// Unlock は指定キーのロックを解放する。
// 待機者がいなければエントリをレジストリから削除する。
func (l *KeyLock) Unlock(key string) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		l.mu.Unlock()
		panic("credential: unlock of unheld key " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()

	entry.mu.Unlock()
}

// Len は現在レジストリに保持されているエントリ数を返す（テスト用）。
func (l *KeyLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
