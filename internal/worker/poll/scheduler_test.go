package poll

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// --- テスト用モック ---

type stubAccountRepo struct {
	accounts []*model.Account
	listErr  error
}

func (m *stubAccountRepo) FindByID(_ context.Context, _ string) (*model.Account, error) {
	return nil, nil
}

func (m *stubAccountRepo) FindByChannelID(_ context.Context, _ string) (*model.Account, error) {
	return nil, nil
}

func (m *stubAccountRepo) Create(_ context.Context, _ *model.Account) error { return nil }

func (m *stubAccountRepo) ListSyncEnabled(_ context.Context) ([]*model.Account, error) {
	return m.accounts, m.listErr
}

func (m *stubAccountRepo) ListChannelsExpiringBefore(_ context.Context, _ time.Time) ([]*model.Account, error) {
	return nil, nil
}

func (m *stubAccountRepo) SaveCredential(_ context.Context, _, _, _ string, _ time.Time) error {
	return nil
}

func (m *stubAccountRepo) UpdateTokens(_ context.Context, _, _ string, _ time.Time, _ string) error {
	return nil
}

func (m *stubAccountRepo) ClearCredential(_ context.Context, _ string) error      { return nil }
func (m *stubAccountRepo) UpdateGoogleEmail(_ context.Context, _, _ string) error { return nil }
func (m *stubAccountRepo) SaveChannel(_ context.Context, _, _, _ string, _ *time.Time) error {
	return nil
}
func (m *stubAccountRepo) ClearChannel(_ context.Context, _ string) error { return nil }

type mockPuller struct {
	mu       sync.Mutex
	pulled   []string
	from, to time.Time
	pullFn   func(accountID string) (int, error)

	// 並列度の観測用
	active    int
	maxActive int
}

func (m *mockPuller) PullWindow(_ context.Context, accountID string, from, to time.Time) (int, error) {
	m.mu.Lock()
	m.pulled = append(m.pulled, accountID)
	m.from, m.to = from, to
	m.active++
	if m.active > m.maxActive {
		m.maxActive = m.active
	}
	m.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	m.mu.Lock()
	m.active--
	m.mu.Unlock()

	if m.pullFn != nil {
		return m.pullFn(accountID)
	}
	return 0, nil
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

func syncAccounts(ids ...string) []*model.Account {
	var accounts []*model.Account
	for _, id := range ids {
		accounts = append(accounts, &model.Account{ID: id, SyncEnabled: true, RefreshToken: "r"})
	}
	return accounts
}

// --- RunOnce ---

// 全同期有効アカウントがプルされることを検証
func TestScheduler_RunOnce_PullsAllAccounts(t *testing.T) {
	repo := &stubAccountRepo{accounts: syncAccounts("a-1", "a-2", "a-3")}
	puller := &mockPuller{}
	s := NewScheduler(repo, puller, newTestLogger(), 24*time.Hour, 7*24*time.Hour, 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if len(puller.pulled) != 3 {
		t.Errorf("pulled = %d accounts, want 3", len(puller.pulled))
	}
}

// プルのウィンドウが現在時刻の前後に設定されることを検証
func TestScheduler_RunOnce_WindowAroundNow(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubAccountRepo{accounts: syncAccounts("a-1")}
	puller := &mockPuller{}
	s := NewScheduler(repo, puller, newTestLogger(), 24*time.Hour, 7*24*time.Hour, 5)
	s.now = func() time.Time { return now }

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if !puller.from.Equal(now.Add(-24 * time.Hour)) {
		t.Errorf("from = %v, want %v", puller.from, now.Add(-24*time.Hour))
	}
	if !puller.to.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("to = %v, want %v", puller.to, now.Add(7*24*time.Hour))
	}
}

// 並列数が上限を超えないことを検証
func TestScheduler_RunOnce_RespectsMaxConcurrency(t *testing.T) {
	repo := &stubAccountRepo{accounts: syncAccounts("a-1", "a-2", "a-3", "a-4", "a-5", "a-6")}
	puller := &mockPuller{}
	s := NewScheduler(repo, puller, newTestLogger(), time.Hour, time.Hour, 2)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if puller.maxActive > 2 {
		t.Errorf("maxActive = %d, 並列数は2以下であるべき", puller.maxActive)
	}
}

// 1アカウントの失敗が他のアカウントのプルを妨げないことを検証
func TestScheduler_RunOnce_ContinuesOnAccountFailure(t *testing.T) {
	repo := &stubAccountRepo{accounts: syncAccounts("a-ok", "a-broken", "a-ok2")}
	puller := &mockPuller{
		pullFn: func(accountID string) (int, error) {
			if accountID == "a-broken" {
				return 0, errors.New("pull failed")
			}
			return 1, nil
		},
	}
	s := NewScheduler(repo, puller, newTestLogger(), time.Hour, time.Hour, 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("個別アカウントの失敗でRunOnceが失敗してはならない: %v", err)
	}
	if len(puller.pulled) != 3 {
		t.Errorf("pulled = %d accounts, want 3", len(puller.pulled))
	}
}

// 対象アカウントなしの場合に何もせず成功することを検証
func TestScheduler_RunOnce_NoAccounts(t *testing.T) {
	repo := &stubAccountRepo{}
	puller := &mockPuller{}
	s := NewScheduler(repo, puller, newTestLogger(), time.Hour, time.Hour, 5)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if len(puller.pulled) != 0 {
		t.Error("アカウントなしでプルしてはならない")
	}
}

// アカウント一覧の取得失敗はエラーとして返すことを検証
func TestScheduler_RunOnce_ListFailure(t *testing.T) {
	repo := &stubAccountRepo{listErr: errors.New("db down")}
	s := NewScheduler(repo, &mockPuller{}, newTestLogger(), time.Hour, time.Hour, 5)

	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("一覧取得の失敗はエラーとして返すべき")
	}
}

// --- Start ---

// コンテキストキャンセルでスケジューラが停止することを検証
func TestScheduler_Start_StopsOnContextCancel(t *testing.T) {
	repo := &stubAccountRepo{}
	s := NewScheduler(repo, &mockPuller{}, newTestLogger(), time.Hour, time.Hour, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にStartが停止するべき")
	}
}
