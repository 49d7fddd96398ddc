package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/codegym-software/imeet-sync/internal/model"
)

// --- テスト用モック ---

type stubMeetingRepo struct {
	pending  []*model.Meeting
	listErr  error
	countErr error
}

func (m *stubMeetingRepo) FindByID(_ context.Context, _ string) (*model.Meeting, error) {
	return nil, nil
}

func (m *stubMeetingRepo) FindByOwnerAndExternalEventID(_ context.Context, _, _ string) (*model.Meeting, error) {
	return nil, nil
}

func (m *stubMeetingRepo) Create(_ context.Context, _ *model.Meeting) error { return nil }
func (m *stubMeetingRepo) Update(_ context.Context, _ *model.Meeting) error { return nil }

func (m *stubMeetingRepo) UpdateSyncState(_ context.Context, _, _ string, _ model.SyncStatus) error {
	return nil
}

func (m *stubMeetingRepo) ListExternalInWindow(_ context.Context, _ string, _, _ time.Time) ([]*model.Meeting, error) {
	return nil, nil
}

func (m *stubMeetingRepo) ListPendingSync(_ context.Context, limit int) ([]*model.Meeting, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if limit > 0 && len(m.pending) > limit {
		return m.pending[:limit], nil
	}
	return m.pending, nil
}

func (m *stubMeetingRepo) CountPendingSync(_ context.Context) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.pending), nil
}

func (m *stubMeetingRepo) DeleteImportedByOwner(_ context.Context, _ string) (int64, error) {
	return 0, nil
}

type mockPusher struct {
	created []string
	updated []string
	deleted []string
	failIDs map[string]error
}

func (m *mockPusher) fail(meetingID string) error {
	if m.failIDs == nil {
		return nil
	}
	return m.failIDs[meetingID]
}

func (m *mockPusher) PushCreate(_ context.Context, meetingID string) error {
	if err := m.fail(meetingID); err != nil {
		return err
	}
	m.created = append(m.created, meetingID)
	return nil
}

func (m *mockPusher) PushUpdate(_ context.Context, meetingID string) error {
	if err := m.fail(meetingID); err != nil {
		return err
	}
	m.updated = append(m.updated, meetingID)
	return nil
}

func (m *mockPusher) PushDelete(_ context.Context, meetingID string) error {
	if err := m.fail(meetingID); err != nil {
		return err
	}
	m.deleted = append(m.deleted, meetingID)
	return nil
}

type recordingGauge struct {
	values []int
}

func (g *recordingGauge) SetPendingSync(count int) {
	g.values = append(g.values, count)
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

func pendingMeeting(id string, status model.BookingStatus, externalEventID string) *model.Meeting {
	return &model.Meeting{
		ID:              id,
		BookingStatus:   status,
		ExternalEventID: externalEventID,
		SyncStatus:      model.SyncStatusUpdatePending,
	}
}

// --- RunOnce ---

// 会議の状態に応じて作成・更新・削除が振り分けられることを検証
func TestSweeper_RunOnce_DispatchesByMeetingState(t *testing.T) {
	repo := &stubMeetingRepo{pending: []*model.Meeting{
		pendingMeeting("m-create", model.BookingStatusBooked, ""),
		pendingMeeting("m-update", model.BookingStatusBooked, "ev-1"),
		pendingMeeting("m-delete", model.BookingStatusCancelled, "ev-2"),
	}}
	pusher := &mockPusher{}
	s := NewSweeper(repo, pusher, nil, newTestLogger(), 100)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if len(pusher.created) != 1 || pusher.created[0] != "m-create" {
		t.Errorf("リモート未作成の会議はPushCreateされるべき: %v", pusher.created)
	}
	if len(pusher.updated) != 1 || pusher.updated[0] != "m-update" {
		t.Errorf("リモート作成済みの会議はPushUpdateされるべき: %v", pusher.updated)
	}
	if len(pusher.deleted) != 1 || pusher.deleted[0] != "m-delete" {
		t.Errorf("キャンセル済みの会議はPushDeleteされるべき: %v", pusher.deleted)
	}
}

// キャンセル済みはexternal_event_idの有無に関わらず削除が優先されることを検証
func TestSweeper_RunOnce_CancelledWithoutEventIsDeleted(t *testing.T) {
	repo := &stubMeetingRepo{pending: []*model.Meeting{
		pendingMeeting("m-1", model.BookingStatusCancelled, ""),
	}}
	pusher := &mockPusher{}
	s := NewSweeper(repo, pusher, nil, newTestLogger(), 100)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if len(pusher.deleted) != 1 {
		t.Errorf("キャンセル済みは削除扱いであるべき: deleted = %v", pusher.deleted)
	}
	if len(pusher.created) != 0 {
		t.Error("キャンセル済みの会議を作成してはならない")
	}
}

// 1件の失敗が他の会議の回収を妨げないことを検証
func TestSweeper_RunOnce_ContinuesOnFailure(t *testing.T) {
	repo := &stubMeetingRepo{pending: []*model.Meeting{
		pendingMeeting("m-broken", model.BookingStatusBooked, "ev-1"),
		pendingMeeting("m-ok", model.BookingStatusBooked, "ev-2"),
	}}
	pusher := &mockPusher{failIDs: map[string]error{"m-broken": errors.New("push failed")}}
	s := NewSweeper(repo, pusher, nil, newTestLogger(), 100)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("個別の失敗でRunOnceが失敗してはならない: %v", err)
	}
	if len(pusher.updated) != 1 || pusher.updated[0] != "m-ok" {
		t.Errorf("失敗した会議以外は回収されるべき: %v", pusher.updated)
	}
}

// バッチサイズで取得件数が制限されることを検証
func TestSweeper_RunOnce_RespectsBatchSize(t *testing.T) {
	var pending []*model.Meeting
	for _, id := range []string{"m-1", "m-2", "m-3"} {
		pending = append(pending, pendingMeeting(id, model.BookingStatusBooked, "ev"))
	}
	repo := &stubMeetingRepo{pending: pending}
	pusher := &mockPusher{}
	s := NewSweeper(repo, pusher, nil, newTestLogger(), 2)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if len(pusher.updated) != 2 {
		t.Errorf("バッチサイズ分のみ処理されるべき: %d", len(pusher.updated))
	}
}

// 処理後に未同期件数がゲージへ記録されることを検証
func TestSweeper_RunOnce_RecordsPendingGauge(t *testing.T) {
	repo := &stubMeetingRepo{pending: []*model.Meeting{
		pendingMeeting("m-1", model.BookingStatusBooked, "ev-1"),
	}}
	gauge := &recordingGauge{}
	s := NewSweeper(repo, &mockPusher{}, gauge, newTestLogger(), 100)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if len(gauge.values) != 1 {
		t.Fatalf("ゲージが1回記録されるべき: %v", gauge.values)
	}
}

// 対象なしの場合でもゲージは記録されることを検証
func TestSweeper_RunOnce_NoPending(t *testing.T) {
	gauge := &recordingGauge{}
	s := NewSweeper(&stubMeetingRepo{}, &mockPusher{}, gauge, newTestLogger(), 100)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce はエラーを返してはならない: %v", err)
	}
	if len(gauge.values) != 1 || gauge.values[0] != 0 {
		t.Errorf("未同期0件が記録されるべき: %v", gauge.values)
	}
}

// 一覧取得の失敗はエラーとして返すことを検証
func TestSweeper_RunOnce_ListFailure(t *testing.T) {
	repo := &stubMeetingRepo{listErr: errors.New("db down")}
	s := NewSweeper(repo, &mockPusher{}, nil, newTestLogger(), 100)

	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("一覧取得の失敗はエラーとして返すべき")
	}
}

// --- Start ---

// コンテキストキャンセルでスイープが停止することを検証
func TestSweeper_Start_StopsOnContextCancel(t *testing.T) {
	s := NewSweeper(&stubMeetingRepo{}, &mockPusher{}, nil, newTestLogger(), 100)

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
