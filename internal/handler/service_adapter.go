package handler

import (
	"context"

	"github.com/codegym-software/imeet-sync/internal/repository"
)

// ChannelResolverAdapter は repository.AccountRepository を
// WebhookHandlerのAccountResolverに適合させるアダプタ。
type ChannelResolverAdapter struct {
	repo repository.AccountRepository
}

// NewChannelResolverAdapter はChannelResolverAdapterを生成する。
func NewChannelResolverAdapter(repo repository.AccountRepository) *ChannelResolverAdapter {
	return &ChannelResolverAdapter{repo: repo}
}

// ResolveChannel はチャネルIDに対応するアカウントIDを返す。
// 未知のチャネルの場合は空文字列を返す。
func (a *ChannelResolverAdapter) ResolveChannel(ctx context.Context, channelID string) (string, error) {
	account, err := a.repo.FindByChannelID(ctx, channelID)
	if err != nil {
		return "", err
	}
	if account == nil {
		return "", nil
	}
	return account.ID, nil
}
