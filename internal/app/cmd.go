package app

// Command はバイナリの起動モードを表す。単一バイナリをAPIサーバー、
// 同期ワーカー、マイグレーション実行のいずれかとして起動する。
type Command string

const (
	// CommandServe はAPIサーバーモード。
	CommandServe Command = "serve"
	// CommandWorker は同期ワーカーモード（ポーリング、スイープ、チャネル更新）。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションの実行。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックの実行。
	// シェルを持たないdistrolessイメージでのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭のコマンドライン引数をCommandとして解釈する。
// 引数なし、またはサポート外の引数の場合はCommandServeにフォールバックする。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return cmd
	default:
		return CommandServe
	}
}
