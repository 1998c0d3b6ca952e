package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はフィードサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandDiagnose は設定を検証して要約を出力することを示す。
	// シークレットはマスクされるため出力は安全に共有できる。
	CommandDiagnose Command = "diagnose"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "diagnose":
		return CommandDiagnose
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
