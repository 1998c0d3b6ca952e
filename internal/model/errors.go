package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// ログと診断出力に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: config, calendar, validation, system
	Action   string // 運用者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeFeedNotFound      = "FEED_NOT_FOUND"
	ErrCodeCalendarNotFound  = "CALENDAR_NOT_FOUND"
	ErrCodeCalendarFetchFail = "CALENDAR_FETCH_FAILED"
	ErrCodeICSParseFail      = "ICS_PARSE_FAILED"
	ErrCodeInvalidConfig     = "INVALID_CONFIG"
	ErrCodeInvalidRegex      = "INVALID_REGEX"
	ErrCodeSSRFBlocked       = "SSRF_BLOCKED"
)

// NewFeedNotFoundError はフィード未解決エラーを生成する。
// HTTPレスポンスには詳細を出さず、ログ・診断用にのみ使用する。
func NewFeedNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeFeedNotFound,
		Message:  "シークレットとスラグに一致するフィードが見つかりません。",
		Category: "config",
		Action:   "フィードURLを再発行するか、設定ファイルのsecretとtitleを確認してください。",
	}
}

// NewCalendarNotFoundError は未登録カレンダー参照エラーを生成する。
func NewCalendarNotFoundError(calendarID string) *APIError {
	return &APIError{
		Code:     ErrCodeCalendarNotFound,
		Message:  fmt.Sprintf("カレンダーが登録されていません: %s", calendarID),
		Category: "config",
		Action:   "設定ファイルのcalendarsセクションにカレンダー定義を追加してください。",
	}
}

// NewCalendarFetchError はカレンダー取得失敗エラーを生成する。
// フィード全体は失敗させず、該当カレンダーのイベントを0件として扱う。
func NewCalendarFetchError(calendarID, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCalendarFetchFail,
		Message:  fmt.Sprintf("カレンダー %s のイベント取得に失敗しました: %s", calendarID, reason),
		Category: "calendar",
		Action:   "上流カレンダーのURLと到達性を確認してください。",
	}
}

// NewICSParseError はICSパース失敗エラーを生成する。
func NewICSParseError(calendarID string) *APIError {
	return &APIError{
		Code:     ErrCodeICSParseFail,
		Message:  fmt.Sprintf("カレンダー %s のICSペイロードを解析できませんでした。", calendarID),
		Category: "calendar",
		Action:   "上流が有効なiCalendarを返しているか確認してください。",
	}
}

// NewInvalidConfigError は設定ファイルの検証エラーを生成する。
func NewInvalidConfigError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidConfig,
		Message:  fmt.Sprintf("設定が不正です: %s", reason),
		Category: "validation",
		Action:   "設定ファイルを修正して再起動してください。",
	}
}

// NewInvalidRegexError はフィードの正規表現オプションの検証エラーを生成する。
func NewInvalidRegexError(field, expr string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRegex,
		Message:  fmt.Sprintf("%s の正規表現をコンパイルできません: %s", field, expr),
		Category: "validation",
		Action:   "Go（RE2）の正規表現構文で書き直してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError(calendarID string) *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  fmt.Sprintf("カレンダー %s のURLはセキュリティポリシーによりブロックされました。", calendarID),
		Category: "validation",
		Action:   "公開されているカレンダーURLを指定してください。プライベートIPへのアクセスは許可されていません。",
	}
}
