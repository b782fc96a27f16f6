// Package gate はアクション実行前の認証・プロフィール完了チェックを提供する。
package gate

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/hitoshi/carelink/internal/model"
)

// Disposition はゲート評価の結果。
type Disposition string

const (
	// Allow はアクションをそのまま実行してよい。
	Allow Disposition = "allow"
	// RedirectToAuth は未ログインのため認証画面へ遷移させる。
	RedirectToAuth Disposition = "redirect_to_auth"
	// RedirectToProfileCompletion はプロフィール未完了のため登録画面へ遷移させる。
	RedirectToProfileCompletion Disposition = "redirect_to_profile_completion"
)

// NavigationState はプロフィール登録画面へ引き渡す遷移状態。
// 保存はせず、遷移先のページがそのまま受け取る。
type NavigationState struct {
	ReturnPath string       `json:"return_path"`
	Action     model.Action `json:"action"`
}

// Decision はゲート評価の結果と遷移先。
type Decision struct {
	Disposition Disposition
	Location    string
	State       *NavigationState
}

// Evaluate はアクションの実行可否を判定する純粋関数。
//   - セッションなし → RedirectToAuth
//   - セッションあり、プロフィール未完了、かつ種別が完了を要求 → RedirectToProfileCompletion
//   - それ以外 → Allow
//
// 副作用はなく、保留アクションの保存はEvaluator.Evaluateが行う。
func Evaluate(action model.Action, session *model.Session, profileComplete bool, policy *Policy) Decision {
	if session == nil {
		return Decision{
			Disposition: RedirectToAuth,
			Location:    authLocation(policy.AuthPath, action.ReturnPath),
		}
	}
	if !profileComplete && policy.RequiresProfile(action.Kind) {
		return Decision{
			Disposition: RedirectToProfileCompletion,
			Location:    policy.CompletionPathFor(session.Role),
			State: &NavigationState{
				ReturnPath: action.ReturnPath,
				Action:     action,
			},
		}
	}
	return Decision{Disposition: Allow}
}

func authLocation(authPath, returnPath string) string {
	if returnPath == "" {
		return authPath
	}
	u, err := url.Parse(authPath)
	if err != nil {
		return authPath
	}
	q := u.Query()
	q.Set("return_to", returnPath)
	u.RawQuery = q.Encode()
	return u.String()
}

// IntentWriter は保留アクションの書き込みインターフェース。
type IntentWriter interface {
	SetPendingIntent(ctx context.Context, clientID string, p model.PendingIntent) model.PendingIntent
}

// Metrics はゲート評価結果の計測インターフェース。
type Metrics interface {
	RecordGateDecision(disposition string)
}

// Evaluator はポリシーと保留アクションストアを束ねたゲート評価器。
type Evaluator struct {
	policy  *Policy
	intents IntentWriter
	metrics Metrics
	logger  *slog.Logger
}

// NewEvaluator はEvaluatorを生成する。metricsはnilでもよい。
func NewEvaluator(policy *Policy, intents IntentWriter, metrics Metrics, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		policy:  policy,
		intents: intents,
		metrics: metrics,
		logger:  logger,
	}
}

// Evaluate はアクションを評価する。
// RedirectToAuthの場合は、遷移先を返す前に保留アクションを保存する（同じ種別は上書き）。
// 保存に失敗しても評価結果は変わらない。
func (e *Evaluator) Evaluate(ctx context.Context, clientID string, action model.Action, session *model.Session, profileComplete bool) Decision {
	decision := Evaluate(action, session, profileComplete, e.policy)

	if decision.Disposition == RedirectToAuth {
		e.intents.SetPendingIntent(ctx, clientID, model.PendingIntent{
			Kind:       action.Kind,
			TargetID:   action.TargetID,
			ReturnPath: action.ReturnPath,
			Payload:    action.Payload,
		})
	}

	if e.metrics != nil {
		e.metrics.RecordGateDecision(string(decision.Disposition))
	}
	e.logger.Debug("gate evaluated",
		slog.String("client_id", clientID),
		slog.String("kind", string(action.Kind)),
		slog.String("disposition", string(decision.Disposition)),
	)
	return decision
}
