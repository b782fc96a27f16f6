package action

import (
	"context"
	"encoding/json"

	"github.com/hitoshi/carelink/internal/contact"
	"github.com/hitoshi/carelink/internal/model"
	"github.com/hitoshi/carelink/internal/profile"
	"github.com/hitoshi/carelink/internal/story"
	"github.com/hitoshi/carelink/internal/vote"
)

// ユーザーへ表示するメッセージ。
const (
	ProfileSavedMessage     = "Your profile has been saved."
	SubscriptionOpenMessage = "Your subscription is active."
)

// Voter は投票サービス。
type Voter interface {
	Vote(ctx context.Context, featureID, userID string) (*model.FeatureWithVotes, error)
}

// StorySharer は体験談サービス。
type StorySharer interface {
	Share(ctx context.Context, userID string, in story.ShareInput) (*model.Story, error)
}

// Contactor は介護者への連絡サービス。
type Contactor interface {
	SendMessage(ctx context.Context, senderID, recipientID, body string) (*model.Message, error)
	RequestBooking(ctx context.Context, requesterID, professionalID, note string) (*model.BookingRequest, error)
}

// ProfileUpdater はプロフィールサービス。
type ProfileUpdater interface {
	Update(ctx context.Context, userID string, patch model.ProfilePatch) (*profile.UpdateResult, error)
}

// Subscriber はプラン契約サービス。
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, plan model.Plan) (*model.PlanSubscription, error)
}

// Services はハンドラーが使うドメインサービス。nilのサービスの種別は登録しない。
type Services struct {
	Votes         Voter
	Stories       StorySharer
	Contacts      Contactor
	Profiles      ProfileUpdater
	Subscriptions Subscriber
}

// messagePayload はmessageアクションのペイロード。宛先はTargetID。
type messagePayload struct {
	Body string `json:"body"`
}

// bookingPayload はbookingアクションのペイロード。介護者はTargetID。
type bookingPayload struct {
	Note string `json:"note"`
}

// RegisterDefaults は各種別のハンドラーを登録する。
//   - vote: TargetIDは機能リクエストID
//   - story: Payloadは{title, body}
//   - message: TargetIDは介護者のユーザーID、Payloadは{body}
//   - booking: TargetIDは介護者のユーザーID、Payloadは{note}
//   - profile_update: Payloadはプロフィールの部分更新
//   - subscribe: TargetIDはプラン名
func RegisterDefaults(r *Registry, s Services) {
	if s.Votes != nil {
		r.Register(model.ActionVote, func(ctx context.Context, inv Invocation) (Result, error) {
			f, err := s.Votes.Vote(ctx, inv.Action.TargetID, inv.UserID)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: vote.ThanksMessage, Data: f}, nil
		})
	}

	if s.Stories != nil {
		r.Register(model.ActionStory, func(ctx context.Context, inv Invocation) (Result, error) {
			var in story.ShareInput
			if err := decodePayload(inv.Action.Payload, &in); err != nil {
				return Result{}, err
			}
			st, err := s.Stories.Share(ctx, inv.UserID, in)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: story.SharedMessage, Data: st}, nil
		})
	}

	if s.Contacts != nil {
		r.Register(model.ActionMessage, func(ctx context.Context, inv Invocation) (Result, error) {
			var p messagePayload
			if err := decodePayload(inv.Action.Payload, &p); err != nil {
				return Result{}, err
			}
			msg, err := s.Contacts.SendMessage(ctx, inv.UserID, inv.Action.TargetID, p.Body)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: contact.MessageSentMessage, Data: msg}, nil
		})
		r.Register(model.ActionBooking, func(ctx context.Context, inv Invocation) (Result, error) {
			var p bookingPayload
			if err := decodePayload(inv.Action.Payload, &p); err != nil {
				return Result{}, err
			}
			b, err := s.Contacts.RequestBooking(ctx, inv.UserID, inv.Action.TargetID, p.Note)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: contact.BookingRequestedMessage, Data: b}, nil
		})
	}

	if s.Profiles != nil {
		r.Register(model.ActionProfileUpdate, func(ctx context.Context, inv Invocation) (Result, error) {
			var patch model.ProfilePatch
			if err := decodePayload(inv.Action.Payload, &patch); err != nil {
				return Result{}, err
			}
			res, err := s.Profiles.Update(ctx, inv.UserID, patch)
			if err != nil {
				return Result{}, err
			}
			return Result{Message: ProfileSavedMessage, Data: res}, nil
		})
	}

	if s.Subscriptions != nil {
		r.Register(model.ActionSubscribe, func(ctx context.Context, inv Invocation) (Result, error) {
			sub, err := s.Subscriptions.Subscribe(ctx, inv.UserID, model.Plan(inv.Action.TargetID))
			if err != nil {
				return Result{}, err
			}
			return Result{Message: SubscriptionOpenMessage, Data: sub}, nil
		})
	}
}

// decodePayload はペイロードをoutにデコードする。空の場合はoutを変更しない。
func decodePayload(raw json.RawMessage, out any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return model.NewInvalidRequestError("invalid action payload")
	}
	return nil
}
