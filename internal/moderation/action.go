package moderation

import (
	"anonpost/pkg/tgui"
)

// Namespace tags moderation callback data ("mod:<kind>:<ref>").
const Namespace = "mod"

type Kind string

const (
	KindApprove Kind = "approve"
	KindDecline Kind = "decline"
	KindDelete  Kind = "delete"
)

// Action is a moderation decision decoded from callback data: what to
// do and which entity it references (a pending-submission key for
// approve/decline, a published message id for delete). Decoding happens
// once at the dispatch boundary; handlers never parse strings.
type Action struct {
	Kind Kind
	Ref  string
}

func (a Action) Data() string {
	return tgui.Data(Namespace, string(a.Kind), a.Ref)
}

// ParseAction decodes callback data into an Action. It reports ok=false
// for data outside the moderation namespace or with an unknown kind.
func ParseAction(data string) (Action, bool) {
	ns, action, payload, ok := tgui.Parse(data)
	if !ok || ns != Namespace || payload == "" {
		return Action{}, false
	}
	switch Kind(action) {
	case KindApprove, KindDecline, KindDelete:
		return Action{Kind: Kind(action), Ref: payload}, true
	default:
		return Action{}, false
	}
}
