package gate

import (
	"context"

	kit "anonpost/internal/transport"
	"anonpost/pkg/logx"
)

// Gate checks a user's membership in the target channel before a
// submission is allowed.
type Gate struct {
	gw        kit.Gateway
	channelID int64
	log       logx.Logger
}

func New(gw kit.Gateway, channelID int64, log logx.Logger) *Gate {
	return &Gate{gw: gw, channelID: channelID, log: log}
}

// IsMember reports whether userID belongs to the channel. Any gateway
// failure counts as "not a member": the caller needs a binary
// allow/deny and denying on error is the safe side.
func (g *Gate) IsMember(ctx context.Context, userID int64) bool {
	status, err := g.gw.MemberStatus(ctx, g.channelID, userID)
	if err != nil {
		g.log.Debug("membership lookup failed, denying",
			logx.Int64("user_id", userID), logx.Err(err))
		return false
	}
	switch status {
	case kit.MemberCreator, kit.MemberAdministrator, kit.MemberMember:
		return true
	default:
		return false
	}
}
