package fsub

import "context"

// MemberStatus is a user's standing in a channel.
type MemberStatus int

const (
	MemberUnknown MemberStatus = iota
	MemberCreator
	MemberAdministrator
	MemberMember
	MemberRestricted
	MemberLeft
	MemberBanned
)

func (s MemberStatus) String() string {
	switch s {
	case MemberCreator:
		return "creator"
	case MemberAdministrator:
		return "administrator"
	case MemberMember:
		return "member"
	case MemberRestricted:
		return "restricted"
	case MemberLeft:
		return "left"
	case MemberBanned:
		return "kicked"
	default:
		return "unknown"
	}
}

// IsMember reports whether the status satisfies a subscription requirement.
func (s MemberStatus) IsMember() bool {
	switch s {
	case MemberCreator, MemberAdministrator, MemberMember, MemberRestricted:
		return true
	default:
		return false
	}
}

// ParseMemberStatus maps a Bot API chat member status. A restricted user
// only counts as restricted while still in the chat; otherwise they have left.
func ParseMemberStatus(status string, isMember bool) MemberStatus {
	switch status {
	case "creator":
		return MemberCreator
	case "administrator":
		return MemberAdministrator
	case "member":
		return MemberMember
	case "restricted":
		if isMember {
			return MemberRestricted
		}
		return MemberLeft
	case "left":
		return MemberLeft
	case "kicked":
		return MemberBanned
	default:
		return MemberUnknown
	}
}

// MembershipChecker looks up a user's status in a channel.
type MembershipChecker interface {
	Membership(ctx context.Context, channelID, userID int64) (MemberStatus, error)
}
