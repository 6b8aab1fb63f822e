package protocol

// ActionType and EventType are enumerated namespaces whose wire values are
// platform-native strings (OneBot V11's action/event names). Each is split
// into Group/Friend/Bot(/Message) subsets, matching the original framework's
// grouping, so callers write protocol.ActionType(protocol.GroupKick) rather
// than a single flat namespace.

// ActionType is the wire value of a proactive action (ActionRequest.Type).
type ActionType string

// Message actions.
const (
	MessageSendMsg       ActionType = "send_msg"
	MessageDeleteMsg     ActionType = "delete_msg"
	MessageGetMsg        ActionType = "get_msg"
	MessageGetForwardMsg ActionType = "get_forward_msg"
)

// Group actions.
const (
	GroupKick            ActionType = "set_group_kick"
	GroupBan             ActionType = "set_group_ban"
	GroupAnonymousBan    ActionType = "set_group_anonymous_ban"
	GroupWholeBan        ActionType = "set_group_whole_ban"
	GroupSetAdmin        ActionType = "set_group_admin"
	GroupSetCard         ActionType = "set_group_card"
	GroupSetName         ActionType = "set_group_name"
	GroupLeave           ActionType = "set_group_leave"
	GroupSetSpecialTitle ActionType = "set_group_special_title"
	GroupAddRequest      ActionType = "set_group_add_request"
	GroupGetInfo         ActionType = "get_group_info"
	GroupGetMemberList   ActionType = "get_group_member_list"
	GroupGetMemberInfo   ActionType = "get_group_member_info"
)

// Friend actions.
const (
	FriendSendLike   ActionType = "send_like"
	FriendAddRequest ActionType = "set_friend_add_request"
	FriendGetList    ActionType = "get_friend_list"
)

// Bot actions.
const (
	BotGetLoginInfo    ActionType = "get_login_info"
	BotGetStrangerInfo ActionType = "get_stranger_info"
	BotGetFriendList   ActionType = "get_friend_list"
	BotGetGroupList    ActionType = "get_group_list"
	BotGetCookies      ActionType = "get_cookies"
	BotGetCsrfToken    ActionType = "get_csrf_token"
	BotGetCredentials  ActionType = "get_credentials"
	BotGetRecord       ActionType = "get_record"
	BotGetImage        ActionType = "get_image"
	BotCanSendImage    ActionType = "can_send_image"
	BotCanSendRecord   ActionType = "can_send_record"
	BotGetStatus       ActionType = "get_status"
	BotGetVersion      ActionType = "get_version"
	BotSetRestart      ActionType = "set_restart"
	BotCleanCache      ActionType = "clean_cache"
)

// EventType is the wire value of a platform-native notice type
// (NoticeEvent.Type).
type EventType string

// Group notice types.
const (
	GroupUpload         EventType = "group_upload"
	GroupSetAdminNotice EventType = "set_group_admin"
	GroupUnsetAdmin     EventType = "unset_group_admin"
	GroupMemberDecrease EventType = "group_decrease"
	GroupMemberIncrease EventType = "group_increase"
	GroupBanNotice      EventType = "group_ban"
	GroupLiftBan        EventType = "group_lift_ban"
	GroupRecall         EventType = "group_recall"
	GroupPoke           EventType = "group_poke"
	GroupHonor          EventType = "group_honor"
	GroupAddRequestEvt  EventType = "group_add_request"
	GroupInviteRequest  EventType = "group_invite_request"
)

// Friend notice types.
const (
	FriendAdd           EventType = "friend_add"
	FriendRecall        EventType = "friend_recall"
	FriendAddRequestEvt EventType = "friend_add_request"
)

// Bot notice types.
const (
	BotLifecycle EventType = "lifecycle"
	BotHeartbeat EventType = "heartbeat"
)
