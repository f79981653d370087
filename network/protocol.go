package network

// 消息 ID。请求和对应的回复使用同一个 ID。
const (
	MsgTypeHeartbeat = 1

	// 大厅
	MsgTypeCreateLobby     = 101
	MsgTypeJoinLobby       = 102
	MsgTypeRejoin          = 103
	MsgTypeKickPlayer      = 104
	MsgTypeUpdateSettings  = 105
	MsgTypeStartGame       = 106
	MsgTypeResetLobby      = 107
	MsgTypeTriggerIntro    = 108
	MsgTypeTriggerSabotage = 109
	MsgTypeResolveSabotage = 110
	MsgTypePublicInfo      = 111

	// 游戏
	MsgTypeReportBody     = 201
	MsgTypeCallEmergency  = 202
	MsgTypeCompleteTask   = 203
	MsgTypeEliminate      = 204
	MsgTypeCastVote       = 205
	MsgTypeSkipDiscussion = 206
	MsgTypeEndMeeting     = 207
	MsgTypeResumeGame     = 208

	// 服务器推送
	MsgTypeLobbySnapshot = 301
	MsgTypeError         = 399
)

// HostOnly reports whether msgID may only be sent by the lobby host.
func HostOnly(msgID uint16) bool {
	switch msgID {
	case MsgTypeKickPlayer, MsgTypeUpdateSettings, MsgTypeStartGame, MsgTypeResetLobby,
		MsgTypeTriggerIntro, MsgTypeResolveSabotage,
		MsgTypeSkipDiscussion, MsgTypeEndMeeting, MsgTypeResumeGame:
		return true
	}
	return false
}
