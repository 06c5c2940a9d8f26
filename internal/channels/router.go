package channels

// SessionID maps a message to its conversation session: one persistent
// session per DM user, one per channel otherwise.
func SessionID(msg Inbound) string {
	if msg.IsDM {
		return "dm-" + msg.SenderID
	}
	return "channel-" + msg.ChatID
}
