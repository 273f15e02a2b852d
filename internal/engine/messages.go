package engine

// User-facing notification text shared by the engine components. The bot
// glue renders richer menus; these are the lines the engine itself owes
// the two parties during a conversation.
const (
	MsgOtherPartyEnded    = "The other party has ended the conversation."
	MsgConversationEnded  = "You have ended the conversation."
	MsgConversationDone   = "This conversation is complete. Please rate the other party."
	MsgStillSearching     = "Still searching for a fulfiller. Hang tight!"
	MsgAwaitingOther      = "Noted! Waiting for the other party to confirm completion."
	MsgCounterpartConfirm = "The other party marked this request as complete. Send /complete to agree."
	MsgBothConfirmed      = "Request complete! Thanks for using Dabao4Me."
	MsgRatePrompt         = "How would you rate your interaction with this user?"
)
