package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackMenu          CallbackAction = "menu"
	CallbackAccounts      CallbackAction = "accs"  // Page = page number
	CallbackAccount       CallbackAction = "acc"   // ID = account id
	CallbackAccountStart  CallbackAction = "accst" // ID = account id
	CallbackAccountToggle CallbackAction = "acctg" // ID = account id
	CallbackAccountDelete CallbackAction = "accdl" // ID = account id
	CallbackTasks         CallbackAction = "tasks" // Page = page number
	CallbackTask          CallbackAction = "task"  // ID = task id
	CallbackTaskLog       CallbackAction = "tlog"  // ID = task id
	CallbackInbox         CallbackAction = "inbox" // Page = page number
	CallbackIncoming      CallbackAction = "in"    // ID = incoming message id
	CallbackReply         CallbackAction = "rep"   // ID = incoming message id
	CallbackHistory       CallbackAction = "hist"  // ID = incoming message id
	CallbackSettings      CallbackAction = "set"
	CallbackAddAccount    CallbackAction = "add"
	CallbackCancel        CallbackAction = "cncl"
	CallbackHide          CallbackAction = "hide"
	CallbackNoop          CallbackAction = "noop" // page counter button
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action CallbackAction `json:"a"`
	ID     int64          `json:"i,omitempty"`
	Page   int            `json:"p,omitempty"`
}
