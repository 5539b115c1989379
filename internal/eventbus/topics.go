package eventbus

// Entry lifecycle topics. Payload is an entry.Entry snapshot, Key the entry id.
const (
	TopicEntryCreated   = "entry.created"
	TopicEntryFired     = "entry.fired"
	TopicEntryCompleted = "entry.completed"
	TopicEntryFailed    = "entry.failed"
	TopicEntryCancelled = "entry.cancelled"
	TopicEntrySnoozed   = "entry.snoozed"
	TopicEntryConflict  = "entry.conflict"
)

// Alert renderer commands. One-way; the platform shell subscribes and renders.
const (
	TopicPopupShow        = "alert.popup.show"
	TopicPopupClose       = "alert.popup.close"
	TopicSoundPlay        = "alert.sound.play"
	TopicNotificationShow = "alert.notification.show"
	TopicWindowFlash      = "alert.flash"
)

// TopicAlertAction carries user responses from the shell back to the
// dispatcher. Payload is an alert.Action.
const TopicAlertAction = "alert.action"
