package models

// NotificationKind selects the template used for an outbound notification.
type NotificationKind string

const (
	NotificationMissionPublished      NotificationKind = "MISSION_PUBLISHED"
	NotificationReviewGraded          NotificationKind = "REVIEW_GRADED"
	NotificationSubscriptionActivated NotificationKind = "SUBSCRIPTION_ACTIVATED"
)

// Notification is a rendered outbound message for one recipient.
type Notification struct {
	Kind           NotificationKind
	RecipientName  string
	RecipientEmail string
	RecipientPhone string
	Subject        string
	TextBody       string
	HTMLBody       string
	WhatsAppBody   string
}
