package models

type RecipientType string

const (
	RecipientTypeUser  RecipientType = "user"
	RecipientTypeGroup RecipientType = "group"
)

// Recipient is a lightweight reference into the directory. It is stored
// embedded in schedules (pre-expansion) and carries just enough identity
// data for display and delivery; the directory remains authoritative.
type Recipient struct {
	ID          string        `json:"id"`
	Type        RecipientType `json:"type"`
	Name        string        `json:"name"`
	Email       string        `json:"email,omitempty"`
	MemberCount int           `json:"memberCount,omitempty"`
}

func (r Recipient) IsGroup() bool {
	return r.Type == RecipientTypeGroup
}

// DirectoryUser is a directory row for an individual user. Directory ids are
// external identifiers, not database-assigned.
type DirectoryUser struct {
	ID    string `json:"id" gorm:"primaryKey"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// RecipientGroup is a named set of directory users. Groups contain users
// only; nesting is not supported.
type RecipientGroup struct {
	ID   string `json:"id" gorm:"primaryKey"`
	Name string `json:"name"`
}

// GroupMember links a user into a group.
type GroupMember struct {
	GroupID string `json:"groupId" gorm:"primaryKey"`
	UserID  string `json:"userId" gorm:"primaryKey"`
}
