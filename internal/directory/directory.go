package directory

import (
	"fmt"

	"chatbi/internal/models"
	"gorm.io/gorm"
)

// Directory resolves recipient references against the identity store. The
// directory is owned externally; the core only reads it.
type Directory interface {
	// ResolveGroup returns the user members of a group. An unknown group
	// resolves to zero members, not an error.
	ResolveGroup(groupID string) ([]models.Recipient, error)
	// ListRecipients returns all addressable recipients: users first, then
	// groups with their member counts.
	ListRecipients() ([]models.Recipient, error)
}

// GormDirectory reads users and groups from the local database.
type GormDirectory struct {
	db *gorm.DB
}

func NewGormDirectory(db *gorm.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

func (d *GormDirectory) ResolveGroup(groupID string) ([]models.Recipient, error) {
	var users []models.DirectoryUser
	err := d.db.
		Joins("JOIN group_members ON group_members.user_id = directory_users.id").
		Where("group_members.group_id = ?", groupID).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to resolve group %s: %v", groupID, err)
	}

	members := make([]models.Recipient, 0, len(users))
	for _, u := range users {
		members = append(members, models.Recipient{
			ID:    u.ID,
			Type:  models.RecipientTypeUser,
			Name:  u.Name,
			Email: u.Email,
		})
	}
	return members, nil
}

func (d *GormDirectory) ListRecipients() ([]models.Recipient, error) {
	var users []models.DirectoryUser
	if err := d.db.Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %v", err)
	}

	var groups []models.RecipientGroup
	if err := d.db.Order("id").Find(&groups).Error; err != nil {
		return nil, fmt.Errorf("failed to list groups: %v", err)
	}

	out := make([]models.Recipient, 0, len(users)+len(groups))
	for _, u := range users {
		out = append(out, models.Recipient{
			ID:    u.ID,
			Type:  models.RecipientTypeUser,
			Name:  u.Name,
			Email: u.Email,
		})
	}
	for _, g := range groups {
		var count int64
		if err := d.db.Model(&models.GroupMember{}).Where("group_id = ?", g.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count group members: %v", err)
		}
		out = append(out, models.Recipient{
			ID:          g.ID,
			Type:        models.RecipientTypeGroup,
			Name:        g.Name,
			MemberCount: int(count),
		})
	}
	return out, nil
}
