package directory

import (
	"fmt"

	"chatbi/internal/models"
	"gorm.io/gorm"
)

// Seed installs the default directory dataset when the directory is empty.
// In production the directory is synced from an external identity provider;
// the seed keeps a fresh install usable.
func Seed(db *gorm.DB) error {
	var count int64
	if err := db.Model(&models.DirectoryUser{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count directory users: %v", err)
	}
	if count > 0 {
		return nil
	}

	users := []models.DirectoryUser{
		{ID: "u1", Name: "John Smith", Email: "john.smith@company.com"},
		{ID: "u2", Name: "Sarah Johnson", Email: "sarah.johnson@company.com"},
		{ID: "u3", Name: "Michael Chen", Email: "michael.chen@company.com"},
		{ID: "u4", Name: "Emily Davis", Email: "emily.davis@company.com"},
		{ID: "u5", Name: "Robert Wilson", Email: "robert.wilson@company.com"},
		{ID: "u6", Name: "Lisa Anderson", Email: "lisa.anderson@company.com"},
	}
	groups := []models.RecipientGroup{
		{ID: "g1", Name: "Executive Team"},
		{ID: "g2", Name: "Sales Team"},
		{ID: "g3", Name: "Marketing Team"},
	}
	members := []models.GroupMember{
		{GroupID: "g1", UserID: "u1"},
		{GroupID: "g1", UserID: "u2"},
		{GroupID: "g1", UserID: "u5"},
		{GroupID: "g2", UserID: "u3"},
		{GroupID: "g2", UserID: "u4"},
		{GroupID: "g3", UserID: "u4"},
		{GroupID: "g3", UserID: "u6"},
	}

	if err := db.Create(&users).Error; err != nil {
		return fmt.Errorf("failed to seed users: %v", err)
	}
	if err := db.Create(&groups).Error; err != nil {
		return fmt.Errorf("failed to seed groups: %v", err)
	}
	if err := db.Create(&members).Error; err != nil {
		return fmt.Errorf("failed to seed group members: %v", err)
	}
	return nil
}
