package model

import (
	"time"

	"gorm.io/datatypes"
)

// Quest is an active quest on a user's board. Completing a quest moves the
// row into CompletedQuest; the two tables are disjoint partitions.
type Quest struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string         `gorm:"index:idx_quest_user;size:36;not null" json:"user_id"`
	Title            string         `gorm:"size:256;not null" json:"title"`
	Narrative        string         `gorm:"type:text" json:"narrative"`
	XP               int            `gorm:"not null" json:"xp"`
	RecommendedClass string         `gorm:"size:32" json:"recommended_class,omitempty"`
	Subtasks         datatypes.JSON `json:"subtasks,omitempty"` // ["step one", ...]
	IsDaily          bool           `gorm:"default:false" json:"is_daily"`
	CreatedAt        time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// CompletedQuest is the completed-collection copy of a Quest. QuestID keeps
// the original active-row ID so a move stays traceable.
type CompletedQuest struct {
	ID               int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestID          int64          `gorm:"index" json:"quest_id"`
	UserID           string         `gorm:"index:idx_done_user;size:36;not null" json:"user_id"`
	Title            string         `gorm:"size:256;not null" json:"title"`
	Narrative        string         `gorm:"type:text" json:"narrative"`
	XP               int            `gorm:"not null" json:"xp"`
	RecommendedClass string         `gorm:"size:32" json:"recommended_class,omitempty"`
	Subtasks         datatypes.JSON `json:"subtasks,omitempty"`
	IsDaily          bool           `gorm:"default:false" json:"is_daily"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	CompletedAt      time.Time      `gorm:"autoCreateTime;index" json:"completed_at"`
}
