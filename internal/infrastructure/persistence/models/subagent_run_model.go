package models

import "time"

// SubAgentRunModel is the durable row for one registry.SubAgentRun,
// matching the columns original_source/core/registry.py creates in
// its subagent_runs table.
type SubAgentRunModel struct {
	RunID           string `gorm:"primaryKey;size:64;column:run_id"`
	ParentSessionID string `gorm:"size:64;index;column:parent_session_id"`
	Task            string `gorm:"type:text"`
	Label           string `gorm:"size:255"`
	Status          string `gorm:"size:16"`
	Result          string `gorm:"type:text"`
	Error           string `gorm:"type:text"`
	Model           string `gorm:"size:64"`
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// TableName 指定表名
func (SubAgentRunModel) TableName() string {
	return "subagent_runs"
}
