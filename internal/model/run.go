package model

import "time"

type Run struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Model     string    `gorm:"size:64;not null;index" json:"model"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
