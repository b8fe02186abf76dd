package models

import (
	"time"

	"github.com/google/uuid"
)

// GalleryItem references a finished artifact in the user's library. One item
// is appended per completed task, inside the settlement transaction.
type GalleryItem struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	TaskID    uuid.UUID `json:"task_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	FileURL   string    `json:"file_url"`
	CreatedAt time.Time `json:"created_at"`
}
