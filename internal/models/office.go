package models

type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SubCategory struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
	Name       string `json:"name"`
}

// CategoryTree is the kiosk listing of categories with their subcategories.
type CategoryTree struct {
	Category
	SubCategories []SubCategory `json:"sub_categories"`
}

type Window struct {
	ID     string `json:"id"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

type WindowServing struct {
	WindowID     string `json:"window_id"`
	WindowNumber int    `json:"window_number"`
	QueueNumber  string `json:"queue_number"`
}

type QueueSummary struct {
	Date       string          `json:"date"`
	Waiting    int             `json:"waiting"`
	Serving    int             `json:"serving"`
	Served     int             `json:"served"`
	Skipped    int             `json:"skipped"`
	NowServing []WindowServing `json:"now_serving"`
}
