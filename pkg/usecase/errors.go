package usecase

// Context keys for error values
const (
	LimitKey = "limit"
)
