package entities

import "time"

// Badge is the verifiable record produced when credits are retired.
type Badge struct {
	ID              string    `json:"id"                db:"id"`
	UserID          string    `json:"userId"            db:"user_id"`
	CompanyName     string    `json:"companyName"       db:"company_name"`
	ProjectName     string    `json:"projectName"       db:"project_name"`
	CreditsRetired  int       `json:"creditsRetired"    db:"credits_retired"`
	TransactionHash string    `json:"transactionHash"   db:"transaction_hash"`
	RetirementDate  time.Time `json:"retirementDate"    db:"retirement_date"`
	Verified        bool      `json:"verified"          db:"verified"`
	Status          string    `json:"status"            db:"status"`
	CreatedAt       time.Time `json:"createdAt"         db:"created_at"`
}

// UserStats aggregates a user's retirements.
type UserStats struct {
	UserID              string    `json:"userId"              db:"user_id"`
	TotalCreditsRetired int64     `json:"totalCreditsRetired" db:"total_credits_retired"`
	TotalRetirements    int64     `json:"totalRetirements"    db:"total_retirements"`
	LastRetirementAt    time.Time `json:"lastRetirementAt"    db:"last_retirement_at"`
}

// ProjectStats aggregates retirements against a project.
type ProjectStats struct {
	ProjectKey          string    `json:"projectKey"          db:"project_key"`
	ProjectName         string    `json:"projectName"         db:"project_name"`
	TotalCreditsRetired int64     `json:"totalCreditsRetired" db:"total_credits_retired"`
	TotalRetirements    int64     `json:"totalRetirements"    db:"total_retirements"`
	LastRetirementAt    time.Time `json:"lastRetirementAt"    db:"last_retirement_at"`
}

// RetirementStats is the answer to a filtered statistics query.
type RetirementStats struct {
	TotalRetirements            int64   `json:"totalRetirements"`
	TotalCreditsRetired         int64   `json:"totalCreditsRetired"`
	UniqueUsers                 int64   `json:"uniqueUsers"`
	UniqueProjects              int64   `json:"uniqueProjects"`
	AverageCreditsPerRetirement float64 `json:"averageCreditsPerRetirement"`
	Retirements                 []Badge `json:"retirements"`
}

// BadgeStats summarises one user's badges.
type BadgeStats struct {
	TotalBadges         int64      `json:"totalBadges"`
	TotalCreditsRetired int64      `json:"totalCreditsRetired"`
	UniqueProjects      int64      `json:"uniqueProjects"`
	FirstBadgeDate      *time.Time `json:"firstBadgeDate"`
	LatestBadgeDate     *time.Time `json:"latestBadgeDate"`
}

// BadgeFilter narrows a badge listing. Zero fields match everything.
type BadgeFilter struct {
	UserID      string
	ProjectName string
	TxHash      string
	Since       time.Time
	Limit       uint64
}
