package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProjectStatus is the verification state of a restoration project.
type ProjectStatus string

const (
	ProjectPending  ProjectStatus = "pending"
	ProjectApproved ProjectStatus = "approved"
	ProjectRejected ProjectStatus = "rejected"
)

// Methodology is the carbon accounting standard a project is verified against.
type Methodology string

const (
	MethodologyVCS          Methodology = "VCS"
	MethodologyGoldStandard Methodology = "Gold Standard"
	MethodologyCDM          Methodology = "CDM"
	MethodologyOther        Methodology = "Other"
)

// Valid reports whether m is one of the known methodologies.
func (m Methodology) Valid() bool {
	switch m {
	case MethodologyVCS, MethodologyGoldStandard, MethodologyCDM, MethodologyOther:
		return true
	}
	return false
}

// Project is a coastal restoration project registered by an NGO.
type Project struct {
	ID               int           `json:"id"`
	Name             string        `json:"name"`
	Organization     string        `json:"organization"`
	Location         string        `json:"location"`
	Description      string        `json:"description,omitempty"`
	Hectares         int           `json:"hectares"`
	EstimatedCredits int           `json:"estimatedCredits"`
	CreditsIssued    int           `json:"creditsIssued"`
	Methodology      Methodology   `json:"methodology"`
	Status           ProjectStatus `json:"status"`
	StartDate        string        `json:"startDate,omitempty"`
	EndDate          string        `json:"endDate,omitempty"`
	DateRegistered   time.Time     `json:"dateRegistered"`
	VerificationDate *time.Time    `json:"verificationDate"`
	SubmittedBy      string        `json:"submittedBy"`
	VerifiedBy       *string       `json:"verifiedBy"`
	RejectionReason  *string       `json:"rejectionReason,omitempty"`
	NGOWalletAddress string        `json:"ngoWalletAddress"`
	Imagery          []string      `json:"imagery,omitempty"`
	RegistrationTx   string        `json:"registrationTxHash,omitempty"`
}

// ProjectDraft is what an NGO submits; the store fills in lifecycle fields.
type ProjectDraft struct {
	Name             string      `json:"name"`
	Organization     string      `json:"organization"`
	Location         string      `json:"location"`
	Description      string      `json:"description"`
	Hectares         int         `json:"hectares"`
	EstimatedCredits int         `json:"estimatedCredits"`
	Methodology      Methodology `json:"methodology"`
	StartDate        string      `json:"startDate"`
	EndDate          string      `json:"endDate"`
	NGOWalletAddress any         `json:"ngoWalletAddress"`
	Imagery          []string    `json:"imagery"`
	RegistrationTx   string      `json:"registrationTxHash"`
}

// ProjectStatistics summarises the registry.
type ProjectStatistics struct {
	TotalProjects      int `json:"totalProjects"`
	ApprovedProjects   int `json:"approvedProjects"`
	PendingProjects    int `json:"pendingProjects"`
	RejectedProjects   int `json:"rejectedProjects"`
	TotalHectares      int `json:"totalHectares"`
	TotalCreditsIssued int `json:"totalCreditsIssued"`
}

// CreditListing is an approved project offered on the marketplace.
type CreditListing struct {
	ProjectID           int             `json:"projectId"`
	ProjectName         string          `json:"projectName"`
	Organization        string          `json:"organization"`
	Location            string          `json:"location"`
	Hectares            int             `json:"hectares"`
	Methodology         Methodology     `json:"methodology"`
	Vintage             string          `json:"vintage"`
	CreditsAvailable    int             `json:"creditsAvailable"`
	CreditsSold         int             `json:"creditsSold"`
	PricePerCredit      decimal.Decimal `json:"pricePerCredit"`
	PricePerCreditUSD   decimal.Decimal `json:"pricePerCreditUSD"`
	CarbonSequestration int             `json:"carbonSequestration"`
	VerificationDate    *time.Time      `json:"verificationDate"`
	NGOWalletAddress    string          `json:"ngoWalletAddress"`
}

// Quote is the price of a purchase of credits from one listing.
type Quote struct {
	ProjectID      int             `json:"projectId"`
	Credits        int             `json:"credits"`
	PricePerCredit decimal.Decimal `json:"pricePerCredit"`
	TotalCost      decimal.Decimal `json:"totalCost"`
	TotalCostUSD   decimal.Decimal `json:"totalCostUSD"`
}
