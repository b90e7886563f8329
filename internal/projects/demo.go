package projects

import (
	"time"

	"go.openly.dev/pointy"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

func date(s string) time.Time {
	t, _ := time.Parse(time.DateOnly, s)
	return t
}

func datePtr(s string) *time.Time {
	t := date(s)
	return &t
}

// demoProjects is the dataset shown on a fresh install.
func demoProjects() []entities.Project {
	return []entities.Project{
		{
			ID:               1,
			Name:             "Mangrove Restoration - Sundarbans",
			Organization:     "Green Earth Foundation",
			Location:         "Sundarbans, Bangladesh",
			Description:      "Large-scale mangrove restoration project in the Sundarbans delta",
			Hectares:         150,
			EstimatedCredits: 1200,
			CreditsIssued:    1200,
			Methodology:      entities.MethodologyVCS,
			Status:           entities.ProjectApproved,
			StartDate:        "2024-01-01",
			EndDate:          "2024-12-31",
			DateRegistered:   date("2024-01-15"),
			VerificationDate: datePtr("2024-02-01"),
			SubmittedBy:      "Sarah Johnson",
			VerifiedBy:       pointy.String("Admin System"),
			NGOWalletAddress: "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4",
		},
		{
			ID:               2,
			Name:             "Seagrass Meadow Protection",
			Organization:     "Ocean Conservation Society",
			Location:         "Mediterranean Sea, Spain",
			Description:      "Protection and restoration of seagrass meadows in the Mediterranean",
			Hectares:         75,
			EstimatedCredits: 600,
			CreditsIssued:    600,
			Methodology:      entities.MethodologyGoldStandard,
			Status:           entities.ProjectApproved,
			StartDate:        "2024-01-15",
			EndDate:          "2024-11-30",
			DateRegistered:   date("2024-01-20"),
			VerificationDate: datePtr("2024-02-05"),
			SubmittedBy:      "Dr. Michael Chen",
			VerifiedBy:       pointy.String("Admin System"),
			NGOWalletAddress: "0xAb8483F64d9C6d1EcF9b849Ae677dD3315835cb2",
		},
		{
			ID:               3,
			Name:             "Salt Marsh Restoration",
			Organization:     "Coastal Restoration Alliance",
			Location:         "Chesapeake Bay, USA",
			Description:      "Comprehensive salt marsh restoration in Chesapeake Bay",
			Hectares:         200,
			EstimatedCredits: 1600,
			Methodology:      entities.MethodologyVCS,
			Status:           entities.ProjectPending,
			StartDate:        "2024-02-01",
			EndDate:          "2024-12-31",
			DateRegistered:   date("2024-02-01"),
			SubmittedBy:      "Emma Rodriguez",
			NGOWalletAddress: "0x4B20993Bc481177ec7E8f571ceCaE8A9e22C02db",
		},
		{
			ID:               4,
			Name:             "Kelp Forest Conservation",
			Organization:     "Marine Life Foundation",
			Location:         "California Coast, USA",
			Description:      "Conservation and restoration of kelp forest ecosystems",
			Hectares:         100,
			EstimatedCredits: 800,
			Methodology:      entities.MethodologyCDM,
			Status:           entities.ProjectRejected,
			StartDate:        "2024-01-25",
			EndDate:          "2024-10-31",
			DateRegistered:   date("2024-01-25"),
			VerificationDate: datePtr("2024-02-15"),
			SubmittedBy:      "James Wilson",
			VerifiedBy:       pointy.String("Admin System"),
			RejectionReason:  pointy.String("Insufficient verification documentation"),
			NGOWalletAddress: "0x78731D3Ca6b7E34aC0F824c42a7cC18A495cabaB",
		},
	}
}
