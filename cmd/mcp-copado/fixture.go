package main

// Fixture is the data set served in mock mode.
type Fixture struct {
	UserStories  []UserStory
	Promotions   []Promotion
	Environments []string
}

// DefaultFixture returns a fresh copy of the demo data set.
func DefaultFixture() Fixture {
	return Fixture{
		UserStories: []UserStory{
			{
				ID:          "US-001",
				Name:        "US-0000001",
				Title:       "Implement Login Page",
				Status:      "In Progress",
				Priority:    "High",
				Description: "Create a responsive login page with OAuth support.",
				Project:     "Copado-Demo",
			},
			{
				ID:          "US-002",
				Name:        "US-0000002",
				Title:       "Setup CI/CD Pipeline",
				Status:      "Open",
				Priority:    "Critical",
				Description: "Configure Jenkins pipeline for automated testing.",
				Project:     "Copado-Demo",
			},
			{
				ID:          "US-003",
				Name:        "US-0000003",
				Title:       "Fix Navigation Bug",
				Status:      "Completed",
				Priority:    "Medium",
				Description: "Fix the issue where the menu doesn't collapse on mobile.",
				Project:     "Copado-Demo",
			},
		},
		Promotions: []Promotion{
			{
				ID:          "P-1001",
				SourceEnv:   "Dev",
				TargetEnv:   "UAT",
				Status:      StatusCompleted,
				UserStories: []string{"US-003"},
				CreatedAt:   "2023-10-26T10:00:00Z",
			},
		},
		Environments: []string{"Dev", "UAT", "Staging", "Prod"},
	}
}
