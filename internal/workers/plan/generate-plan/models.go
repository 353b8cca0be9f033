// internal/workers/plan/generate-plan/models.go
package generateplan

type Input struct {
	UserInput string `json:"userInput"`
}

type Output struct {
	GeneratedPlan string `json:"generatedPlan"`
	RawPlan       string `json:"rawPlan"`
	HasPlan       bool   `json:"hasPlan"`
}
