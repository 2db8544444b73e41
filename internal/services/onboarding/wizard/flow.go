package wizard

import "github.com/emberline/threshold/internal/services/onboarding/validate"

// Step is one question in a flow. Steps are immutable once a flow is
// constructed.
type Step struct {
	Field   string
	Prompt  string
	Kind    validate.Kind
	Choices []string
}

// Flow is an ordered list of steps plus the hand-off metadata used when
// the final answer is committed.
type Flow struct {
	Name string
	// Intro, when set, is revealed once before step 0. It is not a step
	// and does not consume an index.
	Intro string
	Steps []Step
	// IdentityField names the answer that keys all persisted records.
	IdentityField string
	// Destination is passed to the navigator when the flow completes.
	Destination string
}

// TalentFlow returns the default onboarding questionnaire shown to
// individual users before the socials screen.
func TalentFlow() Flow {
	return Flow{
		Name:          "talent",
		IdentityField: "email",
		Destination:   "socials",
		Steps: []Step{
			{Field: "email", Prompt: "What's your email address?", Kind: validate.KindEmail},
			{Field: "name", Prompt: "What's your name?", Kind: validate.KindName},
			{
				Field:  "domain",
				Prompt: "Select your professional domain",
				Kind:   validate.KindSingleChoice,
				Choices: []string{
					"Tech", "Marketing", "Sales", "Design", "Finance",
					"Healthcare", "Education", "Gaming", "Content Creation", "Data Science",
				},
			},
		},
	}
}

// CompanyFlow returns the company registration questionnaire.
func CompanyFlow() Flow {
	return Flow{
		Name:          "company",
		Intro:         "Let's set up your company profile",
		IdentityField: "company_name",
		Destination:   "company-dashboard",
		Steps: []Step{
			{Field: "company_name", Prompt: "What's your company name?", Kind: validate.KindName},
			{
				Field:  "tech_domain",
				Prompt: "Select your company's primary tech domain",
				Kind:   validate.KindSingleChoice,
				Choices: []string{
					"Web Development", "Mobile Development", "Cloud Computing",
					"AI/Machine Learning", "Cybersecurity", "Data Science",
				},
			},
			{
				Field:  "required_skills",
				Prompt: "Select skill sets required for your team",
				Kind:   validate.KindMultiChoice,
				Choices: []string{
					"React", "Node.js", "Python", "Java", "JavaScript",
					"TypeScript", "AWS", "Docker", "Kubernetes",
					"Machine Learning", "SQL", "MongoDB",
				},
			},
		},
	}
}

// FlowByName resolves a registered flow. The second result is false for
// unknown names.
func FlowByName(name string) (Flow, bool) {
	switch name {
	case "talent", "":
		return TalentFlow(), true
	case "company":
		return CompanyFlow(), true
	default:
		return Flow{}, false
	}
}
