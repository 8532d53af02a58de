package service

import (
	"log/slog"
	"strings"

	"github.com/prana-labs/wellness-backend/internal/model"
)

// Term sets evaluated by the classifier. Kept as ordered slices so flag
// emission and disclaimer order are stable across runs.
var (
	emergencyTerms = []string{
		"suicide", "kill myself", "harm myself", "emergency", "call 911",
		"unconscious", "bleeding", "heart failure", "heart attack", "stroke",
	}

	pregnancyTerms = []string{
		"pregnant", "pregnancy", "trimester", "prenatal", "expecting baby",
		"baby bump", "morning sickness",
	}

	medicalConditionTerms = []string{
		"hernia", "glaucoma", "high blood pressure", "hypertension", "surgery",
		"operation", "fracture", "arthritis", "sciatica", "slip disc", "slipped disc",
		"spinal injury", "cardiac", "cancer", "tumor",
	}
)

const (
	emergencyDisclaimer  = "Please call emergency services immediately if this is a medical emergency."
	highRiskDisclaimer   = "Please consult a doctor or certified yoga therapist before attempting these practices."
	mediumRiskDisclaimer = "Practice with caution and listen to your body."
	pregnancyDisclaimer  = "Prenatal yoga should be practiced under expert guidance."
)

// SafetyConfig tunes the classifier thresholds.
type SafetyConfig struct {
	Enabled                  bool
	MedicalAdviceThreshold   float64 // severity assigned to pregnancy-related flags
	CrisisDetectionThreshold float64 // severity at and above which responses are blocked
}

// DefaultSafetyConfig returns the production tuning.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		Enabled:                  true,
		MedicalAdviceThreshold:   0.8,
		CrisisDetectionThreshold: 0.9,
	}
}

// SafetyFilter deterministically assesses query risk using rule-based term
// matching. Pure function of (query, configured term sets); no network
// calls, bounded time, never panics outward.
type SafetyFilter struct {
	cfg SafetyConfig
}

// NewSafetyFilter creates a SafetyFilter.
func NewSafetyFilter(cfg SafetyConfig) *SafetyFilter {
	if cfg.MedicalAdviceThreshold <= 0 || cfg.MedicalAdviceThreshold > 1 {
		cfg.MedicalAdviceThreshold = 0.8
	}
	if cfg.CrisisDetectionThreshold <= 0 || cfg.CrisisDetectionThreshold > 1 {
		cfg.CrisisDetectionThreshold = 0.9
	}
	return &SafetyFilter{cfg: cfg}
}

// EvaluateQuery assesses a user query. The contract is that it must not
// fail: any internal panic is recovered into a permissive low-risk
// assessment and logged.
func (f *SafetyFilter) EvaluateQuery(query string) (assessment model.SafetyAssessment) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("safety filter internal failure, substituting permissive assessment", "panic", r)
			assessment = permissiveAssessment()
		}
	}()

	if !f.cfg.Enabled {
		return permissiveAssessment()
	}

	queryLower := strings.ToLower(query)
	var flags []model.SafetyFlag

	// 1. Emergency short-circuit.
	for _, term := range emergencyTerms {
		if strings.Contains(queryLower, term) {
			return model.SafetyAssessment{
				Flags: []model.SafetyFlag{{
					Type:             model.FlagEmergency,
					Severity:         1.0,
					Description:      "Emergency keywords detected",
					MitigationAction: "Direct to emergency services immediately.",
				}},
				RiskLevel:           model.RiskCritical,
				AllowResponse:       false,
				RequiredDisclaimers: []string{emergencyDisclaimer},
			}
		}
	}

	// 2. Pregnancy terms.
	for _, term := range pregnancyTerms {
		if strings.Contains(queryLower, term) {
			flags = append(flags, model.SafetyFlag{
				Type:             model.FlagMedicalAdvice,
				Severity:         f.cfg.MedicalAdviceThreshold,
				Description:      "Pregnancy-related terms detected",
				MitigationAction: "Provide generic safe info only, warn to consult doctor.",
			})
		}
	}

	// 3. Medical conditions — one flag per query is enough.
	for _, term := range medicalConditionTerms {
		if strings.Contains(queryLower, term) {
			flags = append(flags, model.SafetyFlag{
				Type:             model.FlagMedicalAdvice,
				Severity:         0.7,
				Description:      "Medical condition detected: " + term,
				MitigationAction: "Warn to consult doctor/therapist. Do not prescribe.",
			})
			break
		}
	}

	// 4. Aggregate.
	riskLevel := model.RiskLow
	allowResponse := true
	var disclaimers []string

	if len(flags) > 0 {
		maxSeverity := 0.0
		for _, fl := range flags {
			if fl.Severity > maxSeverity {
				maxSeverity = fl.Severity
			}
		}

		switch {
		case maxSeverity >= f.cfg.CrisisDetectionThreshold:
			riskLevel = model.RiskCritical
			allowResponse = false
		case maxSeverity >= 0.7:
			riskLevel = model.RiskHigh
			disclaimers = append(disclaimers, highRiskDisclaimer)
		case maxSeverity >= 0.4:
			riskLevel = model.RiskMedium
			disclaimers = append(disclaimers, mediumRiskDisclaimer)
		}

		for _, fl := range flags {
			if strings.HasPrefix(fl.Description, "Pregnancy") {
				disclaimers = append(disclaimers, pregnancyDisclaimer)
				break
			}
		}
	}

	return model.SafetyAssessment{
		Flags:               flags,
		RiskLevel:           riskLevel,
		AllowResponse:       allowResponse,
		RequiredDisclaimers: dedupeStable(disclaimers),
	}
}

// EvaluateResponse assesses generated output. The current rule set has no
// response-side checks, so this always passes.
func (f *SafetyFilter) EvaluateResponse(response, query string) model.SafetyAssessment {
	return permissiveAssessment()
}

func permissiveAssessment() model.SafetyAssessment {
	return model.SafetyAssessment{
		Flags:               []model.SafetyFlag{},
		RiskLevel:           model.RiskLow,
		AllowResponse:       true,
		RequiredDisclaimers: []string{},
	}
}

// dedupeStable removes duplicates while preserving first-occurrence order.
func dedupeStable(items []string) []string {
	if len(items) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}
