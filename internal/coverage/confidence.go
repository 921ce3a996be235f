package coverage

// OutcomeConfidence grades a provider's answer from the share of its
// sub-queries that succeeded and the share of available services with a
// strong signal.
func OutcomeConfidence(succeeded, attempted int, services []ServiceCoverage) Confidence {
	if attempted == 0 {
		return ConfidenceLow
	}
	successRate := float64(succeeded) / float64(attempted)

	var available, strong int
	for _, s := range services {
		if !s.Available {
			continue
		}
		available++
		if s.Signal.Strong() {
			strong++
		}
	}
	strongRatio := 0.0
	if available > 0 {
		strongRatio = float64(strong) / float64(available)
	}

	switch {
	case successRate >= 0.8 && strongRatio >= 0.6:
		return ConfidenceHigh
	case successRate < 0.5 || (available > 0 && strongRatio < 0.3):
		return ConfidenceLow
	default:
		return ConfidenceMedium
	}
}

// NewOutcome assembles a provider outcome from its service records.
func NewOutcome(services []ServiceCoverage, confidence Confidence, metadata map[string]any) ProviderOutcome {
	if services == nil {
		services = []ServiceCoverage{}
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	out := ProviderOutcome{
		Confidence: confidence,
		Services:   services,
		Metadata:   metadata,
	}
	for _, s := range services {
		if s.Available {
			out.Available = true
			break
		}
	}
	return out
}
