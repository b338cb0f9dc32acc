package license

// NormalizedEvent is a purchase-status notification reduced to the two
// fields the ingestor acts on.
type NormalizedEvent struct {
	Email          string
	PurchaseStatus string
}

// Upstream billing payloads place the purchase status and buyer email at
// different depths depending on the event version. Each rule is a path into
// the raw JSON object; rules are applied in order until one yields a
// non-empty string.
var (
	statusRules = [][]string{
		{"data", "purchase", "status"},
		{"purchase", "status"},
		{"status"},
	}
	emailRules = [][]string{
		{"data", "buyer", "email"},
		{"buyer", "email"},
		{"data", "purchase", "buyer", "email"},
		{"purchase", "buyer", "email"},
	}
)

// ExtractEvent applies the extraction rules to a raw webhook payload.
// ok is false when either field could not be found; such events are
// accepted and ignored rather than treated as failures.
func ExtractEvent(payload map[string]interface{}) (event NormalizedEvent, ok bool) {
	status := extractString(payload, statusRules)
	email := extractString(payload, emailRules)
	if status == "" || email == "" {
		return NormalizedEvent{}, false
	}
	return NormalizedEvent{
		Email:          NormalizeEmail(email),
		PurchaseStatus: status,
	}, true
}

// extractString walks each rule path through nested JSON objects and
// returns the first non-empty string value found.
func extractString(payload map[string]interface{}, rules [][]string) string {
	for _, rule := range rules {
		current := interface{}(payload)
		for _, key := range rule {
			obj, isObj := current.(map[string]interface{})
			if !isObj {
				current = nil
				break
			}
			current = obj[key]
		}
		if s, isStr := current.(string); isStr && s != "" {
			return s
		}
	}
	return ""
}
