package i18n

// Domains used by the audit subsystem
const (
	DomainAudit    = "Audit"
	DomainMessages = "messages"
)

// defaults are the built-in English messages. Files in the catalog directory
// override them key by key.
func defaults() map[string]map[string]string {
	return map[string]map[string]string{
		DomainAudit: {
			"entity":        "entity",
			"entity.create": "Created",
			"entity.update": "Updated",
			"entity.remove": "Removed",
		},
		DomainMessages: {
			"audit.AUTHENTICATION": "Authentication",
			"audit.DATABASE":       "Database",
			"audit.ETL_PIPELINE":   "ETL pipeline",
			"audit.EXCEPTION":      "Exception",
			"audit.EXTERNAL_CALL":  "External call",

			"audit.invalid_category": "Invalid type: %type%. Allowed types: %allowed%",
		},
	}
}
