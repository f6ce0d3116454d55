package domain

// Statistics is the summary shown on the dashboards. Counts are always recomputed
// from a single snapshot; nothing here is stored.
type Statistics struct {
	TotalDomains        int `json:"total_domains"`
	ActiveDomains       int `json:"active_domains"`
	DomainsWithErrors   int `json:"domains_with_errors"`
	DomainsExpiringSoon int `json:"domains_expiring_soon"`
	DomainsExpired      int `json:"domains_expired"`
}

// Aggregate counts a snapshot of classified domains.
func Aggregate(statuses []DomainStatus) Statistics {
	var stats Statistics
	for _, s := range statuses {
		stats.TotalDomains++
		if s.IsActive {
			stats.ActiveDomains++
		}

		switch s.Status {
		case StatusError:
			stats.DomainsWithErrors++
		case StatusWarning, StatusCritical:
			stats.DomainsExpiringSoon++
		case StatusExpired:
			stats.DomainsExpired++
		}
	}
	return stats
}
