package reconcilesubscriptions

type Input struct {
	Tenants     []string `json:"tenants,omitempty"`
	WindowHours int      `json:"windowHours,omitempty"`
	Heal        *bool    `json:"heal,omitempty"`
}

type Output struct {
	Checked       int      `json:"checked"`
	Matched       int      `json:"matched"`
	Gaps          int      `json:"gaps"`
	Healed        int      `json:"healed"`
	HealFailed    int      `json:"healFailed"`
	GapTxns       []string `json:"gapTransactionIds"`
	FailedTenants []string `json:"failedTenants,omitempty"`
	ReportSent    bool     `json:"reportSent"`
	CompletedAt   string   `json:"completedAt"`
}
