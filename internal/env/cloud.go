package env

import (
	"os"
	"strings"
)

// DefaultCloudTimezone is applied in cloud CI runs where the host zone is
// UTC and ephemeral; market-hours logic in the supervised system expects KST.
const DefaultCloudTimezone = "Asia/Seoul"

const (
	cloudIndicatorVar = "GITHUB_ACTIONS"
	systemModeVar     = "STOCK_ANALYSIS_ENV"
	cloudModeValue    = "github_actions"
)

// CloudCI reports whether this process runs under the hosted CI environment
// the service wrapper recognizes.
func CloudCI() bool {
	return strings.EqualFold(os.Getenv(cloudIndicatorVar), "true")
}

// ApplyCloudProfile pins the timezone for this process and marks the
// composed child environment as cloud-hosted so descendants inherit the
// same mode.
func (e *Env) ApplyCloudProfile(timezone string) {
	if timezone == "" {
		timezone = DefaultCloudTimezone
	}
	_ = os.Setenv("TZ", timezone)
	e.Set("TZ", timezone)
	e.Set("CI", "true")
	e.Set(systemModeVar, cloudModeValue)
}
