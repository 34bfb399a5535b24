package gateway

import (
	"net/url"
	"strings"
	"time"
)

// DefaultTreasuryBaseURL is the daily par yield curve XML view.
const DefaultTreasuryBaseURL = "https://home.treasury.gov/resource-center/data-chart-center/interest-rates/pages/xmlview"

// MonthURL 按年月拼接当月的收益率曲线 feed 地址。
func MonthURL(base string, date time.Time) string {
	if base == "" {
		base = DefaultTreasuryBaseURL
	}
	q := url.Values{}
	q.Set("data", "daily_treasury_yield_curve")
	q.Set("field_tdr_date_value_month", date.Format("200601"))

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}
