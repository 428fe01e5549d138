package sqlrepo

import (
	"time"

	"github.com/klaytn-labs/otc-broker-engine/decimal"
)

func secondsToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

func parseDecimal(s string) (decimal.D, error) {
	return decimal.Parse(s)
}
