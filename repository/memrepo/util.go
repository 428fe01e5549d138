package memrepo

import (
	"strconv"
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

func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
