package session

import (
	"strings"
	"time"
)

// ChinaLocation returns Asia/Shanghai, falling back to a fixed UTC+8 zone when tzdata is unavailable.
// China does not observe daylight saving time, so the fallback is exact.
func ChinaLocation() *time.Location {
	if loc, err := time.LoadLocation("Asia/Shanghai"); err == nil {
		return loc
	}
	return time.FixedZone("CST", 8*60*60)
}

// XSHG returns the Shanghai Stock Exchange session: 09:30-15:00 with an 11:30-13:00 lunch break.
func XSHG(loc *time.Location) ExchangeConfig {
	return ExchangeConfig{
		Code: "XSHG",
		Name: "Shanghai Stock Exchange",
		TradingHours: TradingHours{
			OpenHour:    9,
			OpenMinute:  30,
			CloseHour:   15,
			CloseMinute: 0,
		},
		Timezone: loc,
		LunchBreak: &LunchBreak{
			StartHour:   11,
			StartMinute: 30,
			EndHour:     13,
			EndMinute:   0,
		},
	}
}

// XSHE returns the Shenzhen Stock Exchange session, which shares Shanghai's hours.
func XSHE(loc *time.Location) ExchangeConfig {
	cfg := XSHG(loc)
	cfg.Code = "XSHE"
	cfg.Name = "Shenzhen Stock Exchange"
	return cfg
}

// ExchangeCodeFor infers the listing exchange from an A-share security code.
// Codes starting with 6 (or 9 for B shares) list in Shanghai, the rest in Shenzhen.
func ExchangeCodeFor(securityID string) string {
	id := strings.TrimSpace(strings.ToLower(securityID))
	id = strings.TrimPrefix(strings.TrimPrefix(id, "sh"), "sz")
	if strings.HasPrefix(id, "6") || strings.HasPrefix(id, "9") {
		return "XSHG"
	}
	return "XSHE"
}
