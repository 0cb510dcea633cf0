package cron

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ValidateCronExpr validates a 5-field cron expression, naming the first
// malformed field. Grounded on original_source's validate_cron /
// validate_cron_field (schedules/validation.rs).
func ValidateCronExpr(expr string) error {
	fields, err := ParseFields(expr)
	if err != nil {
		return err
	}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}
	ranges := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	for i, field := range fields {
		if err := validateCronField(field, names[i], ranges[i][0], ranges[i][1]); err != nil {
			return err
		}
	}
	return nil
}

func validateCronField(field, name string, min, max int) error {
	if field == "*" {
		return nil
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil {
			return fmt.Errorf("%s: invalid step '*/%s' — expected a number", name, step)
		}
		if n == 0 || n > max {
			return fmt.Errorf("%s: step %d out of range 1..=%d", name, n, max)
		}
		return nil
	}
	for _, part := range strings.Split(field, ",") {
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 != nil {
				return fmt.Errorf("%s: invalid range start '%s'", name, lo)
			}
			if err2 != nil {
				return fmt.Errorf("%s: invalid range end '%s'", name, hi)
			}
			if start < min || start > max || end < min || end > max {
				return fmt.Errorf("%s: range %d-%d out of bounds %d..=%d", name, start, end, min, max)
			}
			if start > end {
				return fmt.Errorf("%s: range start %d > end %d", name, start, end)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return fmt.Errorf("%s: invalid value '%s'", name, part)
		}
		if n < min || n > max {
			return fmt.Errorf("%s: value %d out of range %d..=%d", name, n, min, max)
		}
	}
	return nil
}

// ValidateTimezone validates an IANA timezone name.
func ValidateTimezone(tz string) error {
	if strings.TrimSpace(tz) == "" {
		return fmt.Errorf("invalid timezone: '' — use IANA names like 'America/New_York' or 'UTC'")
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone: %q — use IANA names like 'America/New_York' or 'UTC'", tz)
	}
	return nil
}

// ValidateFetchURL validates a source or webhook URL for SSRF safety: must
// be http(s), must not carry userinfo, and must not resolve to a
// loopback/private/link-local/unspecified address or a known metadata
// hostname. Grounded on original_source's validate_url
// (schedules/validation.rs).
func ValidateFetchURL(raw string) error {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return fmt.Errorf("URL must use http or https scheme")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.User != nil {
		return fmt.Errorf("URL must not carry userinfo")
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has empty host")
	}
	hostLower := strings.ToLower(host)
	if hostLower == "localhost" || strings.HasSuffix(hostLower, ".localhost") || hostLower == "metadata.google.internal" {
		return fmt.Errorf("URL must not target internal host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDisallowedIP(ip) {
			return fmt.Errorf("URL must not target private/internal IP: %s", ip)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return v4.IsLoopback() || v4.IsPrivate() || v4.IsLinkLocalUnicast() ||
			v4.IsUnspecified() || v4.Equal(net.IPv4bcast)
	}
	return ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast()
}
