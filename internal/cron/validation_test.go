package cron

import "testing"

func TestValidateCronExprAcceptsValid(t *testing.T) {
	for _, expr := range []string{"0 * * * *", "*/5 9-17 * * 1-5", "30 9 1,15 * *", "0 0 * * 0"} {
		if err := ValidateCronExpr(expr); err != nil {
			t.Fatalf("expected %q to be valid, got %v", expr, err)
		}
	}
}

func TestValidateCronExprRejectsInvalid(t *testing.T) {
	for _, expr := range []string{
		"* * *", "* * * * * *", "60 * * * *", "* 24 * * *",
		"* * 0 * *", "* * * 13 *", "* * * * 7", "*/0 * * * *", "abc * * * *",
	} {
		if err := ValidateCronExpr(expr); err == nil {
			t.Fatalf("expected %q to be rejected", expr)
		}
	}
}

func TestValidateTimezone(t *testing.T) {
	for _, tz := range []string{"UTC", "America/New_York", "Europe/London", "Asia/Tokyo"} {
		if err := ValidateTimezone(tz); err != nil {
			t.Fatalf("expected %q to be valid, got %v", tz, err)
		}
	}
	for _, tz := range []string{"Not/Real", "", "GMT+5", "FakeZone"} {
		if err := ValidateTimezone(tz); err == nil {
			t.Fatalf("expected %q to be rejected", tz)
		}
	}
}

func TestValidateFetchURLAcceptsValid(t *testing.T) {
	for _, u := range []string{
		"https://example.com", "http://example.com/path?q=1",
		"https://8.8.8.8/dns", "https://sub.domain.com:8443/api",
	} {
		if err := ValidateFetchURL(u); err != nil {
			t.Fatalf("expected %q to be valid, got %v", u, err)
		}
	}
}

func TestValidateFetchURLRejectsNonHTTP(t *testing.T) {
	for _, u := range []string{"ftp://example.com", "file:///etc/passwd", "javascript:alert(1)", "gopher://evil.com"} {
		if err := ValidateFetchURL(u); err == nil {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}

func TestValidateFetchURLRejectsPrivateIPs(t *testing.T) {
	for _, u := range []string{
		"http://127.0.0.1", "http://127.0.0.1:8080/api", "http://10.0.0.1",
		"http://172.16.0.1", "http://192.168.1.1", "http://169.254.169.254/latest/meta-data/",
		"http://0.0.0.0",
	} {
		if err := ValidateFetchURL(u); err == nil {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}

func TestValidateFetchURLRejectsLocalhost(t *testing.T) {
	for _, u := range []string{"http://localhost", "http://localhost:3000", "https://app.localhost/api"} {
		if err := ValidateFetchURL(u); err == nil {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}

func TestValidateFetchURLRejectsMetadataHost(t *testing.T) {
	if err := ValidateFetchURL("http://metadata.google.internal"); err == nil {
		t.Fatal("expected the cloud metadata hostname to be rejected")
	}
}

func TestValidateFetchURLRejectsIPv6Loopback(t *testing.T) {
	for _, u := range []string{"http://[::1]", "http://[::1]:8080/path"} {
		if err := ValidateFetchURL(u); err == nil {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}

func TestValidateFetchURLRejectsEmptyHost(t *testing.T) {
	for _, u := range []string{"http://", "http:///path"} {
		if err := ValidateFetchURL(u); err == nil {
			t.Fatalf("expected %q to be rejected", u)
		}
	}
}
