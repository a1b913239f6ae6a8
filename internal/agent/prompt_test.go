package agent

import (
	"strings"
	"testing"

	"github.com/cabswale/raahi-agent/internal/session"
	"github.com/cabswale/raahi-agent/internal/testutil"
)

func boolPtr(b bool) *bool    { return &b }
func intPtr(n int) *int       { return &n }
func f64Ptr(f float64) *float64 { return &f }

func TestSystemPrompt(t *testing.T) {
	l := newTestLoop(t, testutil.NewScriptedGenerator(), Deps{})

	t.Run("bare session is just the base prompt", func(t *testing.T) {
		sess := session.New("s-1", BaseTools())
		got := l.systemPrompt(sess)
		if got != "You are Raahi, a voice assistant for truck drivers." {
			t.Errorf("prompt = %q", got)
		}
	})

	t.Run("driver context includes only supplied fields", func(t *testing.T) {
		sess := session.New("s-1", BaseTools())
		sess.DriverProfile = &session.DriverProfile{
			Name:            "Ramesh",
			City:            "Jaipur",
			VehicleType:     "truck",
			AadhaarVerified: boolPtr(true),
			Fraud:           boolPtr(false),
			FraudReports:    intPtr(0),
			ConfirmedTrips:  intPtr(12),
			TotalEarnings:   f64Ptr(45000),
			Languages:       []string{"hi", "mr"},
		}
		got := l.systemPrompt(sess)

		for _, want := range []string{
			"- Name: Ramesh",
			"- City: Jaipur",
			"- Vehicle: truck (Not set)",
			"- Aadhaar Verified: Yes",
			"- Fraud Reported: No (Reports: 0)",
			"- Confirmed Trips: 12",
			"Languages: hi, mr",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("prompt missing %q:\n%s", want, got)
			}
		}
		for _, absent := range []string{"- Gender:", "- Profile Verified:", "- Connections:", "- Premium:"} {
			if strings.Contains(got, absent) {
				t.Errorf("prompt contains unset field %q", absent)
			}
		}
	})

	t.Run("user data is sorted by key", func(t *testing.T) {
		sess := session.New("s-1", BaseTools())
		sess.UserData = map[string]any{"zone": "north", "appVersion": "3.2"}
		got := l.systemPrompt(sess)

		if !strings.Contains(got, "User Data:\n- appVersion: 3.2\n- zone: north") {
			t.Errorf("user data block wrong:\n%s", got)
		}
	})

	t.Run("active feature adds the lookup suppression note", func(t *testing.T) {
		sess := session.New("s-1", BaseTools())
		sess.ActiveFeature = "find_duties"
		got := l.systemPrompt(sess)

		if !strings.Contains(got, "Active feature: find_duties") {
			t.Errorf("prompt missing active feature note:\n%s", got)
		}
		if !strings.Contains(got, "do not call fetchKnowledgeBase") {
			t.Errorf("prompt missing suppression instruction:\n%s", got)
		}
	})
}
