package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cabswale/raahi-agent/internal/session"
)

// systemPrompt assembles the per-round system prompt: base persona, a driver
// context block built only from the fields the caller actually supplied, and
// a note naming the active feature so the model skips redundant knowledge
// base lookups mid-flow.
func (l *Loop) systemPrompt(sess *session.Session) string {
	var b strings.Builder
	b.WriteString(l.basePrompt)

	if ctx := driverContext(sess); ctx != "" {
		b.WriteString("\n\n")
		b.WriteString(ctx)
	}
	if len(sess.UserData) > 0 {
		b.WriteString("\n\nUser Data:\n")
		b.WriteString(keyValueLines(sess.UserData))
	}
	if sess.ActiveFeature != "" {
		fmt.Fprintf(&b, "\n\nActive feature: %s. The %s flow is in progress; do not call %s unless the driver changes topic.",
			sess.ActiveFeature, sess.ActiveFeature, ToolFetchKnowledgeBase)
	}
	return b.String()
}

func driverContext(sess *session.Session) string {
	dp := sess.DriverProfile
	if dp == nil {
		return ""
	}
	var sections []string

	var basic []string
	if dp.Name != "" {
		basic = append(basic, "- Name: "+dp.Name)
	}
	if dp.Gender != "" {
		basic = append(basic, "- Gender: "+dp.Gender)
	}
	if dp.City != "" {
		basic = append(basic, "- City: "+dp.City)
	}
	if dp.VehicleType != "" || dp.VehicleNumber != "" {
		basic = append(basic, fmt.Sprintf("- Vehicle: %s (%s)", orNotSet(dp.VehicleType), orNotSet(dp.VehicleNumber)))
	}
	if loc := sess.CurrentLocation; loc != nil {
		basic = append(basic, fmt.Sprintf("- Current Location: (%g, %g)", loc.Latitude, loc.Longitude))
	}
	if len(basic) > 0 {
		sections = append(sections, "Driver Context:\n"+strings.Join(basic, "\n"))
	}

	var verification []string
	if dp.ProfileVerified != nil {
		verification = append(verification, "- Profile Verified: "+yesNo(*dp.ProfileVerified))
	}
	if dp.AadhaarVerified != nil {
		verification = append(verification, "- Aadhaar Verified: "+yesNo(*dp.AadhaarVerified))
	}
	if dp.DLVerified != nil {
		verification = append(verification, "- DL Verified: "+yesNo(*dp.DLVerified))
	}
	if dp.Fraud != nil {
		reports := 0
		if dp.FraudReports != nil {
			reports = *dp.FraudReports
		}
		verification = append(verification, fmt.Sprintf("- Fraud Reported: %s (Reports: %d)", yesNo(*dp.Fraud), reports))
	}
	if len(verification) > 0 {
		sections = append(sections, "Verification Status:\n"+strings.Join(verification, "\n"))
	}

	var stats []string
	if dp.Connections != nil {
		stats = append(stats, fmt.Sprintf("- Connections: %d", *dp.Connections))
	}
	if dp.TotalEarnings != nil {
		stats = append(stats, fmt.Sprintf("- Total Earnings: %g", *dp.TotalEarnings))
	}
	if dp.ConfirmedTrips != nil {
		stats = append(stats, fmt.Sprintf("- Confirmed Trips: %d", *dp.ConfirmedTrips))
	}
	if dp.CustomerCalls != nil {
		stats = append(stats, fmt.Sprintf("- Customer Calls: %d", *dp.CustomerCalls))
	}
	if dp.IsPremium != nil {
		stats = append(stats, "- Premium: "+yesNo(*dp.IsPremium))
	}
	if len(stats) > 0 {
		sections = append(sections, "Stats:\n"+strings.Join(stats, "\n"))
	}

	if len(dp.Languages) > 0 {
		sections = append(sections, "Languages: "+strings.Join(dp.Languages, ", "))
	}
	return strings.Join(sections, "\n\n")
}

func keyValueLines(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, data[k]))
	}
	return strings.Join(lines, "\n")
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func orNotSet(s string) string {
	if s == "" {
		return "Not set"
	}
	return s
}
