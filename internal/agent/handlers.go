package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cabswale/raahi-agent/internal/knowledge"
	"github.com/cabswale/raahi-agent/internal/session"
	"github.com/cabswale/raahi-agent/internal/tool"
)

// Builtin handler names referenced by feature tool configs.
const (
	HandlerVerifyOTP  = "verifyAadhaarOTP"
	HandlerFraudCheck = "checkFraudRating"
)

func (l *Loop) registerHandlers() {
	l.exec.Register(ToolFetchKnowledgeBase, l.fetchKnowledgeBase)
	l.exec.Register(ToolFetchFeaturePrompt, l.fetchFeaturePrompt)
	l.exec.Register(ToolOpenScreen, l.openScreen)
	l.exec.Register(HandlerVerifyOTP, l.verifyOTP)
	l.exec.Register(HandlerFraudCheck, l.checkFraud)
}

// fetchKnowledgeBase resolves the driver's request against the knowledge
// base. When the best feature match differs from the session's active
// feature the driver has changed topic: the active feature, its action
// constraint and its unlocked tools are all dropped.
func (l *Loop) fetchKnowledgeBase(ctx context.Context, args map[string]any, sess *session.Session) (tool.Outcome, error) {
	if l.knowledge == nil {
		return tool.Outcome{Message: "Knowledge base is not available."}, nil
	}
	query := argString(args, "query")
	if query == "" {
		return tool.Outcome{Message: "Knowledge base query was empty, ask the driver to clarify."}, nil
	}

	results, err := l.knowledge.Query(ctx, query, l.topK)
	if err != nil {
		l.logger.Error("knowledge query failed", "session", sess.ID, "error", err)
		return tool.Outcome{Message: "Knowledge base is unavailable right now, answer from general knowledge."}, nil
	}
	if len(results) == 0 {
		return tool.Outcome{Message: "No knowledge base entry matched this request. Answer from general knowledge."}, nil
	}

	if matched := firstFeature(results); matched != "" && sess.ActiveFeature != "" && matched != sess.ActiveFeature {
		l.logger.Info("topic change detected",
			"session", sess.ID, "from", sess.ActiveFeature, "to", matched)
		sess.ActiveFeature = ""
		sess.MatchedAction = nil
		sess.ResetTools(BaseTools())
	}

	var b strings.Builder
	b.WriteString("Knowledge base matches:\n")
	for _, r := range results {
		switch r.Entry.Type {
		case knowledge.TypeFeature:
			fmt.Fprintf(&b, "- Feature %q: %s. To start this flow call %s with featureName=%q.\n",
				r.Entry.FeatureName, r.Entry.Desc, ToolFetchFeaturePrompt, r.Entry.FeatureName)
		default:
			fmt.Fprintf(&b, "- Info: %s\n", r.Entry.Content)
		}
	}
	return tool.Outcome{Message: b.String()}, nil
}

// fetchFeaturePrompt loads a feature: its prompt becomes the tool result,
// its tools are unlocked on the session and its actions become the respond
// constraint for the rest of the turn.
func (l *Loop) fetchFeaturePrompt(ctx context.Context, args map[string]any, sess *session.Session) (tool.Outcome, error) {
	name := argString(args, "featureName")
	f, ok := l.registry.Snapshot().GetFeature(name)
	if !ok {
		return tool.Outcome{Message: fmt.Sprintf("Feature %q not found.", name)}, nil
	}

	sess.ActiveFeature = f.FeatureName
	toolNames := make([]string, 0, len(f.Tools))
	for _, tc := range f.Tools {
		toolNames = append(toolNames, tc.Name)
	}
	sess.AddTools(toolNames...)
	sess.MatchedAction = &session.ActionConstraint{
		FeatureName:   f.FeatureName,
		Actions:       f.ActionNames(),
		DefaultAction: f.DefaultAction,
		DataSchema:    f.DataSchema,
	}

	msg := f.Prompt
	if msg == "" {
		msg = fmt.Sprintf("Feature %q loaded.", f.FeatureName)
	}
	return tool.Outcome{Message: msg}, nil
}

func (l *Loop) openScreen(ctx context.Context, args map[string]any, sess *session.Session) (tool.Outcome, error) {
	screen := argString(args, "screen")
	if screen == "" {
		return tool.Outcome{Message: "No screen name given."}, nil
	}
	return tool.Outcome{
		Message: fmt.Sprintf("Opening the %s screen for the driver.", screen),
		Screen:  screen,
	}, nil
}

// verifyOTP checks the driver's one-time password for the aadhaar flow.
func (l *Loop) verifyOTP(ctx context.Context, args map[string]any, sess *session.Session) (tool.Outcome, error) {
	if l.otp == nil {
		return tool.Outcome{Message: "OTP verification is not available right now."}, nil
	}
	otp := argString(args, "otp")
	if otp == "" {
		return tool.Outcome{Message: "No OTP was provided. Ask the driver for the 6-digit code."}, nil
	}
	driverID := ""
	if sess.DriverProfile != nil {
		driverID = sess.DriverProfile.ID
	}
	verified, message, err := l.otp.Verify(ctx, driverID, otp)
	if err != nil {
		l.logger.Error("otp verification failed", "session", sess.ID, "error", err)
		return tool.Outcome{Message: "OTP verification service failed. Ask the driver to try again later."}, nil
	}
	if !verified {
		if message == "" {
			message = "the code did not match"
		}
		return tool.Outcome{Message: "OTP verification failed: " + message + ". Ask the driver to re-check the code."}, nil
	}
	return tool.Outcome{
		Message: "OTP verified successfully. The driver's aadhaar verification is complete.",
		Data:    map[string]any{"otpVerified": true},
	}, nil
}

// checkFraud resolves a phone number to a fraud rating. The rating key
// doubles as the pre-recorded audio key the app plays.
func (l *Loop) checkFraud(ctx context.Context, args map[string]any, sess *session.Session) (tool.Outcome, error) {
	if l.fraud == nil {
		return tool.Outcome{Message: "Fraud check is not available right now."}, nil
	}
	phone := argString(args, "phone_number")
	if phone == "" {
		phone = argString(args, "phoneNo")
	}
	if phone == "" {
		return tool.Outcome{Message: "No phone number was provided. Ask the driver for the number to check."}, nil
	}
	key, payload, err := l.fraud.CheckRating(ctx, phone)
	if err != nil {
		l.logger.Error("fraud check failed", "session", sess.ID, "error", err)
		return tool.Outcome{Message: "Fraud check service failed. Ask the driver to try again later."}, nil
	}
	return tool.Outcome{
		Message:  fmt.Sprintf("Fraud check result for %s: %s.", phone, key),
		AudioKey: key,
		Data:     payload,
	}, nil
}

func firstFeature(results []knowledge.Result) string {
	for _, r := range results {
		if r.Entry.Type == knowledge.TypeFeature && r.Entry.FeatureName != "" {
			return r.Entry.FeatureName
		}
	}
	return ""
}
